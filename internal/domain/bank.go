package domain

import (
	"strings"
	"time"
)

// BankDestination is the single current account users transfer deposits into.
type BankDestination struct {
	BankName      string    `json:"bank"`
	AccountNumber string    `json:"acc"`
	AccountName   string    `json:"name"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewBankDestination trims and validates the three required fields.
func NewBankDestination(bankName, accountNumber, accountName string) (BankDestination, error) {
	dest := BankDestination{
		BankName:      strings.TrimSpace(bankName),
		AccountNumber: strings.TrimSpace(accountNumber),
		AccountName:   strings.TrimSpace(accountName),
	}
	switch {
	case dest.BankName == "":
		return BankDestination{}, NewValidationError("bank", "bank name is required")
	case dest.AccountNumber == "":
		return BankDestination{}, NewValidationError("acc", "account number is required")
	case dest.AccountName == "":
		return BankDestination{}, NewValidationError("name", "account name is required")
	}
	return dest, nil
}
