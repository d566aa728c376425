package app

import (
	"fmt"
	"strings"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CallbackAction is the settlement an inline button asks for.
type CallbackAction string

const (
	ActionApprove CallbackAction = "approve"
	ActionDecline CallbackAction = "decline"
)

// CallbackAddress identifies the deposit a callback refers to. It is either a
// DirectAddress or a LegacyAddress.
type CallbackAddress interface {
	isCallbackAddress()
}

// DirectAddress names the transaction by id.
type DirectAddress struct {
	TransactionID uuid.UUID
}

// LegacyAddress names the most recent pending deposit of Amount for AccountID. Buttons
// sent before deposits carried their transaction id use this form.
type LegacyAddress struct {
	AccountID uuid.UUID
	Amount    int64
}

func (DirectAddress) isCallbackAddress() {}
func (LegacyAddress) isCallbackAddress() {}

// Callback is a decoded inline-button payload. Addresses are tried in order and the
// first one that resolves to a transaction wins.
type Callback struct {
	Action    CallbackAction
	Addresses []CallbackAddress
}

// FormatCallback encodes the direct form, approve_<transactionID>.
func FormatCallback(action CallbackAction, transactionID string) string {
	return string(action) + "_" + transactionID
}

// ParseCallback decodes callback data of the form
//
//	<action>_<transactionID>
//	<action>_<accountID>_<amount>
//
// where action is approve or decline. In the three-part form the middle field is
// also tried as a transaction id before falling back to the legacy lookup.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(strings.TrimSpace(data), "_")
	if len(parts) < 2 || len(parts) > 3 {
		return Callback{}, domain.NewValidationError("callback", fmt.Sprintf("malformed callback data %q", data))
	}

	action := CallbackAction(parts[0])
	if action != ActionApprove && action != ActionDecline {
		return Callback{}, domain.NewValidationError("callback", fmt.Sprintf("unknown action %q", parts[0]))
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Callback{}, domain.NewValidationError("callback", "reference is not a valid id")
	}
	cb := Callback{Action: action, Addresses: []CallbackAddress{DirectAddress{TransactionID: id}}}

	if len(parts) == 3 {
		amount, err := parseLegacyAmount(parts[2])
		if err != nil {
			return Callback{}, err
		}
		cb.Addresses = append(cb.Addresses, LegacyAddress{AccountID: id, Amount: amount})
	}
	return cb, nil
}

// parseLegacyAmount accepts whole naira amounts, including forms like "5000.00".
func parseLegacyAmount(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, domain.NewValidationError("amount", fmt.Sprintf("invalid amount %q", raw))
	}
	if !d.IsPositive() || !d.IsInteger() {
		return 0, domain.NewValidationError("amount", "amount must be a positive whole number")
	}
	return d.IntPart(), nil
}
