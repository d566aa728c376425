/**
 * @description
 * Notification payloads sent to the admin channel and the events carried on the
 * live balance / bank-destination feeds.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind selects the admin-channel message template.
type NotificationKind string

const (
	NotifySignup        NotificationKind = "signup"
	NotifyLogin         NotificationKind = "login"
	NotifyDeposit       NotificationKind = "deposit"
	NotifyPendingDigest NotificationKind = "pending_digest"
)

// Notification is a one-way message for the admin channel. For deposits it carries the
// transaction id that the approve/decline callbacks address.
type Notification struct {
	Kind          NotificationKind `json:"type"`
	Email         string           `json:"email,omitempty"`
	Phone         string           `json:"phone,omitempty"`
	AccountID     string           `json:"userId,omitempty"`
	Amount        int64            `json:"amount,omitempty"`
	TransactionID string           `json:"transactionId,omitempty"`
	Pending       []Transaction    `json:"pending,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// ActivityType is the kind of recorded user activity.
type ActivityType string

const (
	ActivityLogin  ActivityType = "login"
	ActivitySignup ActivityType = "signup"
)

// ActivityLog is an entry in the login/registration audit trail.
type ActivityLog struct {
	ID        uuid.UUID    `json:"id"`
	AccountID uuid.UUID    `json:"user_id"`
	Type      ActivityType `json:"type"`
	Email     string       `json:"user_email"`
	Details   string       `json:"details,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// BalanceEvent is published on the balance feed after every committed balance change.
type BalanceEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Balances
	// Resolved is set when the change settles a deposit, so clients can leave their
	// pending-approval state on a real server outcome.
	Resolved *DepositResolution `json:"resolved,omitempty"`
}

// DepositResolution describes the terminal state a deposit reached.
type DepositResolution struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
}
