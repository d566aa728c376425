package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ActivityService records logins and registrations and tells the admin channel about them.
type ActivityService struct {
	ledger     store.Ledger
	accounts   *SettlementService
	dispatcher *Dispatcher
	logger     logrus.FieldLogger
}

func NewActivityService(ledger store.Ledger, accounts *SettlementService, dispatcher *Dispatcher, logger logrus.FieldLogger) *ActivityService {
	return &ActivityService{
		ledger:     ledger,
		accounts:   accounts,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "activity"),
	}
}

// Record stores an activity entry for the caller. A signup also creates the account
// with its signup bonus; repeating it is harmless.
func (s *ActivityService) Record(ctx context.Context, accountID uuid.UUID, email string, activityType domain.ActivityType, phone string) (*domain.ActivityLog, error) {
	if activityType != domain.ActivityLogin && activityType != domain.ActivitySignup {
		return nil, domain.NewValidationError("type", "must be login or signup")
	}
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)

	if _, _, err := s.accounts.RegisterAccount(ctx, accountID, email); err != nil {
		return nil, err
	}

	entry := domain.ActivityLog{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      activityType,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if activityType == domain.ActivitySignup && phone != "" {
		entry.Details = fmt.Sprintf("📱 %s", phone)
	}
	if err := s.ledger.RecordActivity(ctx, entry); err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"account_id": accountID, "type": activityType}).Info("activity recorded")

	kind := domain.NotifyLogin
	if activityType == domain.ActivitySignup {
		kind = domain.NotifySignup
	}
	s.dispatcher.Dispatch(domain.Notification{
		Kind:       kind,
		Email:      email,
		Phone:      phone,
		AccountID:  accountID.String(),
		OccurredAt: entry.CreatedAt,
	})
	return &entry, nil
}
