/**
 * @description
 * This file contains the admin command interpreter. It turns inbound admin chat
 * updates (inline-button callbacks and slash commands) into settlement calls or
 * read-only reports, and delivers the resulting replies back to the chat.
 *
 * Key features:
 * - Callbacks resolve by transaction id first and fall back to the legacy
 *   account-and-amount lookup.
 * - A callback that resolves to nothing is an expected outcome and answered with a
 *   "not found or already processed" toast, not an error.
 * - Only the configured admin chat is served; everything else is ignored.
 *
 * @dependencies
 * - github.com/sirupsen/logrus: Structured logging.
 * - pkg/telegram: Inline keyboard types.
 */

package app

import (
	"context"
	"errors"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/pkg/telegram"
	"github.com/sirupsen/logrus"
)

const replyInternalError = "⚠️ Something went wrong while handling that command. Please try again."

// AdminChannel is the outbound side of the admin chat.
type AdminChannel interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// AdminResponse is what the bot does in answer to one update. Empty fields are skipped.
type AdminResponse struct {
	Intent string
	// Reply is sent as a new message to the chat the update came from.
	Reply string
	// Edit replaces the text of the message whose button was pressed.
	Edit string
	// Toast answers the callback query.
	Toast string
}

// AdminInterpreter handles updates from the admin chat.
type AdminInterpreter struct {
	settlement  *SettlementService
	reports     *ReportService
	channel     AdminChannel
	adminChatID int64
	metrics     *Metrics
	logger      logrus.FieldLogger
}

func NewAdminInterpreter(settlement *SettlementService, reports *ReportService, channel AdminChannel, adminChatID int64, metrics *Metrics, logger logrus.FieldLogger) *AdminInterpreter {
	return &AdminInterpreter{
		settlement:  settlement,
		reports:     reports,
		channel:     channel,
		adminChatID: adminChatID,
		metrics:     metrics,
		logger:      logger.WithField("component", "admin_interpreter"),
	}
}

// AdminChatID is the only chat the interpreter answers.
func (a *AdminInterpreter) AdminChatID() int64 {
	return a.adminChatID
}

// Handle interprets update and delivers the response. Delivery failures are returned
// after every part of the response has been attempted.
func (a *AdminInterpreter) Handle(ctx context.Context, update domain.TelegramUpdate) error {
	resp := a.Interpret(ctx, update)
	if a.channel == nil {
		return nil
	}

	var errs []error
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if resp.Edit != "" && cq.Message != nil {
			if err := a.channel.EditMessageText(ctx, cq.Message.Chat.ID, cq.Message.MessageID, resp.Edit); err != nil {
				errs = append(errs, err)
			}
		}
		if resp.Toast != "" {
			if err := a.channel.AnswerCallbackQuery(ctx, cq.ID, resp.Toast); err != nil {
				errs = append(errs, err)
			}
		}
	case update.Message != nil && resp.Reply != "":
		if err := a.channel.SendMessage(ctx, update.Message.Chat.ID, resp.Reply, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.WithField("intent", resp.Intent).WithError(err).Warn("failed to deliver admin reply")
		return err
	}
	return nil
}

// Interpret decides the response to update and performs any settlement it asks for.
// It never fails: problems are reported back to the admin as text.
func (a *AdminInterpreter) Interpret(ctx context.Context, update domain.TelegramUpdate) AdminResponse {
	var resp AdminResponse
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.Message != nil && cq.Message.Chat.ID != a.adminChatID {
			resp = AdminResponse{Intent: "ignored"}
			break
		}
		resp = a.interpretCallback(ctx, cq.Data)
	case update.Message != nil:
		if update.Message.Chat.ID != a.adminChatID {
			resp = AdminResponse{Intent: "ignored"}
			break
		}
		resp = a.InterpretText(ctx, update.Message.Text)
	default:
		resp = AdminResponse{Intent: "ignored"}
	}
	a.metrics.adminCommand(resp.Intent)
	return resp
}

func (a *AdminInterpreter) interpretCallback(ctx context.Context, data string) AdminResponse {
	cb, err := ParseCallback(data)
	if err != nil {
		a.logger.WithField("data", data).WithError(err).Info("unparseable callback")
		return AdminResponse{Intent: "not_found", Toast: replyNotFound}
	}

	tx, err := a.reports.ResolveCallback(ctx, cb)
	if err != nil {
		a.logger.WithField("data", data).WithError(err).Error("callback lookup failed")
		return AdminResponse{Intent: string(cb.Action), Toast: replyFailedToast}
	}
	if tx == nil {
		return AdminResponse{Intent: "not_found", Toast: replyNotFound}
	}

	var result *SettlementResult
	if cb.Action == ActionApprove {
		result, err = a.settlement.ApproveDeposit(ctx, tx.ID)
	} else {
		result, err = a.settlement.DeclineDeposit(ctx, tx.ID)
	}
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return AdminResponse{Intent: "not_found", Toast: replyNotFound}
		}
		return AdminResponse{Intent: string(cb.Action), Toast: replyFailedToast}
	}

	if result.AlreadyResolved {
		return AdminResponse{
			Intent: "already_resolved",
			Edit:   renderAlreadyResolved(result.Transaction),
			Toast:  replyNotFound,
		}
	}
	toast := replyApprovedToast
	if cb.Action == ActionDecline {
		toast = replyDeclinedToast
	}
	return AdminResponse{Intent: string(cb.Action), Edit: renderSettled(result.Transaction), Toast: toast}
}

// InterpretText handles a chat message from the admin.
func (a *AdminInterpreter) InterpretText(ctx context.Context, text string) AdminResponse {
	cmd, ok, parseErr := ParseCommand(text)
	if !ok {
		return AdminResponse{Intent: "ignored"}
	}

	intent := string(cmd.Name)
	if parseErr != nil {
		switch cmd.Name {
		case CmdSetBank:
			return AdminResponse{Intent: intent, Reply: setBankUsage}
		default:
			return AdminResponse{Intent: intent, Reply: transactionsUsage}
		}
	}

	reply, err := a.runCommand(ctx, cmd)
	if err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) && cmd.Name == CmdSetBank {
			return AdminResponse{Intent: intent, Reply: setBankUsage}
		}
		a.logger.WithField("command", cmd.Name).WithError(err).Error("admin command failed")
		return AdminResponse{Intent: intent, Reply: replyInternalError}
	}
	return AdminResponse{Intent: intent, Reply: reply}
}

func (a *AdminInterpreter) runCommand(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Name {
	case CmdHelp:
		return helpText, nil
	case CmdTransactions:
		txs, err := a.reports.RecentTransactions(ctx, cmd.Status)
		if err != nil {
			return "", err
		}
		return renderTransactions(txs, cmd.Status), nil
	case CmdLogins:
		logs, err := a.reports.RecentActivity(ctx, domain.ActivityLogin)
		if err != nil {
			return "", err
		}
		return renderActivity(logs, domain.ActivityLogin), nil
	case CmdRegisters:
		logs, err := a.reports.RecentActivity(ctx, domain.ActivitySignup)
		if err != nil {
			return "", err
		}
		return renderActivity(logs, domain.ActivitySignup), nil
	case CmdSetBank:
		dest, err := a.settlement.SetBankDestination(ctx, cmd.Bank[0], cmd.Bank[1], cmd.Bank[2])
		if err != nil {
			return "", err
		}
		return renderBankUpdated(*dest), nil
	case CmdStats:
		stats, err := a.reports.Stats(ctx)
		if err != nil {
			return "", err
		}
		return renderStats(stats), nil
	}
	return replyUnknown, nil
}
