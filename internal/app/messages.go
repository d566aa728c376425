package app

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/pkg/telegram"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	replyNotFound      = "❌ Transaction not found or already processed"
	replyUnknown       = "❓ Unknown command. Type /help to see available commands."
	replyApprovedToast = "✅ Transaction approved!"
	replyDeclinedToast = "❌ Transaction declined"
	replyFailedToast   = "⚠️ Could not settle the transaction, try again"

	helpText = "🤖 <b>PayGig Admin Bot</b>\n\n" +
		"📋 <b>Commands:</b>\n\n" +
		"/transactions - All recent transactions\n" +
		"/transactions pending - Pending only\n" +
		"/transactions success - Successful only\n" +
		"/transactions failed - Failed only\n\n" +
		"/logins - Recent user logins\n" +
		"/registers - Recent registrations\n\n" +
		"/setbank Bank|AccNo|AccName - Update bank details\n" +
		"/stats - Overview statistics"

	setBankUsage = "⚠️ <b>Invalid format</b>\n\n" +
		"Use: <code>/setbank Bank Name|Account Number|Account Name</code>\n\n" +
		"Example:\n<code>/setbank GTBank|0123456789|John Doe</code>"

	transactionsUsage = "⚠️ <b>Invalid filter</b>\n\n" +
		"Use: <code>/transactions [pending|success|failed]</code>"
)

var (
	amountPrinter = message.NewPrinter(language.English)
	// Admins read times in West Africa Time.
	adminZone = time.FixedZone("WAT", 60*60)
)

// formatNaira renders an amount with thousands separators, e.g. ₦24,900.
func formatNaira(amount int64) string {
	return "₦" + amountPrinter.Sprintf("%d", amount)
}

func formatCount(n int64) string {
	return amountPrinter.Sprintf("%d", n)
}

func formatAdminTime(t time.Time) string {
	return t.In(adminZone).Format("Jan 2, 03:04 PM")
}

func esc(s string) string {
	return html.EscapeString(s)
}

func settleKeyboard(transactionID string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{settleRow(transactionID, "")}}
}

func settleRow(transactionID, suffix string) []telegram.InlineKeyboardButton {
	return []telegram.InlineKeyboardButton{
		{Text: "✅ Approve" + suffix, CallbackData: FormatCallback(ActionApprove, transactionID)},
		{Text: "❌ Decline" + suffix, CallbackData: FormatCallback(ActionDecline, transactionID)},
	}
}

// renderNotification builds the admin-channel message for n.
func renderNotification(n domain.Notification) (string, *telegram.InlineKeyboardMarkup, error) {
	switch n.Kind {
	case domain.NotifySignup:
		phone := n.Phone
		if strings.TrimSpace(phone) == "" {
			phone = "N/A"
		}
		return fmt.Sprintf("🔔 <b>New Registration</b>\n\n📧 Email: %s\n📱 Phone: %s", esc(n.Email), esc(phone)), nil, nil
	case domain.NotifyLogin:
		return fmt.Sprintf("🔔 <b>User Login</b>\n\n📧 Email: %s", esc(n.Email)), nil, nil
	case domain.NotifyDeposit:
		if n.TransactionID == "" {
			return "", nil, fmt.Errorf("deposit notification without transaction id")
		}
		text := fmt.Sprintf("💰 <b>New Deposit Request</b>\n\n📧 From: %s\n💵 Amount: %s\n🆔 User ID: %s",
			esc(n.Email), formatNaira(n.Amount), esc(n.AccountID))
		return text, settleKeyboard(n.TransactionID), nil
	case domain.NotifyPendingDigest:
		return renderPendingDigest(n.Pending)
	}
	return "", nil, fmt.Errorf("unknown notification type %q", n.Kind)
}

func renderPendingDigest(pending []domain.Transaction) (string, *telegram.InlineKeyboardMarkup, error) {
	if len(pending) == 0 {
		return "", nil, fmt.Errorf("pending digest without transactions")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ <b>%d Deposit(s) Awaiting Approval</b>\n\n", len(pending))
	markup := &telegram.InlineKeyboardMarkup{}
	for i, tx := range pending {
		fmt.Fprintf(&b, "%d. 💵 %s\n🆔 User: %s\n📅 %s\n\n", i+1, formatNaira(tx.Amount), tx.AccountID, formatAdminTime(tx.CreatedAt))
		markup.InlineKeyboard = append(markup.InlineKeyboard, settleRow(tx.ID.String(), fmt.Sprintf(" #%d", i+1)))
	}
	return strings.TrimRight(b.String(), "\n"), markup, nil
}

func renderSettled(tx domain.Transaction) string {
	title := "✅ <b>Transaction Approved</b>"
	if tx.Status == domain.StatusFailed {
		title = "❌ <b>Transaction Declined</b>"
	}
	return fmt.Sprintf("%s\n\n💵 Amount: %s\n🆔 User: %s", title, formatNaira(tx.Amount), tx.AccountID)
}

func renderAlreadyResolved(tx domain.Transaction) string {
	outcome := "approved"
	if tx.Status == domain.StatusFailed {
		outcome = "declined"
	}
	return fmt.Sprintf("ℹ️ <b>Already %s</b>\n\n💵 Amount: %s\n🆔 User: %s", outcome, formatNaira(tx.Amount), tx.AccountID)
}

func renderTransactions(txs []domain.Transaction, filter domain.TransactionStatus) string {
	if len(txs) == 0 {
		if filter == "" {
			return "📭 No transactions found."
		}
		return fmt.Sprintf("📭 No %s transactions found.", filter)
	}
	var b strings.Builder
	b.WriteString("📊 <b>Recent Transactions")
	if filter != "" {
		fmt.Fprintf(&b, " (%s)", filter)
	}
	b.WriteString("</b>\n\n")
	for _, tx := range txs {
		icon := "🛒"
		if tx.Kind == domain.KindDeposit {
			icon = "💰"
		}
		statusIcon := "❌"
		switch tx.Status {
		case domain.StatusSuccess:
			statusIcon = "✅"
		case domain.StatusPending:
			statusIcon = "⏳"
		}
		label := tx.Description
		if label == "" {
			label = string(tx.Kind)
		}
		fmt.Fprintf(&b, "%s %s %s - %s\n📅 %s\n\n", icon, statusIcon, formatNaira(tx.Amount), esc(label), formatAdminTime(tx.CreatedAt))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderActivity(logs []domain.ActivityLog, activityType domain.ActivityType) string {
	header, empty := "🔐 <b>Recent Logins</b>\n\n", "📭 No recent logins found."
	if activityType == domain.ActivitySignup {
		header, empty = "📝 <b>Recent Registrations</b>\n\n", "📭 No recent registrations found."
	}
	if len(logs) == 0 {
		return empty
	}
	var b strings.Builder
	b.WriteString(header)
	for _, entry := range logs {
		fmt.Fprintf(&b, "📧 %s\n", esc(entry.Email))
		if activityType == domain.ActivitySignup && entry.Details != "" {
			fmt.Fprintf(&b, "%s\n", esc(entry.Details))
		}
		fmt.Fprintf(&b, "📅 %s\n\n", formatAdminTime(entry.CreatedAt))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBankUpdated(dest domain.BankDestination) string {
	return fmt.Sprintf("✅ <b>Bank Details Updated!</b>\n\n🏦 Bank: %s\n🔢 Account: %s\n👤 Name: %s\n\n💡 Changes are live immediately on the app.",
		esc(dest.BankName), esc(dest.AccountNumber), esc(dest.AccountName))
}

func renderStats(stats domain.LedgerStats) string {
	return fmt.Sprintf("📊 <b>PayGig Statistics</b>\n\n👥 Total Users: %s\n📦 Total Transactions: %s\n⏳ Pending Deposits: %s\n💰 Total Deposits: %s\n🛒 Total Purchases: %s",
		formatCount(stats.TotalUsers),
		formatCount(stats.TotalTransactions),
		formatCount(stats.PendingDeposits),
		formatNaira(stats.TotalDeposits),
		formatNaira(stats.TotalPurchases))
}
