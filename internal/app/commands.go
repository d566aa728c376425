package app

import (
	"strings"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
)

// CommandName is an admin chat command. Tokens are case-sensitive.
type CommandName string

const (
	CmdHelp         CommandName = "/help"
	CmdStart        CommandName = "/start"
	CmdTransactions CommandName = "/transactions"
	CmdLogins       CommandName = "/logins"
	CmdRegisters    CommandName = "/registers"
	CmdSetBank      CommandName = "/setbank"
	CmdStats        CommandName = "/stats"
	CmdUnknown      CommandName = "unknown"
)

// Command is a parsed admin text command.
type Command struct {
	Name CommandName
	// Status filters /transactions; empty means every status.
	Status domain.TransactionStatus
	// Bank carries the /setbank fields in order bank name, account number, account name.
	Bank [3]string
}

// ParseCommand decodes an admin chat message. ok is false for text that is not a
// command at all, which the bot ignores. A malformed argument list yields a
// ValidationError alongside the command it belongs to.
func ParseCommand(text string) (cmd Command, ok bool, err error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false, nil
	}

	token, args, _ := strings.Cut(text, " ")
	// In group chats Telegram appends the bot's username: /stats@PayGigBot.
	token, _, _ = strings.Cut(token, "@")
	args = strings.TrimSpace(args)

	switch name := CommandName(token); name {
	case CmdHelp, CmdStart:
		return Command{Name: CmdHelp}, true, nil
	case CmdLogins, CmdRegisters, CmdStats:
		if args != "" {
			return Command{Name: CmdUnknown}, true, nil
		}
		return Command{Name: name}, true, nil
	case CmdTransactions:
		cmd := Command{Name: CmdTransactions}
		if args == "" {
			return cmd, true, nil
		}
		status := domain.TransactionStatus(strings.ToLower(args))
		if !status.Valid() {
			return cmd, true, domain.NewValidationError("filter", "must be one of pending, success, failed")
		}
		cmd.Status = status
		return cmd, true, nil
	case CmdSetBank:
		cmd := Command{Name: CmdSetBank}
		fields := strings.Split(args, "|")
		if len(fields) != 3 {
			return cmd, true, domain.NewValidationError("setbank", "expected bank|account number|account name")
		}
		for i, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				return cmd, true, domain.NewValidationError("setbank", "every field is required")
			}
			cmd.Bank[i] = f
		}
		return cmd, true, nil
	}
	return Command{Name: CmdUnknown}, true, nil
}
