/**
 * @description
 * Command line access to the admin bot for operators without the Telegram chat.
 * Chat commands run exactly as they would in the admin chat, and pending deposits can
 * be approved or declined by transaction ID. Anything that changes the ledger asks
 * for confirmation first.
 *
 * Usage:
 *   paygig-admin /stats
 *   paygig-admin /transactions pending
 *   paygig-admin "/setbank GTBank|0123456789|PayGig Ltd"
 *   paygig-admin approve <transaction-id>
 *   paygig-admin decline <transaction-id>
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files.
 * - github.com/redis/go-redis/v9: Publishes settlements to connected clients when REDIS_URL is set.
 * - internal/app, internal/config, internal/store: Settlement engine and ledger.
 */

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/app"
	"github.com/Paygig/paygig-data-wallet/internal/config"
	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/Paygig/paygig-data-wallet/internal/voucher"
	"github.com/Paygig/paygig-data-wallet/pkg/logging"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var errCancelled = errors.New("cancelled")

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: paygig-admin <command> [args...]")
		fmt.Println("Example: paygig-admin /stats")
		fmt.Println("Example: paygig-admin approve 9b2f0c1e-5d8a-4f7e-a1c3-2e4b6d8f0a1c")
		os.Exit(1)
	}

	// Load environment variables from .env files if they exist.
	_ = godotenv.Load("../.env")
	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if cfg.LedgerBackend == config.LedgerMemory {
		log.Fatal("paygig-admin needs the postgres ledger; LEDGER_BACKEND is memory")
	}
	ledger, pool, err := store.OpenPostgresLedger(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer pool.Close()

	logger := logging.NewLoggerWithService("paygig-admin", cfg.LogLevel)

	// Connected clients only hear about CLI settlements through the shared feed.
	var feed app.Feed
	if strings.TrimSpace(cfg.RedisURL) != "" {
		options, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("Redis URL is invalid, clients will not see live updates: %v", parseErr)
		} else {
			client := redis.NewClient(options)
			defer client.Close()
			feed = app.NewRedisFeed(client, cfg.RedisFeedChannelPrefix, logger)
		}
	}

	settlement := app.NewSettlementService(ledger, voucher.NewRandomGenerator(), nil, feed, nil, logger, cfg.SignupBonus)
	reports := app.NewReportService(ledger)
	c := &console{
		ledger:      ledger,
		settlement:  settlement,
		interpreter: app.NewAdminInterpreter(settlement, reports, nil, cfg.TelegramChatID, nil, logger),
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
	}

	if err := c.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errCancelled) {
			fmt.Println("Cancelled.")
			os.Exit(0)
		}
		log.Fatalf("%v", err)
	}
}

// console runs one admin command against the ledger.
type console struct {
	ledger      store.Ledger
	settlement  *app.SettlementService
	interpreter *app.AdminInterpreter
	in          *bufio.Reader
	out         io.Writer
}

func (c *console) run(ctx context.Context, args []string) error {
	switch strings.ToLower(args[0]) {
	case "approve", "decline":
		if len(args) != 2 {
			return fmt.Errorf("usage: paygig-admin %s <transaction-id>", args[0])
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid transaction id %q: %w", args[1], err)
		}
		return c.settle(ctx, app.CallbackAction(strings.ToLower(args[0])), id)
	}

	text := strings.Join(args, " ")
	if cmd, ok, parseErr := app.ParseCommand(text); ok && parseErr == nil && cmd.Name == app.CmdSetBank {
		if err := c.confirm("Replace the bank account shown to every depositor?"); err != nil {
			return err
		}
	}
	resp := c.interpreter.InterpretText(ctx, text)
	if resp.Reply == "" {
		return fmt.Errorf("%q is not an admin command, try /help", text)
	}
	fmt.Fprintln(c.out, resp.Reply)
	return nil
}

func (c *console) settle(ctx context.Context, action app.CallbackAction, id uuid.UUID) error {
	tx, err := c.ledger.FindTransactionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if tx.Kind != domain.KindDeposit {
		return fmt.Errorf("transaction %s is a %s, not a deposit", id, tx.Kind)
	}

	fmt.Fprintf(c.out, "Transaction Details:\n")
	fmt.Fprintf(c.out, "  ID: %s\n", tx.ID)
	fmt.Fprintf(c.out, "  Account: %s\n", tx.AccountID)
	fmt.Fprintf(c.out, "  Amount: %d\n", tx.Amount)
	fmt.Fprintf(c.out, "  Status: %s\n", tx.Status)
	fmt.Fprintf(c.out, "  Requested: %s\n", tx.CreatedAt.Format(time.RFC3339))
	if tx.Status != domain.StatusPending {
		fmt.Fprintln(c.out, "This deposit has already been processed.")
		return nil
	}

	if err := c.confirm(fmt.Sprintf("Are you sure you want to %s this deposit?", action)); err != nil {
		return err
	}

	var result *app.SettlementResult
	if action == app.ActionApprove {
		result, err = c.settlement.ApproveDeposit(ctx, id)
	} else {
		result, err = c.settlement.DeclineDeposit(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("failed to %s deposit: %w", action, err)
	}
	if result.AlreadyResolved {
		fmt.Fprintf(c.out, "Deposit %s was settled elsewhere first, status is now %s\n", id, result.Transaction.Status)
		return nil
	}
	fmt.Fprintf(c.out, "✅ Deposit %s is now %s. Balance: %d, bonus: %d\n",
		id, result.Transaction.Status, result.Balances.Balance, result.Balances.BonusBalance)
	return nil
}

func (c *console) confirm(question string) error {
	fmt.Fprintf(c.out, "\n%s (yes/no): ", question)
	answer, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
		return errCancelled
	}
	return nil
}
