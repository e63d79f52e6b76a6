package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledger/internal/account"
	"ledger/internal/config"
	"ledger/internal/db"
	"ledger/internal/money"
	"ledger/internal/services"
	"ledger/internal/store"
)

const usage = `usage: ledgerctl <command> [args]

commands:
  create <holder name>
  destroy <account number>
  balance <account number>
  deposit <account number> <amount>
  withdraw <account number> <amount>
  transfer <sender number> <receiver number> <amount>
  history <account number> [page] [size]
  self-check <account number>`

var errUsage = errors.New(usage)

// ledger is the subset of the service the CLI drives.
type ledger interface {
	CreateAccount(ctx context.Context, holderName string) (services.CreateAccountResult, error)
	DestroyAccount(ctx context.Context, number account.Number) error
	Deposit(ctx context.Context, req services.DepositRequest) (services.DepositResult, error)
	Withdraw(ctx context.Context, req services.WithdrawRequest) (services.WithdrawResult, error)
	Transfer(ctx context.Context, req services.TransferRequest) (services.TransferResult, error)
	RetrieveHistory(ctx context.Context, number account.Number, page, size int) (store.HistoryPage, error)
	ReconcileBalance(ctx context.Context, number account.Number) (services.ReconcileResult, error)
	CurrentBalance(ctx context.Context, number account.Number) (services.BalanceResult, error)
}

func main() {
	cfg := config.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	loc := cfg.Location()
	service := services.NewLedgerService(
		store.OpenAccountStore(database, cfg.LockTimeout),
		nil, nil,
		func() time.Time { return time.Now().In(loc) },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, service, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, service ledger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create":
		if len(args) != 2 {
			return errUsage
		}
		created, err := service.CreateAccount(ctx, args[1])
		if err != nil {
			return err
		}
		renderRows(out, []string{"Account", "Holder", "Balance"}, [][]string{
			{created.Number.String(), created.HolderName, created.Balance.String()},
		})
	case "destroy":
		if len(args) != 2 {
			return errUsage
		}
		if err := service.DestroyAccount(ctx, account.Number(args[1])); err != nil {
			return err
		}
		fmt.Fprintf(out, "account %s destroyed\n", args[1])
	case "balance":
		if len(args) != 2 {
			return errUsage
		}
		current, err := service.CurrentBalance(ctx, account.Number(args[1]))
		if err != nil {
			return err
		}
		renderRows(out, []string{"Account", "Holder", "Balance"}, [][]string{
			{current.Number.String(), current.HolderName, current.Balance.String()},
		})
	case "deposit", "withdraw":
		if len(args) != 3 {
			return errUsage
		}
		amount, err := money.Parse(args[2])
		if err != nil {
			return err
		}
		number := account.Number(args[1])
		var balance money.Money
		if args[0] == "deposit" {
			result, err := service.Deposit(ctx, services.DepositRequest{AccountNumber: number, Amount: amount})
			if err != nil {
				return err
			}
			balance = result.Balance
		} else {
			result, err := service.Withdraw(ctx, services.WithdrawRequest{AccountNumber: number, Amount: amount})
			if err != nil {
				return err
			}
			balance = result.Balance
		}
		renderRows(out, []string{"Account", "Amount", "Balance"}, [][]string{
			{number.String(), amount.String(), balance.String()},
		})
	case "transfer":
		if len(args) != 4 {
			return errUsage
		}
		amount, err := money.Parse(args[3])
		if err != nil {
			return err
		}
		result, err := service.Transfer(ctx, services.TransferRequest{
			SenderNumber:   account.Number(args[1]),
			ReceiverNumber: account.Number(args[2]),
			Amount:         amount,
		})
		if err != nil {
			return err
		}
		renderRows(out, []string{"Sender", "Receiver", "Amount", "Fee", "Sender Balance"}, [][]string{{
			result.SenderNumber.String(), result.ReceiverNumber.String(),
			result.Amount.String(), result.Fee.String(), result.Balance.String(),
		}})
	case "history":
		return history(ctx, service, args[1:], out)
	case "self-check":
		if len(args) != 2 {
			return errUsage
		}
		result, err := service.ReconcileBalance(ctx, account.Number(args[1]))
		if err != nil {
			return err
		}
		renderRows(out, []string{"Account", "Balance", "Ledger Sum", "Difference", "Consistent"}, [][]string{{
			result.Number.String(), result.Balance.String(), result.LedgerSum.String(),
			result.Difference.String(), strconv.FormatBool(result.Consistent()),
		}})
		if !result.Consistent() {
			return fmt.Errorf("account %s is out of balance by %s", result.Number, result.Difference)
		}
	default:
		return errUsage
	}
	return nil
}

func history(ctx context.Context, service ledger, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 3 {
		return errUsage
	}
	paging := []int{0, 0}
	for i, raw := range args[1:] {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid paging argument %q", raw)
		}
		paging[i] = parsed
	}
	page, err := service.RetrieveHistory(ctx, account.Number(args[0]), paging[0], paging[1])
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(page.Records))
	for _, record := range page.Records {
		rows = append(rows, []string{
			record.TransactionAt.Format(time.RFC3339),
			string(record.Kind),
			record.SenderNumber.String(),
			record.ReceiverNumber.String(),
			record.Amount.String(),
			record.Fee.String(),
			record.Balance.String(),
		})
	}
	renderRows(out, []string{"At", "Kind", "Sender", "Receiver", "Amount", "Fee", "Balance"}, rows)
	fmt.Fprintf(out, "page %d of %d (%d records)\n", page.PageNumber+1, max(page.TotalPages, 1), page.TotalCount)
	return nil
}

func renderRows(out io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(rows)
	table.Render()
}
