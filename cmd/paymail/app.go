package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymail/internal/clock"
	"github.com/smallbiznis/paymail/internal/config"
	"github.com/smallbiznis/paymail/internal/delivery"
	deliverydomain "github.com/smallbiznis/paymail/internal/delivery/domain"
	"github.com/smallbiznis/paymail/internal/ledger"
	"github.com/smallbiznis/paymail/internal/observability"
	"github.com/smallbiznis/paymail/internal/payment"
	paymentdomain "github.com/smallbiznis/paymail/internal/payment/domain"
	"github.com/smallbiznis/paymail/internal/poller"
	"github.com/smallbiznis/paymail/internal/providers"
	"github.com/smallbiznis/paymail/internal/providers/email"
	"github.com/smallbiznis/paymail/internal/providers/mailbox"
	"github.com/smallbiznis/paymail/internal/server"
	"github.com/smallbiznis/paymail/internal/stats"
	statsdomain "github.com/smallbiznis/paymail/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const oneShotTimeout = 2 * time.Minute

func core() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		ledger.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

func mailStack() fx.Option {
	return fx.Options(
		fx.Invoke(validateMailConfig),
		providers.Module,
		payment.Module,
		delivery.Module,
	)
}

// runMonitor blocks until SIGINT or SIGTERM.
func runMonitor() {
	app := fx.New(
		core(),
		mailStack(),
		stats.Module,
		poller.Module,
		poller.Run,
		server.Module,
	)
	app.Run()
}

func runReport() error {
	var svc statsdomain.Service
	return oneShot(
		[]fx.Option{core(), stats.Module, fx.Populate(&svc)},
		func(ctx context.Context) error {
			summary, err := svc.Summarize(ctx)
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	)
}

func runCheck() error {
	var (
		box    mailbox.Mailbox
		sender email.Sender
	)
	return oneShot(
		[]fx.Option{core(), mailStack(), fx.Populate(&box, &sender)},
		func(ctx context.Context) error {
			imapErr := mailbox.CheckConnection(ctx, box)
			printCheck("IMAP", imapErr)
			smtpErr := sender.CheckConnection(ctx)
			printCheck("SMTP", smtpErr)
			return errors.Join(imapErr, smtpErr)
		},
	)
}

func runDeliver(opts options) error {
	var (
		classifier paymentdomain.Service
		deliverer  deliverydomain.Service
	)
	return oneShot(
		[]fx.Option{core(), mailStack(), fx.Populate(&classifier, &deliverer)},
		func(ctx context.Context) error {
			result, err := classifier.RecordManual(ctx, paymentdomain.ManualPaymentRequest{
				PayerIdentity: opts.deliverTo,
				Amount:        opts.amount,
				Note:          opts.note,
			})
			if err != nil {
				return err
			}
			record := result.Record
			if record.Terminal() {
				fmt.Fprintf(os.Stdout, "Record %s is already %s\n", record.Reference, record.DeliveryStatus)
				return nil
			}
			delivered, err := deliverer.Deliver(ctx, record)
			if !delivered {
				return err
			}
			fmt.Fprintf(os.Stdout, "Delivered %s to %s\n", record.Reference, record.PayerIdentity)
			return nil
		},
	)
}

func oneShot(options []fx.Option, fn func(ctx context.Context) error) error {
	app := fx.New(options...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	return errors.Join(runErr, app.Stop(stopCtx))
}

func validateMailConfig(cfg config.Config) error {
	return cfg.Validate()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func printSummary(s statsdomain.Summary) {
	fmt.Fprintln(os.Stdout, "Current revenue stats")
	fmt.Fprintf(os.Stdout, "  Total revenue:   $%.2f\n", s.TotalRevenue)
	fmt.Fprintf(os.Stdout, "  Total customers: %d\n", s.TotalCustomers)
	fmt.Fprintf(os.Stdout, "  Delivered:       %d\n", s.DeliveredCount)
	fmt.Fprintf(os.Stdout, "  Pending:         %d\n", s.PendingCount)
	fmt.Fprintf(os.Stdout, "  Failed:          %d\n", s.FailedCount)
	if s.UnknownAmountCount > 0 {
		fmt.Fprintf(os.Stdout, "  Unknown amount:  %d\n", s.UnknownAmountCount)
	}
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "To start monitoring: paymail --monitor")
}

func printCheck(name string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stdout, "%s: FAILED (%v)\n", name, err)
		return
	}
	fmt.Fprintf(os.Stdout, "%s: OK\n", name)
}
