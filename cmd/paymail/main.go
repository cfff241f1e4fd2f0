package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

type options struct {
	monitor   bool
	check     bool
	deliverTo string
	amount    string
	note      string
}

var errConflictingModes = errors.New("choose one of --monitor, --check or --deliver")

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch {
	case opts.monitor:
		runMonitor()
	case opts.check:
		err = runCheck()
	case opts.deliverTo != "":
		err = runDeliver(opts)
	default:
		err = runReport()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "paymail:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("paymail", pflag.ContinueOnError)
	flags.BoolVar(&opts.monitor, "monitor", false, "poll the mailbox continuously and deliver documents")
	flags.BoolVar(&opts.check, "check", false, "test IMAP and SMTP connectivity and exit")
	flags.StringVar(&opts.deliverTo, "deliver", "", "record a manual payment from this address and deliver to it")
	flags.StringVar(&opts.amount, "amount", "", "amount paid, used with --deliver")
	flags.StringVar(&opts.note, "note", "", "free-form note stored with a manual payment")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: paymail [--monitor | --check | --deliver <email> --amount <x>]")
		fmt.Fprintln(os.Stderr, "Without flags, prints ledger statistics and exits.")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return opts, err
	}

	opts.deliverTo = strings.TrimSpace(opts.deliverTo)
	modes := 0
	for _, on := range []bool{opts.monitor, opts.check, opts.deliverTo != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return opts, errConflictingModes
	}
	if opts.deliverTo == "" && opts.amount != "" {
		return opts, errors.New("--amount requires --deliver")
	}
	return opts, nil
}
