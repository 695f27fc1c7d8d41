// Command guardian-node runs an emergency release drill against the sandbox
// settlement backend: it admits an emergency, collects guardian signatures
// from simulated guardians and settles the payout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "guardian-node: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("guardian-node", flag.ContinueOnError)
	opts := drillOptions{}
	fs.IntVar(&opts.Guardians, "guardians", 5, "number of guardians in the directory")
	fs.IntVar(&opts.Signers, "signers", -1, "guardians that sign (-1 signs exactly the quorum)")
	fs.StringVar(&opts.Type, "type", "MEDICAL_EMERGENCY", "emergency type")
	fs.StringVar(&opts.Severity, "severity", "HIGH", "assessed severity")
	fs.IntVar(&opts.Urgency, "urgency", 85, "assessed urgency score (0-100)")
	fs.Float64Var(&opts.Confidence, "confidence", 0.9, "assessment confidence (0-1)")
	fs.Int64Var(&opts.AmountMinor, "amount", 50_00, "amount in minor units")
	fs.StringVar(&opts.Currency, "currency", "USD", "currency")
	fs.StringVar(&opts.Recipient, "recipient", "0xA11CE00000000000000000000000000000000001", "institution address")
	fs.IntVar(&opts.ConfirmAfter, "confirm-after", 2, "sandbox polls before a transfer confirms")
	fs.DurationVar(&opts.SignDelay, "sign-delay", 50*time.Millisecond, "delay between simulated guardian signatures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := newNode(ctx, opts)
	if err != nil {
		return err
	}
	defer node.Close(context.Background())

	report, err := node.Drill(ctx, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Result.Success {
		slog.Warn("drill did not complete", "message", report.Result.Message)
	}
	return nil
}
