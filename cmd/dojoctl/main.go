// Command dojoctl runs the platform's batch jobs once, for cron or manual
// use.
//
// Usage:
//
//	dojoctl generate-invoices [-date YYYY-MM-DD]   # Generate due invoices
//	dojoctl ai-sweep                               # Notifications and AI reports
//	dojoctl expire-trials                          # Expire lapsed platform trials
//	dojoctl seed-plans                             # Insert missing platform plans
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/config"
	"github.com/mbd888/dojo/internal/jobs"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/server"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: dojoctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands: generate-invoices [-date YYYY-MM-DD], ai-sweep, expire-trials, seed-plans")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, "text")
	ctx := logging.WithLogger(context.Background(), logger)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		os.Exit(1)
	}

	err = run(ctx, srv, cfg, command, args)
	if cerr := srv.Close(context.Background()); cerr != nil {
		logger.Warn("close failed", "error", cerr)
	}
	if err != nil {
		logger.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, srv *server.Server, cfg *config.Config, command string, args []string) error {
	switch command {
	case "generate-invoices":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		dateFlag := fs.String("date", "", "generate as of this date (YYYY-MM-DD), default today")
		if err := fs.Parse(args); err != nil {
			return err
		}
		date := clock.Today(clock.System{Location: cfg.Location()})
		if *dateFlag != "" {
			d, err := clock.ParseDate(*dateFlag)
			if err != nil {
				return fmt.Errorf("-date: %w", err)
			}
			date = d
		}
		report, err := srv.GenerateInvoices(ctx, date)
		if report != nil {
			fmt.Printf("%s: checked %d, created %d, failed academies %d\n",
				date.Format(time.DateOnly), report.Checked, report.Created, len(report.Failures))
			for academyID, msg := range report.Failures {
				fmt.Printf("  %s: %s\n", academyID, msg)
			}
		}
		return err
	case "ai-sweep":
		return srv.Scheduler().RunNamed(ctx, jobs.NameSweep)
	case "expire-trials":
		return srv.Scheduler().RunNamed(ctx, jobs.NameTrials)
	case "seed-plans":
		n, err := srv.SeedPlans(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d plan(s) created\n", n)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
