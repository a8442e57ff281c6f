package jobs

import (
	"context"
	"time"

	"github.com/mbd888/dojo/internal/billing"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
)

// Job names, as used by the CLI.
const (
	NameInvoices = "generate-invoices"
	NameSweep    = "ai-sweep"
	NameTrials   = "expire-trials"
)

// InvoiceGenerator is billing's recurring invoice run.
type InvoiceGenerator interface {
	GenerateDueInvoices(ctx context.Context, today time.Time) (*billing.GenerationReport, error)
}

// InvoiceJob creates the invoices that fall due this month.
type InvoiceJob struct {
	billing InvoiceGenerator
	clock   clock.Clock

	// Last holds the report of the latest run.
	Last *billing.GenerationReport
}

// NewInvoiceJob creates the invoice job. "Today" is taken from clk, which
// should report times in the academies' location.
func NewInvoiceJob(b InvoiceGenerator, clk clock.Clock) *InvoiceJob {
	if clk == nil {
		clk = clock.System{}
	}
	return &InvoiceJob{billing: b, clock: clk}
}

func (j *InvoiceJob) Name() string { return NameInvoices }

// Run generates invoices for today.
func (j *InvoiceJob) Run(ctx context.Context) error {
	return j.RunFor(ctx, j.clock.Now())
}

// RunFor generates invoices as of date.
func (j *InvoiceJob) RunFor(ctx context.Context, date time.Time) error {
	report, err := j.billing.GenerateDueInvoices(ctx, date)
	if report != nil {
		j.Last = report
		if n := len(report.Failures); n > 0 {
			metrics.JobTenantFailuresTotal.WithLabelValues(NameInvoices).Add(float64(n))
		}
		logging.L(ctx).Info("invoice generation finished",
			"date", report.Date.Format(clock.DateLayout),
			"checked", report.Checked,
			"created", report.Created,
			"skipped_unpaid", report.Skipped[billing.SkipUnpaid],
			"skipped_too_early", report.Skipped[billing.SkipTooEarly],
			"skipped_no_invoice", report.Skipped[billing.SkipNoInvoice],
			"failed_academies", len(report.Failures))
	}
	return err
}

// TrialExpirer moves lapsed platform trials to expired.
type TrialExpirer interface {
	ExpireTrials(ctx context.Context) (int, error)
}

// TrialJob expires platform trials.
func TrialJob(p TrialExpirer) Job {
	return Func(NameTrials, func(ctx context.Context) error {
		n, err := p.ExpireTrials(ctx)
		if err != nil {
			return err
		}
		logging.L(ctx).Info("trials expired", "count", n)
		return nil
	})
}
