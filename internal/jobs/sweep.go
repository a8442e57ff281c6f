package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/dojo/internal/assistant"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/traces"
)

// Academies lists every academy for cross-tenant jobs.
type Academies interface {
	ListAllAcademies(ctx context.Context, activeOnly bool) ([]*tenant.Academy, error)
}

// Notifier sends the sweep's student messages. Each call reports whether a
// message went out; the academy settings and student opt-in are checked
// by the notifier.
type Notifier interface {
	NotifyOverdue(ctx context.Context, academy *tenant.Academy, st *roster.Student) (bool, error)
	NotifyAbsence(ctx context.Context, academy *tenant.Academy, st *roster.Student) (bool, error)
	NotifyWelcome(ctx context.Context, academy *tenant.Academy, st *roster.Student) (bool, error)
}

// Analyst produces the academy snapshot and the LLM commentary on it.
type Analyst interface {
	Analyze(ctx context.Context, academyID string, today time.Time) (*assistant.Analysis, error)
	Narrative(ctx context.Context, academyID string, today time.Time) (report, text string, err error)
}

// AcademySweep is what the sweep did for one academy.
type AcademySweep struct {
	AcademyID string `json:"academyId"`
	Overdue   int    `json:"overdue"`
	Absence   int    `json:"absence"`
	Welcome   int    `json:"welcome"`
	Narrative string `json:"narrative,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SweepReport summarises one sweep across all academies.
type SweepReport struct {
	Date      time.Time      `json:"date"`
	Academies []AcademySweep `json:"academies"`
	Sent      int            `json:"sent"`
	Failed    int            `json:"failed"`
}

// SweepJob sends overdue, low attendance and welcome messages for every
// active academy and logs an LLM narrative of its report. One academy
// failing, or panicking, does not stop the others.
type SweepJob struct {
	academies Academies
	notifier  Notifier
	analyst   Analyst
	clock     clock.Clock

	mu   sync.Mutex
	last *SweepReport
}

// NewSweepJob creates the sweep.
func NewSweepJob(academies Academies, n Notifier, a Analyst, clk clock.Clock) *SweepJob {
	if clk == nil {
		clk = clock.System{}
	}
	return &SweepJob{academies: academies, notifier: n, analyst: a, clock: clk}
}

func (j *SweepJob) Name() string { return NameSweep }

// Last returns the report of the latest run, or nil.
func (j *SweepJob) Last() *SweepReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Run sweeps all active academies.
func (j *SweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep runs the sweep and returns its report. The error is non-nil only
// when the academies cannot be listed.
func (j *SweepJob) Sweep(ctx context.Context) (*SweepReport, error) {
	academies, err := j.academies.ListAllAcademies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list academies: %w", err)
	}
	today := clock.DateOf(j.clock.Now())
	report := &SweepReport{Date: today, Academies: make([]AcademySweep, 0, len(academies))}
	for _, a := range academies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := j.sweepAcademy(ctx, a, today)
		report.Sent += res.Overdue + res.Absence + res.Welcome
		if res.Error != "" {
			report.Failed++
			metrics.JobTenantFailuresTotal.WithLabelValues(NameSweep).Inc()
		}
		report.Academies = append(report.Academies, res)
	}
	j.mu.Lock()
	j.last = report
	j.mu.Unlock()
	logging.L(ctx).Info("sweep finished", "academies", len(academies), "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

func (j *SweepJob) sweepAcademy(ctx context.Context, academy *tenant.Academy, today time.Time) (res AcademySweep) {
	res.AcademyID = academy.ID
	ctx = logging.WithAcademy(ctx, academy.ID)
	ctx, span := traces.StartSpan(ctx, "jobs.sweep.academy", traces.AcademyID(academy.ID))
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			res.Error = err.Error()
			logging.L(ctx).Error("sweep failed for academy", "academy_id", academy.ID, "error", err)
		}
		traces.End(span, err)
	}()

	a, err := j.analyst.Analyze(ctx, academy.ID, today)
	if err != nil {
		return res
	}
	var sent bool
	for _, o := range a.Overdue {
		if sent, err = j.notifier.NotifyOverdue(ctx, academy, o.Student); err != nil {
			return res
		}
		if sent {
			res.Overdue++
		}
	}
	for _, att := range a.LowFrequency {
		if sent, err = j.notifier.NotifyAbsence(ctx, academy, att.Student); err != nil {
			return res
		}
		if sent {
			res.Absence++
		}
	}
	for _, st := range a.NewStudents {
		if sent, err = j.notifier.NotifyWelcome(ctx, academy, st); err != nil {
			return res
		}
		if sent {
			res.Welcome++
		}
	}

	_, text, nerr := j.analyst.Narrative(ctx, academy.ID, today)
	switch {
	case errors.Is(nerr, assistant.ErrLLMNotConfigured):
		logging.L(ctx).Debug("narrative skipped, no LLM configured", "academy_id", academy.ID)
	case nerr != nil:
		logging.L(ctx).Warn("narrative failed", "academy_id", academy.ID, "error", nerr)
	default:
		res.Narrative = text
		logging.L(ctx).Info("academy narrative", "academy_id", academy.ID, "academy", academy.Name, "narrative", text)
	}
	return res
}
