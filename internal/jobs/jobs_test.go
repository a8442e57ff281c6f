package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/assistant"
	"github.com/mbd888/dojo/internal/billing"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	dates []time.Time
}

func (g *fakeGenerator) GenerateDueInvoices(_ context.Context, today time.Time) (*billing.GenerationReport, error) {
	g.dates = append(g.dates, today)
	return &billing.GenerationReport{
		Date:     clock.DateOf(today),
		Checked:  3,
		Created:  1,
		Skipped:  map[billing.SkipReason]int{billing.SkipUnpaid: 2},
		Failures: map[string]string{"ac2": "boom"},
	}, nil
}

func TestInvoiceJob(t *testing.T) {
	g := &fakeGenerator{}
	job := NewInvoiceJob(g, clock.Fixed(testNow))
	assert.Equal(t, NameInvoices, job.Name())

	require.NoError(t, Run(context.Background(), job))
	require.Len(t, g.dates, 1)
	assert.Equal(t, testNow, g.dates[0])
	assert.Equal(t, 1, job.Last.Created)

	require.NoError(t, job.RunFor(context.Background(), clock.Date(2025, 4, 1)))
	assert.Equal(t, clock.Date(2025, 4, 1), g.dates[1])
}

type fakeExpirer struct {
	n   int
	err error
}

func (f fakeExpirer) ExpireTrials(context.Context) (int, error) { return f.n, f.err }

func TestTrialJob(t *testing.T) {
	assert.NoError(t, TrialJob(fakeExpirer{n: 2}).Run(context.Background()))
	assert.Error(t, TrialJob(fakeExpirer{err: errors.New("db down")}).Run(context.Background()))
	assert.Equal(t, NameTrials, TrialJob(fakeExpirer{}).Name())
}

// --- sweep ---

type fakeAcademies []*tenant.Academy

func (f fakeAcademies) ListAllAcademies(_ context.Context, activeOnly bool) ([]*tenant.Academy, error) {
	var out []*tenant.Academy
	for _, a := range f {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type delivery struct {
	academy, student, kind string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []delivery
	fail string // student ID whose send errors
}

func (n *fakeNotifier) record(a *tenant.Academy, st *roster.Student, kind string) (bool, error) {
	if st.ID == n.fail {
		return false, errors.New("log store down")
	}
	if st.Contact == "" {
		return false, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, delivery{a.ID, st.ID, kind})
	return true, nil
}

func (n *fakeNotifier) NotifyOverdue(_ context.Context, a *tenant.Academy, st *roster.Student) (bool, error) {
	return n.record(a, st, "overdue")
}

func (n *fakeNotifier) NotifyAbsence(_ context.Context, a *tenant.Academy, st *roster.Student) (bool, error) {
	return n.record(a, st, "absence")
}

func (n *fakeNotifier) NotifyWelcome(_ context.Context, a *tenant.Academy, st *roster.Student) (bool, error) {
	return n.record(a, st, "welcome")
}

type fakeAnalyst struct {
	analyses  map[string]*assistant.Analysis
	panicOn   string
	narrative error
}

func (f *fakeAnalyst) Analyze(_ context.Context, academyID string, _ time.Time) (*assistant.Analysis, error) {
	if academyID == f.panicOn {
		panic("nil map")
	}
	a, ok := f.analyses[academyID]
	if !ok {
		return nil, errors.New("no data")
	}
	return a, nil
}

func (f *fakeAnalyst) Narrative(_ context.Context, academyID string, _ time.Time) (string, string, error) {
	if f.narrative != nil {
		return "report", "", f.narrative
	}
	return "report", "Tudo certo na " + academyID, nil
}

func student(id, contact string) *roster.Student {
	return &roster.Student{ID: id, FullName: id, Contact: contact, Active: true}
}

func sweepFixture() (fakeAcademies, *fakeNotifier, *fakeAnalyst) {
	academies := fakeAcademies{
		{ID: "ac1", Name: "Dojo Central", Active: true},
		{ID: "ac2", Name: "Dojo Norte", Active: true},
		{ID: "ac3", Name: "Dojo Sul", Active: true},
		{ID: "ac4", Name: "Dojo Fechado", Active: false},
	}
	analyst := &fakeAnalyst{
		analyses: map[string]*assistant.Analysis{
			"ac1": {
				Overdue:      []billing.OverdueStudent{{Student: student("bruno", "5511999990001")}},
				LowFrequency: []assistant.Attendee{{Student: student("carla", "5511999990002"), Count: 1}},
				NewStudents:  []*roster.Student{student("joao", "5511999990003"), student("sem-contato", "")},
			},
			"ac3": {
				Overdue: []billing.OverdueStudent{{Student: student("ana", "5511999990004")}},
			},
			"ac4": {
				Overdue: []billing.OverdueStudent{{Student: student("x", "5511999990005")}},
			},
		},
		panicOn: "ac2",
	}
	return academies, &fakeNotifier{}, analyst
}

func TestSweep(t *testing.T) {
	academies, notifier, analyst := sweepFixture()
	job := NewSweepJob(academies, notifier, analyst, clock.Fixed(testNow))

	report, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.Date(2025, 3, 10), report.Date)
	require.Len(t, report.Academies, 3)
	assert.Equal(t, 4, report.Sent)
	assert.Equal(t, 1, report.Failed)

	ac1 := report.Academies[0]
	assert.Equal(t, AcademySweep{AcademyID: "ac1", Overdue: 1, Absence: 1, Welcome: 1, Narrative: "Tudo certo na ac1"}, ac1)
	assert.Equal(t, "ac2", report.Academies[1].AcademyID)
	assert.Contains(t, report.Academies[1].Error, "panic")
	assert.Equal(t, 1, report.Academies[2].Overdue)

	assert.Equal(t, []delivery{
		{"ac1", "bruno", "overdue"},
		{"ac1", "carla", "absence"},
		{"ac1", "joao", "welcome"},
		{"ac3", "ana", "overdue"},
	}, notifier.sent)
	assert.Same(t, report, job.Last())
}

func TestSweep_SendErrorStopsOnlyThatAcademy(t *testing.T) {
	academies, notifier, analyst := sweepFixture()
	notifier.fail = "bruno"
	job := NewSweepJob(academies, notifier, analyst, clock.Fixed(testNow))

	report, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Contains(t, report.Academies[0].Error, "log store down")
	assert.Equal(t, []delivery{{"ac3", "ana", "overdue"}}, notifier.sent)
}

func TestSweep_NarrativeFailureIsNotAFailure(t *testing.T) {
	academies, notifier, analyst := sweepFixture()
	analyst.panicOn = ""
	analyst.analyses["ac2"] = &assistant.Analysis{}
	analyst.narrative = assistant.ErrLLMNotConfigured
	job := NewSweepJob(academies, notifier, analyst, clock.Fixed(testNow))

	require.NoError(t, job.Run(context.Background()))
	report := job.Last()
	assert.Zero(t, report.Failed)
	for _, a := range report.Academies {
		assert.Empty(t, a.Narrative)
	}

	analyst.narrative = errors.New("503")
	report, err := job.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
}
