package aggregate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/Veraticus/tally-reconcile/internal/reconcile"
	"github.com/Veraticus/tally-reconcile/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFunc func(model.AuditEntry) error

func (f sinkFunc) AppendAuditEntry(_ context.Context, e model.AuditEntry) error { return f(e) }

var fixedNow = time.Date(2025, 6, 3, 21, 0, 0, 0, time.UTC)

func boxIDs(n int) []string {
	ids := make([]string, 0, n)
	for p := 1; p <= n; p++ {
		ids = append(ids, layout.BoxIDForPage(p))
	}
	return ids
}

func batchFor(t *testing.T, record *model.BallotBoxRecord) Batch {
	t.Helper()
	found := reconcile.FindDiscrepancies(record)
	res, err := reconcile.NewEngine(nil, nil).Reconcile(record, found)
	require.NoError(t, err)
	return Batch{
		BoxID:         record.BoxID,
		PageNumber:    record.PageNumber,
		Tallies:       res.Tallies,
		Discrepancies: len(found),
	}
}

func TestAggregator_TotalsAndStreams(t *testing.T) {
	agg := New(boxIDs(3), WithClock(func() time.Time { return fixedNow }), WithStrategy("override"))

	require.NoError(t, agg.Add(batchFor(t, testutil.NewRecord(1).Count(1, 10, 10).Count(2, 20, 20).Build())))
	require.NoError(t, agg.Add(batchFor(t, testutil.NewRecord(2).Count(1, 100, 105).Count(model.InvalidVotes, 3, 3).Build())))
	require.NoError(t, agg.Add(batchFor(t, testutil.NewRecord(3).Unverified(5, 40).Build())))

	report, err := agg.Finalize()
	require.NoError(t, err)

	assert.Equal(t, map[model.CandidateID]int64{1: 115, 2: 20, 5: 40}, report.Totals)
	assert.Equal(t, int64(3), report.InvalidTotal)
	assert.Equal(t, int64(10+20+100+3+40), report.MachineTotal)
	assert.Equal(t, int64(10+20+105+3), report.HumanTotal)
	assert.Equal(t, 1, report.DiscrepancyCount)
	assert.Equal(t, []model.CellRef{{BoxID: "box-003", CandidateID: 5}}, report.MissingVerifications)
	assert.Equal(t, 3, report.BoxesProcessed)
	assert.Equal(t, 3, report.BoxesExpected)
	assert.Equal(t, "override", report.Strategy)
	assert.Equal(t, fixedNow, report.GeneratedAt)
	assert.True(t, report.Complete())
}

func TestAggregator_OrderIndependent(t *testing.T) {
	const boxes = 40
	rng := rand.New(rand.NewSource(42))

	var batches []Batch
	for p := 1; p <= boxes; p++ {
		b := testutil.NewRecord(p)
		for _, c := range model.DefaultCandidates() {
			machine := rng.Int63n(2000)
			switch rng.Intn(4) {
			case 0:
				b.Unverified(c.ID, machine)
			case 1:
				b.Count(c.ID, machine, machine+rng.Int63n(20))
			default:
				b.Count(c.ID, machine, machine)
			}
		}
		b.Count(model.InvalidVotes, rng.Int63n(30), rng.Int63n(30))
		batches = append(batches, batchFor(t, b.Build()))
	}

	run := func(order []Batch) *model.AggregateReport {
		agg := New(boxIDs(boxes), WithClock(func() time.Time { return fixedNow }))
		for _, b := range order {
			require.NoError(t, agg.Add(b))
		}
		report, err := agg.Finalize()
		require.NoError(t, err)
		return report
	}

	want := run(batches)
	for i := 0; i < 10; i++ {
		shuffled := append([]Batch(nil), batches...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, run(shuffled))
	}
}

func TestAggregator_FinalizeListsMissingBoxes(t *testing.T) {
	agg := New(boxIDs(5))
	require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(2, 10))))
	require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(4, 10))))

	_, err := agg.Finalize()
	var incomplete *IncompleteReportError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"box-001", "box-003", "box-005"}, incomplete.Missing)
	assert.Contains(t, err.Error(), "3 boxes missing")

	for _, p := range []int{1, 3, 5} {
		require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(p, 10))))
	}
	report, err := agg.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.Totals[1])
}

func TestAggregator_FinalizeIsStable(t *testing.T) {
	log := audit.NewLog()
	calls := 0
	agg := New(boxIDs(1), WithRecorder(log), WithClock(func() time.Time {
		calls++
		return fixedNow.Add(time.Duration(calls) * time.Minute)
	}))
	require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(1, 7))))

	first, err := agg.Finalize()
	require.NoError(t, err)
	first.Totals[1] = 999

	second, err := agg.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(7), second.Totals[1])
	assert.Equal(t, fixedNow.Add(time.Minute), second.GeneratedAt)

	entries := log.ForBox(ReportScope)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StageAggregate, entries[0].Stage)

	assert.ErrorIs(t, agg.Add(batchFor(t, testutil.AgreeingRecord(1, 7))), ErrReportFinalized)
}

func TestAggregator_Rejects(t *testing.T) {
	agg := New(boxIDs(2))
	require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(1, 5))))

	assert.ErrorIs(t, agg.Add(batchFor(t, testutil.AgreeingRecord(1, 5))), ErrDuplicateBox)
	assert.ErrorIs(t, agg.Add(batchFor(t, testutil.AgreeingRecord(9, 5))), ErrUnexpectedBox)
	assert.ErrorIs(t, agg.Exclude(model.ExcludedBox{BoxID: "box-001"}), ErrDuplicateBox)

	mixed := batchFor(t, testutil.AgreeingRecord(2, 5))
	mixed.Tallies[0].BoxID = "box-001"
	assert.ErrorIs(t, agg.Add(mixed), ErrBatchMismatch)
	assert.Equal(t, []string{"box-002"}, agg.Missing())
}

func TestAggregator_OverflowLeavesTotalsUntouched(t *testing.T) {
	agg := New(boxIDs(2))
	require.NoError(t, agg.Add(batchFor(t, testutil.NewRecord(1).Count(1, 10, 10).Build())))

	huge := batchFor(t, testutil.NewRecord(2).Count(2, 1, 1).Count(1, math.MaxInt64, math.MaxInt64).Build())
	assert.ErrorIs(t, agg.Add(huge), ErrOverflow)
	assert.Equal(t, []string{"box-002"}, agg.Missing())

	require.NoError(t, agg.Add(batchFor(t, testutil.NewRecord(2).Count(2, 1, 1).Build())))
	report, err := agg.Finalize()
	require.NoError(t, err)
	assert.Equal(t, map[model.CandidateID]int64{1: 10, 2: 1}, report.Totals)
}

func TestAggregator_ExcludedBoxesCountAsAccountedFor(t *testing.T) {
	agg := New(boxIDs(3), WithCandidates([]model.CandidateID{1, 2, 4, 5, 8}))
	require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(1, 3))))
	require.NoError(t, agg.Exclude(model.ExcludedBox{BoxID: "box-003", PageNumber: 3, Reason: "missing_table"}))
	require.NoError(t, agg.Exclude(model.ExcludedBox{BoxID: "box-002", PageNumber: 2, Reason: "unparseable_count"}))

	report, err := agg.Finalize()
	require.NoError(t, err)
	require.Len(t, report.ExcludedBoxes, 2)
	assert.Equal(t, "box-002", report.ExcludedBoxes[0].BoxID)
	assert.Equal(t, 1, report.BoxesProcessed)
	assert.False(t, report.Complete())
	assert.Len(t, report.Totals, 5)
}

func TestAggregator_AuditFailureKeepsReportOpen(t *testing.T) {
	failing := audit.NewLog(audit.WithSink(sinkFunc(func(model.AuditEntry) error { return errors.New("disk full") })))
	agg := New(boxIDs(1), WithRecorder(failing))
	require.NoError(t, agg.Add(batchFor(t, testutil.AgreeingRecord(1, 1))))

	_, err := agg.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
