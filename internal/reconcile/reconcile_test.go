package reconcile

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/Veraticus/tally-reconcile/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDiscrepancies_OrderedByCandidate(t *testing.T) {
	record := testutil.NewRecord(4).
		Count(8, 4, 5).
		Count(1, 100, 105).
		Count(2, 50, 50).
		Count(4, 30, 20).
		Unverified(5, 40).
		Build()

	found := FindDiscrepancies(record)

	require.Len(t, found, 3)
	assert.Equal(t, []model.CandidateID{1, 4, 8}, []model.CandidateID{found[0].CandidateID, found[1].CandidateID, found[2].CandidateID})
	assert.Equal(t, model.Discrepancy{BoxID: "box-004", CandidateID: 1, Machine: 100, Human: 105, Delta: 5}, found[0])
	assert.Equal(t, int64(-10), found[1].Delta)
	assert.Equal(t, "machine_higher", found[1].Direction())
	assert.Equal(t, int64(10), found[1].Magnitude())
	assert.Equal(t, "human_higher", found[2].Direction())
}

func TestDetector_AuditsEveryBox(t *testing.T) {
	log := audit.NewLog()
	d := NewDetector(log)

	assert.Empty(t, d.Detect(testutil.AgreeingRecord(1, 10)))
	assert.Len(t, d.Detect(testutil.NewRecord(2).Count(1, 100, 105).Build()), 1)

	one := log.ForBox("box-001")
	require.Len(t, one, 1)
	assert.Equal(t, model.StageDetect, one[0].Stage)
	assert.Equal(t, "0 discrepancies", one[0].Detail)

	two := log.ForBox("box-002")
	require.Len(t, two, 1)
	assert.Contains(t, two[0].Detail, "C1 machine=100 human=105 delta=+5")
}

func TestEngine_AgreeingStreamsUseMachineSource(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	engine := NewEngine(OverrideStrategy{}, nil)

	for i := 0; i < 50; i++ {
		record := testutil.AgreeingRecord(i+1, rng.Int63n(5000))
		found := FindDiscrepancies(record)
		require.Empty(t, found)

		res, err := engine.Reconcile(record, found)
		require.NoError(t, err)
		require.Len(t, res.Tallies, 5)
		for _, tally := range res.Tallies {
			assert.Equal(t, model.SourceMachine, tally.Source)
			assert.Equal(t, record.Counts[tally.CandidateID].Machine, tally.FinalCount)
			assert.False(t, tally.Discrepant)
		}
	}
}

func TestEngine_HumanOverridesAnyDelta(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	engine := NewEngine(nil, nil)

	for i := 0; i < 200; i++ {
		machine := rng.Int63n(10000)
		human := rng.Int63n(10000)
		if machine == human {
			human++
		}
		record := testutil.NewRecord(1).Count(2, machine, human).Build()

		res, err := engine.Reconcile(record, FindDiscrepancies(record))
		require.NoError(t, err)
		require.Len(t, res.Tallies, 1)

		tally := res.Tallies[0]
		assert.Equal(t, human, tally.FinalCount)
		assert.Equal(t, model.SourceHuman, tally.Source)
		assert.True(t, tally.Discrepant)
		assert.Equal(t, human-machine, tally.Delta)
	}
}

func TestEngine_ResolutionNoteAndAnnotation(t *testing.T) {
	log := audit.NewLog()
	engine := NewEngine(OverrideStrategy{}, log)
	record := testutil.NewRecord(2).Count(1, 100, 105).Count(2, 7, 7).Build()
	found := FindDiscrepancies(record)

	res, err := engine.Reconcile(record, found)
	require.NoError(t, err)

	assert.Equal(t, "human verification supersedes machine count 100 (delta +5)", res.Tallies[0].Note)
	assert.Equal(t, "sources agree", res.Tallies[1].Note)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, "override: final 105 from human", res.Discrepancies[0].Resolution)
	assert.Empty(t, found[0].Resolution, "input discrepancies are not mutated")

	trail := log.ForBox("box-002")
	require.Len(t, trail, 1)
	assert.Equal(t, model.StageReconcile, trail[0].Stage)
	assert.Contains(t, trail[0].Detail, "machine 1, human 1")
}

func TestEngine_MissingVerificationFallsBackToMachine(t *testing.T) {
	engine := NewEngine(OverrideStrategy{}, nil)
	record := testutil.NewRecord(3).Count(1, 10, 10).Unverified(5, 40).Build()

	res, err := engine.Reconcile(record, FindDiscrepancies(record))
	require.NoError(t, err)

	require.Len(t, res.Missing, 1)
	missing := res.Missing[0]
	assert.Equal(t, model.CandidateID(5), missing.CandidateID)
	assert.Equal(t, "box-003: candidate C5 has no human verification, machine count 40 used", missing.Error())

	var asErr *MissingVerificationError
	assert.True(t, errors.As(error(missing), &asErr))

	tally := res.Tallies[1]
	assert.Equal(t, int64(40), tally.FinalCount)
	assert.Equal(t, model.SourceMachine, tally.Source)
	assert.True(t, tally.MissingVerification)
	assert.False(t, tally.Discrepant)
	assert.Contains(t, tally.Note, "missing human verification")
}

func TestEngine_RejectsForeignDiscrepancies(t *testing.T) {
	engine := NewEngine(OverrideStrategy{}, nil)
	record := testutil.NewRecord(1).Count(1, 10, 12).Build()

	tests := []struct {
		name string
		d    model.Discrepancy
	}{
		{name: "other box", d: model.Discrepancy{BoxID: "box-999", CandidateID: 1, Machine: 10, Human: 12, Delta: 2}},
		{name: "absent candidate", d: model.Discrepancy{BoxID: "box-001", CandidateID: 2, Delta: 1}},
		{name: "stale delta", d: model.Discrepancy{BoxID: "box-001", CandidateID: 1, Delta: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Reconcile(record, []model.Discrepancy{tt.d})
			assert.ErrorIs(t, err, ErrDiscrepancyMismatch)
		})
	}
}

func TestSumStrategy(t *testing.T) {
	engine := NewEngine(SumStrategy{}, nil)
	record := testutil.NewRecord(3).
		Count(1, 1862, 49).
		Count(2, 624, 0).
		Unverified(4, 362).
		Build()

	res, err := engine.Reconcile(record, FindDiscrepancies(record))
	require.NoError(t, err)
	require.Len(t, res.Tallies, 3)

	assert.Equal(t, int64(1911), res.Tallies[0].FinalCount)
	assert.Equal(t, model.SourceReconciled, res.Tallies[0].Source)
	assert.Equal(t, int64(624), res.Tallies[1].FinalCount)
	assert.Equal(t, model.SourceMachine, res.Tallies[1].Source)
	assert.Equal(t, int64(362), res.Tallies[2].FinalCount)
	assert.True(t, res.Tallies[2].MissingVerification)
}

func TestStrategyByName(t *testing.T) {
	s, err := StrategyByName("")
	require.NoError(t, err)
	assert.Equal(t, StrategyOverride, s.Name())

	s, err = StrategyByName(" SUM ")
	require.NoError(t, err)
	assert.Equal(t, StrategySum, s.Name())

	_, err = StrategyByName("average")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
