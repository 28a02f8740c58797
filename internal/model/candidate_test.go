package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateSet_DefaultBallot(t *testing.T) {
	set, err := NewCandidateSet(DefaultCandidates())
	require.NoError(t, err)

	assert.Equal(t, []CandidateID{1, 2, 4, 5, 8}, set.IDs())
	assert.Equal(t, 5, set.Len())
	for _, withdrawn := range []CandidateID{3, 6, 7, InvalidVotes} {
		assert.False(t, set.Contains(withdrawn), "candidate %d", withdrawn)
	}

	c, ok := set.Get(4)
	require.True(t, ok)
	assert.Equal(t, "개혁신당", c.Party)
}

func TestCandidateSet_ByName(t *testing.T) {
	set, err := NewCandidateSet(DefaultCandidates())
	require.NoError(t, err)

	id, ok := set.ByName("이준석")
	require.True(t, ok)
	assert.Equal(t, CandidateID(4), id)

	id, ok = set.ByName(" 이 재명 ")
	require.True(t, ok)
	assert.Equal(t, CandidateID(1), id)

	for _, name := range []string{"", "홍길동", "4"} {
		_, ok := set.ByName(name)
		assert.False(t, ok, name)
	}
}

func TestNewCandidateSet_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		errMsg     string
		candidates []Candidate
	}{
		{
			name:       "duplicate id",
			candidates: []Candidate{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}},
			errMsg:     "duplicate candidate id 1",
		},
		{
			name:       "reserved invalid id",
			candidates: []Candidate{{ID: 0, Name: "void"}},
			errMsg:     "id must be positive",
		},
		{
			name:       "negative id",
			candidates: []Candidate{{ID: -2, Name: "x"}},
			errMsg:     "id must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCandidateSet(tt.candidates)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCandidateID_String(t *testing.T) {
	assert.Equal(t, "C8", CandidateID(8).String())
	assert.Equal(t, "invalid", InvalidVotes.String())
}

func TestBallotBoxRecord_CandidateIDs(t *testing.T) {
	r := &BallotBoxRecord{Counts: map[CandidateID]CountPair{
		5:            {Machine: 40},
		1:            {Machine: 100, Human: 105, HumanVerified: true},
		InvalidVotes: {Machine: 2, Human: 2, HumanVerified: true},
	}}

	assert.Equal(t, []CandidateID{InvalidVotes, 1, 5}, r.CandidateIDs())
	assert.Equal(t, []CandidateID{5}, r.UnverifiedCandidates())
	assert.Equal(t, int64(5), r.Counts[1].Delta())
}

func TestAggregateReport_Complete(t *testing.T) {
	r := &AggregateReport{BoxesExpected: 3, BoxesProcessed: 3}
	assert.True(t, r.Complete())

	r.ExcludedBoxes = []ExcludedBox{{BoxID: "box-002"}}
	assert.False(t, r.Complete())
}
