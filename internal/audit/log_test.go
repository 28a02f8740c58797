package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	fail    error
	entries []model.AuditEntry
	mu      sync.Mutex
}

func (s *memorySink) AppendAuditEntry(_ context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, e)
	return nil
}

func fixedClock() func() time.Time {
	ts := time.Date(2025, 6, 3, 22, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestLog_AppendAssignsSequenceAndChain(t *testing.T) {
	log := NewLog(WithClock(fixedClock()))

	require.NoError(t, log.Record("box-001", model.StageExtract, "page 1"))
	require.NoError(t, log.Record("box-001", model.StageDetect, "0 discrepancies"))
	require.NoError(t, log.Record("box-002", model.StageExtract, "page 2"))

	entries := log.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.NotEmpty(t, e.Hash)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Empty(t, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)

	assert.NoError(t, log.Verify())
}

func TestLog_ForBox(t *testing.T) {
	log := NewLog()
	require.NoError(t, log.Record("box-001", model.StageExtract, "a"))
	require.NoError(t, log.Record("box-002", model.StageExtract, "b"))
	require.NoError(t, log.Record("box-001", model.StageReconcile, "c"))

	trail := log.ForBox("box-001")
	require.Len(t, trail, 2)
	assert.Equal(t, model.StageExtract, trail[0].Stage)
	assert.Equal(t, model.StageReconcile, trail[1].Stage)
	assert.Empty(t, log.ForBox("box-404"))
}

func TestLog_RejectsUnknownStage(t *testing.T) {
	log := NewLog()
	err := log.Record("box-001", model.Stage("export"), "x")
	assert.ErrorIs(t, err, ErrInvalidStage)
	assert.Equal(t, 0, log.Len())
}

func TestLog_SinkMirrorsEntries(t *testing.T) {
	sink := &memorySink{}
	log := NewLog(WithSink(sink))

	require.NoError(t, log.Record("box-001", model.StageExtract, "a"))
	require.NoError(t, log.Record("box-001", model.StageDetect, "b"))

	assert.Equal(t, log.Entries(), sink.entries)
	assert.NoError(t, log.Err())
}

func TestLog_SinkFailureIsNotSwallowed(t *testing.T) {
	sink := &memorySink{fail: errors.New("disk full")}
	log := NewLog(WithSink(sink))

	err := log.Record("box-001", model.StageExtract, "a")
	require.Error(t, err)
	assert.Equal(t, 0, log.Len(), "entry must not be visible when persisting failed")
	assert.ErrorContains(t, log.Err(), "disk full")

	sink.fail = nil
	require.NoError(t, log.Record("box-001", model.StageExtract, "a"))
	assert.Equal(t, int64(1), log.Entries()[0].Seq)
	assert.Error(t, log.Err(), "first failure stays sticky")
}

func TestLog_ConcurrentWriters(t *testing.T) {
	log := NewLog()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			box := fmt.Sprintf("box-%03d", w)
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, log.Record(box, model.StageExtract, fmt.Sprintf("entry %d", i)))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, log.Len())
	assert.NoError(t, log.Verify())
	for w := 0; w < writers; w++ {
		assert.Len(t, log.ForBox(fmt.Sprintf("box-%03d", w)), perWriter)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	log := NewLog(WithClock(fixedClock()))
	for i := 0; i < 4; i++ {
		require.NoError(t, log.Record("box-001", model.StageExtract, fmt.Sprintf("entry %d", i)))
	}

	tests := []struct {
		name   string
		mutate func([]model.AuditEntry) []model.AuditEntry
	}{
		{
			name: "edited detail",
			mutate: func(e []model.AuditEntry) []model.AuditEntry {
				e[1].Detail = "final_count=999"
				return e
			},
		},
		{
			name: "dropped entry",
			mutate: func(e []model.AuditEntry) []model.AuditEntry {
				return append(e[:1], e[2:]...)
			},
		},
		{
			name: "swapped entries",
			mutate: func(e []model.AuditEntry) []model.AuditEntry {
				e[1], e[2] = e[2], e[1]
				return e
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := tt.mutate(log.Entries())
			assert.ErrorIs(t, Verify(entries), ErrChainBroken)
		})
	}
}
