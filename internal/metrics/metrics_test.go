package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeUplink struct {
	mu      sync.Mutex
	batches [][]Event
	hashes  []string
}

func (f *fakeUplink) PostEvents(ctx context.Context, documentHash string, batch []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	f.hashes = append(f.hashes, documentHash)
	return nil
}

func (f *fakeUplink) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestRecordFlushesAfterMinDebounce(t *testing.T) {
	up := &fakeUplink{}
	r := NewReporter(up, Options{DocumentHash: "abc123", MinDebounce: 20 * time.Millisecond, MaxDebounce: time.Second})

	r.Record(context.Background(), Event{Kind: EventSuccess, Provider: "p"})
	require.Equal(t, 0, up.flushCount())

	require.Eventually(t, func() bool { return up.flushCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "abc123", up.hashes[0])
	require.Len(t, up.batches[0], 1)
}

func TestRecordBatchesRapidEvents(t *testing.T) {
	up := &fakeUplink{}
	r := NewReporter(up, Options{MinDebounce: 30 * time.Millisecond, MaxDebounce: time.Second})

	for i := 0; i < 5; i++ {
		r.Record(context.Background(), Event{Kind: EventFailure, Provider: "p"})
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return up.flushCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, up.batches[0], 5)
}

func TestMaxDebounceForcesFlushUnderContinuousLoad(t *testing.T) {
	up := &fakeUplink{}
	r := NewReporter(up, Options{MinDebounce: 20 * time.Millisecond, MaxDebounce: 60 * time.Millisecond})

	stop := time.After(150 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		default:
			r.Record(context.Background(), Event{Kind: EventSuccess})
			time.Sleep(10 * time.Millisecond)
		}
	}

	require.GreaterOrEqual(t, up.flushCount(), 2)
}

func TestBeforeExitFlushesImmediately(t *testing.T) {
	up := &fakeUplink{}
	r := NewReporter(up, Options{MinDebounce: time.Hour, MaxDebounce: time.Hour})

	r.Record(context.Background(), Event{Kind: EventProviderSwitch})
	require.Equal(t, 0, up.flushCount())

	require.NoError(t, r.BeforeExit(context.Background()))
	require.Equal(t, 1, up.flushCount())
}

func TestDisabledReporterNeverFlushes(t *testing.T) {
	up := &fakeUplink{}
	r := NewReporter(up, Options{Disabled: true, MinDebounce: time.Millisecond, MaxDebounce: time.Millisecond})

	r.Record(context.Background(), Event{Kind: EventSuccess})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, up.flushCount())

	require.NoError(t, r.BeforeExit(context.Background()))
	require.Equal(t, 0, up.flushCount())
}
