package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/rpc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer() *rpc.Server {
	var seq int64
	return rpc.NewServer(nil, time.Millisecond, func() string {
		n := atomic.AddInt64(&seq, 1)
		return fmt.Sprintf("stream-%d", n)
	})
}

type fakePlayer struct {
	onFact func(ctx context.Context, console *Console, fact *record.Record)
	onHyp  func(ctx context.Context, console *Console, hyp *record.Record)
}

func (f *fakePlayer) HandleFact(ctx context.Context, console *Console, fact *record.Record) error {
	if f.onFact != nil {
		f.onFact(ctx, console, fact)
	}
	return nil
}

func (f *fakePlayer) HandleHypothesis(ctx context.Context, console *Console, hyp *record.Record) error {
	if f.onHyp != nil {
		f.onHyp(ctx, console, hyp)
	}
	return nil
}

func TestPlayerTrackerDispatchRunsClone(t *testing.T) {
	server := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	var called int32
	var seenCloneID string
	ctor := func(options map[string]interface{}) (interface{}, error) {
		return &fakePlayer{
			onFact: func(ctx context.Context, console *Console, fact *record.Record) {
				atomic.StoreInt32(&called, 1)
			},
		}, nil
	}

	pt := NewPlayerTracker("watcher", ctor, nil, server, 0)
	rec := &record.Record{ID: 1, Kind: "sighting"}

	require.NoError(t, pt.Dispatch(ctx, rec, false))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&called) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return pt.ActiveCloneCount() == 0 }, time.Second, time.Millisecond)
	_ = seenCloneID
}

func TestPlayerTrackerMarkSeenDedup(t *testing.T) {
	server := newTestServer()
	pt := NewPlayerTracker("watcher", nil, nil, server, 0)

	require.True(t, pt.MarkSeen("sighting", 1))
	require.False(t, pt.MarkSeen("sighting", 1))
	require.True(t, pt.MarkSeen("sighting", 2))
	require.True(t, pt.MarkSeen("other-kind", 1))
}

func TestPlayerTrackerAggregateState(t *testing.T) {
	server := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	release := make(chan struct{})
	var wg sync.WaitGroup
	ctor := func(options map[string]interface{}) (interface{}, error) {
		return &fakePlayer{
			onFact: func(ctx context.Context, console *Console, fact *record.Record) {
				wg.Add(1)
				defer wg.Done()
				<-release
			},
		}, nil
	}

	pt := NewPlayerTracker("blocker", ctor, nil, server, 0)
	require.Equal(t, StateStopped, pt.AggregateState())

	require.NoError(t, pt.Dispatch(ctx, &record.Record{ID: 1, Kind: "k"}, false))
	require.Eventually(t, func() bool { return pt.AggregateState() == StateRunning }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return pt.AggregateState() == StateStopped }, time.Second, time.Millisecond)
}

func TestPlayerTrackerCreationFailureSkipsDelivery(t *testing.T) {
	server := newTestServer()
	ctor := func(options map[string]interface{}) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	}
	pt := NewPlayerTracker("broken", ctor, nil, server, 0)
	err := pt.Dispatch(context.Background(), &record.Record{ID: 1, Kind: "k"}, false)
	require.Error(t, err)
	require.Equal(t, 0, pt.ActiveCloneCount())
}

func TestPlayerTrackerWrongInterfaceRejected(t *testing.T) {
	server := newTestServer()
	ctor := func(options map[string]interface{}) (interface{}, error) {
		return struct{}{}, nil
	}
	pt := NewPlayerTracker("wrong-shape", ctor, nil, server, 0)
	err := pt.Dispatch(context.Background(), &record.Record{ID: 1, Kind: "k"}, false)
	require.Error(t, err)
}

func TestPlayerTrackerTurnCapIgnoresStaleClone(t *testing.T) {
	server := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	release := make(chan struct{})
	ctor := func(options map[string]interface{}) (interface{}, error) {
		return &fakePlayer{
			onFact: func(ctx context.Context, console *Console, fact *record.Record) {
				<-release
			},
		}, nil
	}

	pt := NewPlayerTracker("slow", ctor, nil, server, time.Millisecond)
	require.NoError(t, pt.Dispatch(ctx, &record.Record{ID: 1, Kind: "k"}, false))

	require.Eventually(t, func() bool { return pt.AggregateState() == StateRunning }, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	pt.CheckTurnCaps()
	require.Equal(t, StateStopped, pt.AggregateState())

	close(release)
}

func TestPlayerTrackerSharedMemoryVisibleAcrossClones(t *testing.T) {
	server := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	ctor := func(options map[string]interface{}) (interface{}, error) {
		return &fakePlayer{
			onFact: func(ctx context.Context, console *Console, fact *record.Record) {
				n, _ := console.Memory()["count"].(int)
				console.Memory()["count"] = n + 1
			},
		}, nil
	}

	pt := NewPlayerTracker("counter", ctor, nil, server, 0)
	require.NoError(t, pt.Dispatch(ctx, &record.Record{ID: 1, Kind: "k"}, false))
	require.Eventually(t, func() bool { return pt.ActiveCloneCount() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pt.Dispatch(ctx, &record.Record{ID: 2, Kind: "k"}, false))
	require.Eventually(t, func() bool { return pt.ActiveCloneCount() == 0 }, time.Second, time.Millisecond)

	require.Equal(t, 2, pt.SharedMemory()["count"])
}

func TestPlayerTrackerCloneTainted(t *testing.T) {
	server := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	release := make(chan struct{})
	ctor := func(options map[string]interface{}) (interface{}, error) {
		return &fakePlayer{
			onHyp: func(ctx context.Context, console *Console, hyp *record.Record) {
				<-release
			},
		}, nil
	}

	pt := NewPlayerTracker("tainted-check", ctor, nil, server, 0)
	require.NoError(t, pt.Dispatch(ctx, &record.Record{ID: 1, Kind: "h", Tainted: true}, true))

	var cloneID string
	require.Eventually(t, func() bool {
		pt.mu.RLock()
		defer pt.mu.RUnlock()
		for id := range pt.clones {
			cloneID = id
		}
		return cloneID != ""
	}, time.Second, time.Millisecond)

	tainted, found := pt.CloneTainted(cloneID)
	require.True(t, found)
	require.True(t, tainted)

	close(release)
	require.Eventually(t, func() bool { return pt.ActiveCloneCount() == 0 }, time.Second, time.Millisecond)
	_, found = pt.CloneTainted(cloneID)
	require.False(t, found)
}

func TestPlayerTrackerSnapshotRestoreRoundTrip(t *testing.T) {
	server := newTestServer()
	pt := NewPlayerTracker("snapper", nil, nil, server, 0)
	pt.SharedMemory()["k"] = "v"
	pt.MarkSeen("sighting", 1)
	pt.MarkSeen("sighting", 2)

	snap := pt.Snapshot()
	require.Equal(t, "snapper", snap.Name)
	require.Equal(t, "v", snap.SharedMem["k"])
	require.True(t, snap.SeenFacts["sighting"][1])

	restored := NewPlayerTracker("snapper", nil, nil, server, 0)
	restored.Restore(snap)
	require.Equal(t, "v", restored.SharedMemory()["k"])
	require.True(t, restored.HasSeen("sighting", 1))
	require.True(t, restored.HasSeen("sighting", 2))
	require.False(t, restored.HasSeen("sighting", 3))
}
