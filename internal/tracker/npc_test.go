package tracker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthropics/gmengine/internal/blackboard"
)

type fakeNPC struct {
	handled int32
	lastID  int32
}

func (f *fakeNPC) HandleData(ctx context.Context, console *Console, obj *blackboard.Object) error {
	atomic.AddInt32(&f.handled, 1)
	atomic.StoreInt32(&f.lastID, int32(obj.ID))
	return nil
}

func TestNPCTrackerSerialDispatch(t *testing.T) {
	server := newTestServer()
	npc := &fakeNPC{}
	ctor := func(options map[string]interface{}) (interface{}, error) { return npc, nil }

	nt, err := NewNPCTracker("hasher", ctor, nil, server)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go nt.Run(ctx)

	for i := 0; i < 5; i++ {
		nt.Dispatch(&blackboard.Object{ID: i})
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&npc.handled) == 5 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return nt.AggregateState() == StateStopped }, time.Second, time.Millisecond)
}

func TestNPCTrackerConstructionFailure(t *testing.T) {
	server := newTestServer()
	ctor := func(options map[string]interface{}) (interface{}, error) { return nil, fmt.Errorf("boom") }
	_, err := NewNPCTracker("broken", ctor, nil, server)
	require.Error(t, err)
}

func TestNPCTrackerWrongInterfaceRejected(t *testing.T) {
	server := newTestServer()
	ctor := func(options map[string]interface{}) (interface{}, error) { return struct{}{}, nil }
	_, err := NewNPCTracker("wrong-shape", ctor, nil, server)
	require.Error(t, err)
}

type memoryNPC struct{}

func (memoryNPC) HandleData(ctx context.Context, console *Console, obj *blackboard.Object) error {
	n, _ := console.Memory()["seen"].(int)
	console.Memory()["seen"] = n + 1
	return nil
}

func TestNPCTrackerSnapshotRestoreRoundTrip(t *testing.T) {
	server := newTestServer()
	ctor := func(options map[string]interface{}) (interface{}, error) { return memoryNPC{}, nil }
	nt, err := NewNPCTracker("counter", ctor, nil, server)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go nt.Run(ctx)

	nt.Dispatch(&blackboard.Object{ID: 1})
	require.Eventually(t, func() bool { return nt.Snapshot()["seen"] == 1 }, time.Second, time.Millisecond)

	snap := nt.Snapshot()
	other, err := NewNPCTracker("counter", ctor, nil, server)
	require.NoError(t, err)
	other.Restore(snap)
	require.Equal(t, 1, other.Snapshot()["seen"])
}
