package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/rpc"
)

// NPCTracker owns one registered NPC kind: a single worker consuming a
// single serial queue of dispatched objects (spec §4.6) — no cloning, no
// waiting state, unlike PlayerTracker.
type NPCTracker struct {
	Name string

	entity   rpc.EntityID
	client   *rpc.Client
	console  *Console
	analyzer NPCAnalyzer
	state    *AtomicState

	mu     sync.RWMutex
	memory map[string]interface{}

	queue chan *blackboard.Object
}

// NewNPCTracker constructs the NPC's console and analyzer instance eagerly;
// unlike players, an NPC has exactly one long-lived instance.
func NewNPCTracker(name string, ctor registry.Constructor, options map[string]interface{}, server *rpc.Server) (*NPCTracker, error) {
	entity := rpc.EntityID{Kind: rpc.EntityNPC, ID: name}
	client := server.NewClient(entity)

	instance, err := ctor(options)
	if err != nil {
		server.RemoveClient(entity)
		return nil, &gmerrors.PlayerCreationError{Name: name, Err: err}
	}
	analyzer, ok := instance.(NPCAnalyzer)
	if !ok {
		server.RemoveClient(entity)
		return nil, &gmerrors.PlayerCreationError{Name: name, Err: fmt.Errorf("does not implement NPCAnalyzer")}
	}

	state := NewAtomicState(StateStopped)
	memory := make(map[string]interface{})
	return &NPCTracker{
		Name:     name,
		entity:   entity,
		client:   client,
		console:  NewConsole(entity, client, state, memory, nil),
		analyzer: analyzer,
		state:    state,
		memory:   memory,
		queue:    make(chan *blackboard.Object, 256),
	}, nil
}

// Dispatch enqueues an object for this NPC's worker. Non-blocking: a full
// queue drops the object and logs, rather than stalling the caller.
func (t *NPCTracker) Dispatch(obj *blackboard.Object) {
	select {
	case t.queue <- obj:
	default:
		logging.TrackerDebug("npc %s: queue full, dropping object %d", t.Name, obj.ID)
	}
}

// Run drives the worker loop until ctx is cancelled.
func (t *NPCTracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.state.Set(StateStopped)
			return
		case obj := <-t.queue:
			t.state.Set(StateRunning)
			if err := t.analyzer.HandleData(ctx, t.console, obj); err != nil {
				logging.TrackerDebug("npc %s: handleData(%d) returned error: %v", t.Name, obj.ID, err)
			}
			t.state.Set(StateStopped)
		}
	}
}

// AggregateState reports whether this NPC is currently handling an object
// (spec §4.4.6 only distinguishes "running" for NPCs: there is no waiting
// state since an NPC never blocks on a console call).
func (t *NPCTracker) AggregateState() State {
	return t.state.Get()
}

// Snapshot captures this NPC's memory dict for save() (spec §6.3: "per-npc
// tracker: name + memory").
func (t *NPCTracker) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[string]interface{}, len(t.memory))
	for k, v := range t.memory {
		cp[k] = v
	}
	return cp
}

// Restore installs a previously saved memory dict; it must be called before
// Run starts consuming the queue.
func (t *NPCTracker) Restore(memory map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if memory == nil {
		return
	}
	t.memory = memory
	t.console = NewConsole(t.entity, t.client, t.state, t.memory, nil)
}
