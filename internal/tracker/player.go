package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/rpc"
)

// Clone is one in-flight delivery to a PlayerTracker: its own entity
// identity, RPC client, console, and liveness state (spec §4.5).
type Clone struct {
	ID      string
	Entity  rpc.EntityID
	State   *AtomicState
	Console *Console

	client    *rpc.Client
	analyzer  PlayerAnalyzer
	tainted   bool
	turnStart time.Time

	mu      sync.Mutex
	ignored bool // past its per-turn cap; excluded from liveness aggregation
}

func (c *Clone) markIgnored() {
	c.mu.Lock()
	c.ignored = true
	c.mu.Unlock()
}

func (c *Clone) isIgnored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignored
}

// PlayerTracker owns one registered player kind: shared memory visible to
// every clone, per-clone memory, the per-kind seen-fact-id sets used to
// avoid re-notifying a clone of a fact it already saw, and the live clone
// registry (spec §4.5).
type PlayerTracker struct {
	Name string

	ctor    registry.Constructor
	options map[string]interface{}
	server  *rpc.Server

	maxTurnTime time.Duration
	cloneSeq    uint64

	mu          sync.RWMutex
	sharedMem   map[string]interface{}
	cloneMem    map[string]map[string]interface{}
	seenFacts   map[string]map[int]bool // kind -> fact id -> seen
	clones      map[string]*Clone
}

// NewPlayerTracker builds a tracker for one registered player kind.
// maxTurnTime <= 0 disables the per-turn cap.
func NewPlayerTracker(name string, ctor registry.Constructor, options map[string]interface{}, server *rpc.Server, maxTurnTime time.Duration) *PlayerTracker {
	return &PlayerTracker{
		Name:        name,
		ctor:        ctor,
		options:     options,
		server:      server,
		maxTurnTime: maxTurnTime,
		sharedMem:   make(map[string]interface{}),
		cloneMem:    make(map[string]map[string]interface{}),
		seenFacts:   make(map[string]map[int]bool),
		clones:      make(map[string]*Clone),
	}
}

// MarkSeen records that this player has now been offered fact/hyp id for
// kind; it returns true the first time a given (kind, id) pair is marked,
// false on every subsequent call (spec invariant 5: no duplicate
// notification of the same record to the same player).
func (t *PlayerTracker) MarkSeen(kind string, id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.seenFacts[kind]
	if !ok {
		set = make(map[int]bool)
		t.seenFacts[kind] = set
	}
	if set[id] {
		return false
	}
	set[id] = true
	return true
}

// SharedMemory exposes the dict shared across every clone of this player.
func (t *PlayerTracker) SharedMemory() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sharedMem
}

func (t *PlayerTracker) cloneMemoryFor(cloneID string) map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	mem, ok := t.cloneMem[cloneID]
	if !ok {
		mem = make(map[string]interface{})
		t.cloneMem[cloneID] = mem
	}
	return mem
}

// createClone allocates a fresh clone id, RPC client, console, and analyzer
// instance (spec §4.5). The clone starts in StateStopped; the caller is
// responsible for running it.
func (t *PlayerTracker) createClone(tainted bool) (*Clone, error) {
	seq := atomic.AddUint64(&t.cloneSeq, 1)
	cloneID := fmt.Sprintf("%s-%d", t.Name, seq)
	entity := rpc.EntityID{Kind: rpc.EntityPlayer, ID: t.Name, CloneID: cloneID}

	client := t.server.NewClient(entity)
	instance, err := t.ctor(t.options)
	if err != nil {
		t.server.RemoveClient(entity)
		return nil, &gmerrors.PlayerCreationError{Name: t.Name, Err: err}
	}
	analyzer, ok := instance.(PlayerAnalyzer)
	if !ok {
		t.server.RemoveClient(entity)
		return nil, &gmerrors.PlayerCreationError{Name: t.Name, Err: fmt.Errorf("does not implement PlayerAnalyzer")}
	}

	state := NewAtomicState(StateStopped)
	cloneMem := t.cloneMemoryFor(cloneID)
	clone := &Clone{
		ID:        cloneID,
		Entity:    entity,
		State:     state,
		Console:   NewConsole(entity, client, state, t.SharedMemory(), cloneMem),
		client:    client,
		analyzer:  analyzer,
		tainted:   tainted,
		turnStart: time.Now(),
	}

	t.mu.Lock()
	t.clones[cloneID] = clone
	t.mu.Unlock()

	return clone, nil
}

func (t *PlayerTracker) retireClone(clone *Clone) {
	t.server.RemoveClient(clone.Entity)
	t.mu.Lock()
	delete(t.clones, clone.ID)
	delete(t.cloneMem, clone.ID)
	t.mu.Unlock()
}

// Dispatch spawns a clone to handle one fact (tainted == false) or
// hypothesis (tainted == true) delivery, running it in its own goroutine.
// The caller (GameMaster) is responsible for the seen-id dedup check via
// MarkSeen before calling Dispatch.
func (t *PlayerTracker) Dispatch(ctx context.Context, rec *record.Record, tainted bool) error {
	clone, err := t.createClone(tainted)
	if err != nil {
		logging.TrackerDebug("player %s: clone creation failed: %v", t.Name, err)
		return err
	}
	go t.runClone(ctx, clone, rec)
	return nil
}

func (t *PlayerTracker) runClone(ctx context.Context, clone *Clone, rec *record.Record) {
	clone.State.Set(StateRunning)
	defer func() {
		clone.State.Set(StateStopped)
		t.retireClone(clone)
	}()

	var err error
	if clone.tainted {
		err = clone.analyzer.HandleHypothesis(ctx, clone.Console, rec)
	} else {
		err = clone.analyzer.HandleFact(ctx, clone.Console, rec)
	}
	if err != nil {
		logging.TrackerDebug("player %s clone %s: handler returned error: %v", t.Name, clone.ID, err)
	}
}

// CheckTurnCaps marks any clone whose wall-clock turn time exceeds the
// configured cap as ignored for liveness purposes (spec §4.4.6): an
// over-long clone no longer blocks quiescence, but it is not killed.
func (t *PlayerTracker) CheckTurnCaps() {
	if t.maxTurnTime <= 0 {
		return
	}
	t.mu.RLock()
	clones := make([]*Clone, 0, len(t.clones))
	for _, cl := range t.clones {
		clones = append(clones, cl)
	}
	t.mu.RUnlock()

	for _, cl := range clones {
		if cl.isIgnored() {
			continue
		}
		if time.Since(cl.turnStart) > t.maxTurnTime {
			cl.markIgnored()
			logging.TrackerDebug("player %s clone %s: exceeded turn cap %s, excluded from liveness", t.Name, cl.ID, t.maxTurnTime)
		}
	}
}

// AggregateState computes this player's contribution to overall engine
// liveness (spec §4.4.6): running if any non-ignored clone is running,
// else waiting if any non-ignored clone is waiting, else stopped.
func (t *PlayerTracker) AggregateState() State {
	t.mu.RLock()
	clones := make([]*Clone, 0, len(t.clones))
	for _, cl := range t.clones {
		clones = append(clones, cl)
	}
	t.mu.RUnlock()

	anyWaiting := false
	for _, cl := range clones {
		if cl.isIgnored() {
			continue
		}
		switch cl.State.Get() {
		case StateRunning:
			return StateRunning
		case StateWaiting:
			anyWaiting = true
		}
	}
	if anyWaiting {
		return StateWaiting
	}
	return StateStopped
}

// ActiveCloneCount reports the number of clones currently tracked, ignored
// or not; the same count Snapshot records as clone_count.
func (t *PlayerTracker) ActiveCloneCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clones)
}

// CloneTainted reports whether a live clone was spawned to handle a
// hypothesis, used to enforce the "yesreally" rule on addFact (spec §6.1's
// final bullet). found is false once the clone has already retired.
func (t *PlayerTracker) CloneTainted(cloneID string) (tainted bool, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cl, ok := t.clones[cloneID]
	if !ok {
		return false, false
	}
	return cl.tainted, true
}

// Snapshot is the save()-able shape of a PlayerTracker (spec §6.3: "per-player
// tracker: name + memory + clone memory + per-kind seen-fact id sets + clone
// count"). In-flight clones are live goroutines and are not themselves
// serialisable; only the persistent dicts they read and write survive a
// save/restore round trip.
type PlayerTrackerSnapshot struct {
	Name        string                            `json:"name"`
	SharedMem   map[string]interface{}            `json:"shared_memory"`
	CloneMem    map[string]map[string]interface{} `json:"clone_memory"`
	SeenFacts   map[string]map[int]bool           `json:"seen_facts"`
	CloneCount  int                               `json:"clone_count"`
}

// Snapshot captures this tracker's persistent state for save().
func (t *PlayerTracker) Snapshot() PlayerTrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	shared := make(map[string]interface{}, len(t.sharedMem))
	for k, v := range t.sharedMem {
		shared[k] = v
	}
	cloneMem := make(map[string]map[string]interface{}, len(t.cloneMem))
	for id, mem := range t.cloneMem {
		cp := make(map[string]interface{}, len(mem))
		for k, v := range mem {
			cp[k] = v
		}
		cloneMem[id] = cp
	}
	seen := make(map[string]map[int]bool, len(t.seenFacts))
	for kind, ids := range t.seenFacts {
		cp := make(map[int]bool, len(ids))
		for id, v := range ids {
			cp[id] = v
		}
		seen[kind] = cp
	}

	return PlayerTrackerSnapshot{
		Name:       t.Name,
		SharedMem:  shared,
		CloneMem:   cloneMem,
		SeenFacts:  seen,
		CloneCount: len(t.clones),
	}
}

// Restore installs a previously saved snapshot's persistent state (spec
// §4.4.8's load()); it must be called before any clone is dispatched.
func (t *PlayerTracker) Restore(snap PlayerTrackerSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap.SharedMem != nil {
		t.sharedMem = snap.SharedMem
	}
	if snap.CloneMem != nil {
		t.cloneMem = snap.CloneMem
	}
	if snap.SeenFacts != nil {
		t.seenFacts = snap.SeenFacts
	}
}

// HasSeen reports whether (kind, id) has already been marked seen, without
// marking it — used by load() to decide which past facts to redeliver (spec
// §4.4.8's "for every fact ... not yet in the player's seen set").
func (t *PlayerTracker) HasSeen(kind string, id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seenFacts[kind][id]
}
