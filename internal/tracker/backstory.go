package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/rpc"
)

type backStoryEntry struct {
	name     string
	weight   int
	entity   rpc.EntityID
	client   *rpc.Client
	console  *Console
	analyzer BackStoryAnalyzer
	memory   map[string]interface{}
}

// BackStoryCategoryTracker runs every back-story registered under one
// category in ascending weight order against each fact delivered to the
// category, short-circuiting as soon as one reports handled (spec §4.4.7).
// Dispatch is strictly serial: one fact is fully resolved across all
// members before the next is taken off the queue.
type BackStoryCategoryTracker struct {
	Category string

	server *rpc.Server
	state  *AtomicState

	mu      sync.Mutex
	entries []*backStoryEntry

	queue chan *record.Record
}

// NewBackStoryCategoryTracker builds an empty category tracker; members are
// attached with Attach as the registry is walked.
func NewBackStoryCategoryTracker(category string, server *rpc.Server) *BackStoryCategoryTracker {
	return &BackStoryCategoryTracker{
		Category: category,
		server:   server,
		state:    NewAtomicState(StateStopped),
		queue:    make(chan *record.Record, 256),
	}
}

// Attach registers one back-story's constructed instance into this
// category, keeping the member list sorted by ascending weight (lower
// weight runs first).
func (t *BackStoryCategoryTracker) Attach(name string, weight int, ctor registry.Constructor, options map[string]interface{}) error {
	entity := rpc.EntityID{Kind: rpc.EntityBackStory, ID: name}
	client := t.server.NewClient(entity)

	instance, err := ctor(options)
	if err != nil {
		t.server.RemoveClient(entity)
		return &gmerrors.PlayerCreationError{Name: name, Err: err}
	}
	analyzer, ok := instance.(BackStoryAnalyzer)
	if !ok {
		t.server.RemoveClient(entity)
		return &gmerrors.PlayerCreationError{Name: name, Err: fmt.Errorf("does not implement BackStoryAnalyzer")}
	}

	memory := make(map[string]interface{})
	entry := &backStoryEntry{
		name:     name,
		weight:   weight,
		entity:   entity,
		client:   client,
		console:  NewConsole(entity, client, nil, memory, nil),
		analyzer: analyzer,
		memory:   memory,
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	sort.SliceStable(t.entries, func(i, j int) bool { return t.entries[i].weight < t.entries[j].weight })
	t.mu.Unlock()
	return nil
}

// Dispatch enqueues a fact for this category's dispatch loop.
func (t *BackStoryCategoryTracker) Dispatch(fact *record.Record) {
	select {
	case t.queue <- fact:
	default:
		logging.TrackerDebug("backstory category %s: queue full, dropping fact %d", t.Category, fact.ID)
	}
}

// Run drives the category's dispatch loop until ctx is cancelled.
func (t *BackStoryCategoryTracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.state.Set(StateStopped)
			return
		case fact := <-t.queue:
			t.state.Set(StateRunning)
			t.dispatchOne(ctx, fact)
			t.state.Set(StateStopped)
		}
	}
}

func (t *BackStoryCategoryTracker) dispatchOne(ctx context.Context, fact *record.Record) {
	t.mu.Lock()
	entries := make([]*backStoryEntry, len(t.entries))
	copy(entries, t.entries)
	t.mu.Unlock()

	for _, e := range entries {
		handled, err := e.analyzer.HandleFact(ctx, e.console, fact)
		if err != nil {
			logging.TrackerDebug("backstory %s (category %s): error on fact %d: %v", e.name, t.Category, fact.ID, err)
			continue
		}
		if handled {
			logging.TrackerDebug("backstory %s (category %s): short-circuited fact %d", e.name, t.Category, fact.ID)
			return
		}
	}
}

// AggregateState reports whether this category is currently dispatching a
// fact (spec §4.4.6: back-story categories only ever report running, same
// as NPCs — they never block on a waiting console call).
func (t *BackStoryCategoryTracker) AggregateState() State {
	return t.state.Get()
}

// Snapshot captures every member back-story's memory dict, keyed by name,
// for save() (spec §6.3: "per-back-story tracker: name + memory").
func (t *BackStoryCategoryTracker) Snapshot() map[string]map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(t.entries))
	for _, e := range t.entries {
		cp := make(map[string]interface{}, len(e.memory))
		for k, v := range e.memory {
			cp[k] = v
		}
		out[e.name] = cp
	}
	return out
}

// Restore installs previously saved memory dicts onto the matching
// already-attached member back-stories, by name.
func (t *BackStoryCategoryTracker) Restore(byName map[string]map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		mem, ok := byName[e.name]
		if !ok {
			continue
		}
		e.memory = mem
		e.console = NewConsole(e.entity, e.client, nil, e.memory, nil)
	}
}
