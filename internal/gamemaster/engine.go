// Package gamemaster implements the coordinator (spec §4.4): the sole
// writer of blackboard state, the owner of the RPC server and every
// tracker, and the authority for routing, promotion, and quiescence
// policy.
package gamemaster

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/rpc"
	"github.com/anthropics/gmengine/internal/tracker"
)

// Config carries the engine's own §6.2 "engine" section knobs.
type Config struct {
	GraceTime           time.Duration
	MaxGameTime         time.Duration // 0 = unlimited
	MaxTurnTime         time.Duration // 0 = unlimited
	TemporaryBase       string
	IdleTicksBeforeStop int // default 100
}

func (c Config) withDefaults() Config {
	if c.IdleTicksBeforeStop <= 0 {
		c.IdleTicksBeforeStop = 100
	}
	if c.GraceTime <= 0 {
		c.GraceTime = time.Second
	}
	if c.TemporaryBase == "" {
		c.TemporaryBase = os.TempDir()
	}
	return c
}

// Engine is the GameMaster (spec §2 component G). It is the blackboard's
// sole writer; every other component reaches it only through the RPC
// fabric.
type Engine struct {
	cfg      Config
	version  string
	registry *registry.Registry
	board    *blackboard.Blackboard
	server   *rpc.Server

	descriptors map[string]record.Descriptor

	players    map[string]*tracker.PlayerTracker
	npcs       map[string]*tracker.NPCTracker
	categories map[string]*tracker.BackStoryCategoryTracker

	playerFactInterests map[string]map[string]bool
	playerHypInterests  map[string]map[string]bool
	categoryInterests   map[string]map[string]bool

	mu              sync.Mutex
	factSubs        []*subscription
	hypSubs         []*subscription
	childFactSubs   []*subscription
	childHypSubs    []*subscription
	childObjectSubs []*subscription
	waiters         []*waiter

	// idleTicks is touched only from the rpc.Server's single poll goroutine
	// (the idle function), never concurrently, so it needs no lock of its
	// own (spec §5: the idle function is the server's single quiescence
	// authority).
	idleTicks int
	startedAt time.Time

	tempSeq uint64

	stopRequested int32
}

// New builds an Engine. descriptors maps every registered record kind to
// its field schema (spec §3.1, §9's re-architected descriptor registry);
// the union of its keys is the set of kinds the blackboard tables accept.
func New(cfg Config, version string, reg *registry.Registry, descriptors map[string]record.Descriptor) *Engine {
	cfg = cfg.withDefaults()
	known := make(map[string]bool, len(descriptors))
	for kind, desc := range descriptors {
		known[kind] = true
		reg.RegisterRecordGroup(desc.Group, kind)
	}

	e := &Engine{
		cfg:                 cfg,
		version:             version,
		registry:            reg,
		board:               blackboard.New(known),
		descriptors:         descriptors,
		players:             make(map[string]*tracker.PlayerTracker),
		npcs:                make(map[string]*tracker.NPCTracker),
		categories:          make(map[string]*tracker.BackStoryCategoryTracker),
		playerFactInterests: make(map[string]map[string]bool),
		playerHypInterests:  make(map[string]map[string]bool),
		categoryInterests:   make(map[string]map[string]bool),
		startedAt:           time.Now(),
	}
	e.server = rpc.NewServer(e.idleFunc, 0, func() string { return uuid.New().String() })
	e.registerHandlers()
	return e
}

// Blackboard exposes the shared store for read-only callers (screens,
// save/restore).
func (e *Engine) Blackboard() *blackboard.Blackboard { return e.board }

// expandInterests resolves a declared interest list into concrete record
// kinds (spec §3.1): a name that is itself a known kind is kept as-is, and
// a name that is a registered record group is expanded to its member
// kinds — a subscriber may mix literal kinds and group names freely.
func (e *Engine) expandInterests(names []string) []string {
	var out []string
	for _, name := range names {
		if _, ok := e.descriptors[name]; ok {
			out = append(out, name)
		}
		members, err := e.registry.ExpandGroup(name)
		if err != nil {
			logging.GameMasterWarn("expand record group %q: %v", name, err)
			continue
		}
		out = append(out, members...)
	}
	return out
}

func (e *Engine) categoryFor(category string) *tracker.BackStoryCategoryTracker {
	if cat, ok := e.categories[category]; ok {
		return cat
	}
	cat := tracker.NewBackStoryCategoryTracker(category, e.server)
	e.categories[category] = cat
	return cat
}

// Start builds every tracker from the registry's current contents (spec
// §4.4.1). options supplies each registered kind's parsed option bag by
// name; a nil map is treated as "no options" for every kind.
func (e *Engine) Start(options map[string]map[string]interface{}) {
	for _, name := range e.registry.Names(registry.KindPlayer) {
		meta, ctor, ok := e.registry.Get(registry.KindPlayer, name)
		if !ok {
			continue
		}
		e.players[name] = tracker.NewPlayerTracker(name, ctor, options[name], e.server, e.cfg.MaxTurnTime)
		e.playerFactInterests[name] = kindsSet(e.expandInterests(meta.FactInterests))
		e.playerHypInterests[name] = kindsSet(e.expandInterests(meta.HypInterests))
	}

	for _, name := range e.registry.Names(registry.KindNPC) {
		_, ctor, ok := e.registry.Get(registry.KindNPC, name)
		if !ok {
			continue
		}
		nt, err := tracker.NewNPCTracker(name, ctor, options[name], e.server)
		if err != nil {
			logging.GameMasterWarn("npc %q: %v", name, err)
			continue
		}
		e.npcs[name] = nt
	}

	for _, name := range e.registry.Names(registry.KindBackStory) {
		meta, ctor, ok := e.registry.Get(registry.KindBackStory, name)
		if !ok {
			continue
		}
		cat := e.categoryFor(meta.Category)
		if err := cat.Attach(name, meta.Weight, ctor, options[name]); err != nil {
			logging.GameMasterWarn("backstory %q: %v", name, err)
			continue
		}
		set := e.categoryInterests[meta.Category]
		if set == nil {
			set = make(map[string]bool)
			e.categoryInterests[meta.Category] = set
		}
		for _, k := range e.expandInterests(meta.FactInterests) {
			set[k] = true
		}
	}
}

// Run drives every NPC and back-story category worker alongside the RPC
// server until the idle function declares quiescence or ctx is cancelled
// (spec §4.4.6, §5). It returns once every worker has exited.
func (e *Engine) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(workerCtx)
	for _, npc := range e.npcs {
		npc := npc
		g.Go(func() error { npc.Run(gctx); return nil })
	}
	for _, cat := range e.categories {
		cat := cat
		g.Go(func() error { cat.Run(gctx); return nil })
	}

	e.server.Run(ctx)
	cancel()
	return g.Wait()
}

// Stop requests a clean shutdown at the next idle-function poll (spec
// §6.4's "top-level operator requests a stop").
func (e *Engine) Stop() {
	atomic.StoreInt32(&e.stopRequested, 1)
}

// idleFunc implements the termination policy of spec §4.4.6, consulted by
// the RPC server whenever its inbound queue is empty.
func (e *Engine) idleFunc(lastRequestAt time.Time) bool {
	if atomic.LoadInt32(&e.stopRequested) == 1 {
		logging.GameMaster("quiescence: operator-requested stop")
		return true
	}
	if e.cfg.MaxGameTime > 0 && time.Since(e.startedAt) > e.cfg.MaxGameTime {
		logging.GameMaster("quiescence: max game time %s exceeded", e.cfg.MaxGameTime)
		return true
	}

	for _, cat := range e.categories {
		if cat.AggregateState() == tracker.StateRunning {
			e.idleTicks = 0
			return false
		}
	}

	anyWaiting := false
	for _, p := range e.players {
		p.CheckTurnCaps()
		switch p.AggregateState() {
		case tracker.StateRunning:
			e.idleTicks = 0
			return false
		case tracker.StateWaiting:
			anyWaiting = true
		}
	}

	for _, n := range e.npcs {
		if n.AggregateState() == tracker.StateRunning {
			e.idleTicks = 0
			return false
		}
	}

	if anyWaiting {
		if time.Since(lastRequestAt) > e.cfg.GraceTime {
			logging.GameMaster("quiescence: waiting clone(s) past grace window %s", e.cfg.GraceTime)
			return true
		}
		e.idleTicks = 0
		return false
	}

	e.idleTicks++
	if e.idleTicks >= e.cfg.IdleTicksBeforeStop {
		logging.GameMaster("quiescence: %d consecutive idle ticks", e.idleTicks)
		return true
	}
	return false
}

// SeedObject inserts the engine's initial binary input with creator
// "GameMaster" and dispatches it to every NPC (spec §4.4.1, §4.4.2).
func (e *Engine) SeedObject(data []byte, metadata map[string]interface{}, encoding string) (*blackboard.Object, error) {
	obj, duplicate, err := e.board.AddObject(data, metadata, "GameMaster", encoding, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if !duplicate {
		for _, npc := range e.npcs {
			npc.Dispatch(obj)
		}
		e.notifyChildObjectSubs(obj, rpc.EntityID{})
	}
	return obj, nil
}

// SeedBackStoryFact inserts one of the engine's seed "back-story facts"
// (spec §4.4.1) as a fact with creator "GameMaster", routing it exactly as
// a normal addFact would — including back-story category dispatch.
func (e *Engine) SeedBackStoryFact(ctx context.Context, kind string, fields map[string]interface{}) (int, error) {
	desc, ok := e.descriptors[kind]
	if !ok {
		return 0, fmt.Errorf("gamemaster: unknown record kind %q", kind)
	}
	validated, err := desc.Validate(fields)
	if err != nil {
		return 0, err
	}
	rec := record.New(kind, false, validated, nil, nil, nil)
	rec.Creator = "GameMaster"

	id, err := e.board.AddFact(rec)
	if err != nil {
		return 0, err
	}

	e.notifyFactSubs(rec, rpc.EntityID{})
	e.notifyChildFactSubs(rec, rpc.EntityID{})
	e.satisfyWaiters(rec)
	e.spawnInterestedPlayers(ctx, rec, rpc.EntityID{}, false)
	e.dispatchBackStoryFact(rec)
	return id, nil
}
