package gamemaster

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/rpc"
	"github.com/anthropics/gmengine/internal/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testDescriptors() map[string]record.Descriptor {
	return map[string]record.Descriptor{
		"hash": record.NewDescriptor("hash", "",
			record.FieldSpec{Name: "algorithm", Type: record.TypeString, Required: true},
			record.FieldSpec{Name: "value", Type: record.TypeString, Required: true},
		),
		"mimetype": record.NewDescriptor("mimetype", "",
			record.FieldSpec{Name: "mime", Type: record.TypeString, Required: true},
		),
		"seed": record.NewDescriptor("seed", "",
			record.FieldSpec{Name: "note", Type: record.TypeString},
		),
		"loot": record.NewDescriptor("loot", "",
			record.FieldSpec{Name: "note", Type: record.TypeString},
		),
	}
}

// --- Scenario 1: hash pipeline ---

type hashNPC struct{}

func (hashNPC) HandleData(ctx context.Context, console *tracker.Console, obj *blackboard.Object) error {
	for _, algo := range []string{"md5", "sha1", "sha256", "ssdeep"} {
		fields := map[string]interface{}{"algorithm": algo, "value": algo + ":" + obj.Hash}
		if _, err := console.AddFact(ctx, tracker.FactInput{
			Kind:          "hash",
			Fields:        fields,
			ParentObjects: []int{obj.ID},
		}, false); err != nil {
			return err
		}
	}
	return nil
}

func TestHashPipeline(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.KindNPC, "hasher", registry.Metadata{Name: "hasher"},
		func(map[string]interface{}) (interface{}, error) { return hashNPC{}, nil }))

	e := New(Config{}, "1.0.0", reg, testDescriptors())
	e.Start(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	_, err := e.SeedObject([]byte("testtest"), nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		col, _ := e.Blackboard().Facts.GetColumn("hash")
		return len(col) == 4
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	obj, ok := e.Blackboard().Objects.FindByID(0)
	require.True(t, ok)
	require.Len(t, obj.ChildFacts, 4)

	col, err := e.Blackboard().Facts.GetColumn("hash")
	require.NoError(t, err)
	require.Len(t, col, 4)
	for _, r := range col {
		require.True(t, r.ParentObjects.Has(0))
		require.Empty(t, r.ChildFacts)
	}
}

// --- Scenario 2: fact subscription fan-out ---

type watcherPlayer struct {
	calls *int32
}

func (w *watcherPlayer) HandleFact(ctx context.Context, console *tracker.Console, fact *record.Record) error {
	atomic.AddInt32(w.calls, 1)
	return nil
}

func (w *watcherPlayer) HandleHypothesis(ctx context.Context, console *tracker.Console, hyp *record.Record) error {
	return nil
}

func TestFactSubscriptionFanOut(t *testing.T) {
	reg := registry.New()
	var calls1, calls2 int32
	require.NoError(t, reg.Register(registry.KindPlayer, "p1", registry.Metadata{Name: "p1", FactInterests: []string{"mimetype"}},
		func(map[string]interface{}) (interface{}, error) { return &watcherPlayer{calls: &calls1}, nil }))
	require.NoError(t, reg.Register(registry.KindPlayer, "p2", registry.Metadata{Name: "p2", FactInterests: []string{"mimetype"}},
		func(map[string]interface{}) (interface{}, error) { return &watcherPlayer{calls: &calls2}, nil }))

	e := New(Config{}, "1.0.0", reg, testDescriptors())
	e.Start(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	_, err := e.SeedBackStoryFact(ctx, "mimetype", map[string]interface{}{"mime": "text/plain"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls1) == 1 && atomic.LoadInt32(&calls2) == 1
	}, time.Second, time.Millisecond)

	col, err := e.Blackboard().Facts.GetColumn("mimetype")
	require.NoError(t, err)
	require.Len(t, col, 1)

	// Re-routing the same fact id must not spawn a second clone per player.
	e.spawnInterestedPlayers(ctx, col[0], rpc.EntityID{}, false)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls1))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls2))

	cancel()
	<-done
}

// --- Scenario 3: hypothesis promotion ---

func TestHypothesisPromotion(t *testing.T) {
	e := New(Config{}, "1.0.0", registry.New(), testDescriptors())
	board := e.Blackboard()

	obj, _, err := board.AddObject([]byte("payload"), nil, "GameMaster", "", nil, nil, nil)
	require.NoError(t, err)

	hypRec := record.New("seed", true, map[string]interface{}{}, []int{obj.ID}, nil, nil)
	hypID, err := board.AddHyp(hypRec)
	require.NoError(t, err)

	factRec := record.New("loot", false, map[string]interface{}{}, nil, nil, []int{hypID})
	factID, err := board.AddFact(factRec)
	require.NoError(t, err)

	promoted, err := board.Promote(hypID)
	require.NoError(t, err)

	_, stillHyp := board.Hyps.FindByID(hypID)
	require.False(t, stillHyp)

	var total int
	for _, col := range board.Facts.All() {
		total += len(col)
	}
	require.Equal(t, 2, total)

	f, ok := board.Facts.FindByID(factID)
	require.True(t, ok)
	require.True(t, f.ParentFacts.Has(promoted.ID))
	require.False(t, f.ParentHyps.Has(hypID))

	require.True(t, obj.ChildFacts.Has(promoted.ID))
	require.False(t, obj.ChildHyps.Has(hypID))
}

// --- Scenario 4: back-story short-circuit ---

type gatedBackStory struct {
	name   string
	handle bool
	order  *[]string
	mu     *sync.Mutex
}

func (g *gatedBackStory) HandleFact(ctx context.Context, console *tracker.Console, fact *record.Record) (bool, error) {
	g.mu.Lock()
	*g.order = append(*g.order, g.name)
	g.mu.Unlock()
	return g.handle, nil
}

func TestBackStoryShortCircuit(t *testing.T) {
	reg := registry.New()
	var order []string
	var mu sync.Mutex
	require.NoError(t, reg.Register(registry.KindBackStory, "low", registry.Metadata{Name: "low", Category: "acquire", Weight: 1, FactInterests: []string{"seed"}},
		func(map[string]interface{}) (interface{}, error) { return &gatedBackStory{name: "low", handle: true, order: &order, mu: &mu}, nil }))
	require.NoError(t, reg.Register(registry.KindBackStory, "high", registry.Metadata{Name: "high", Category: "acquire", Weight: 5, FactInterests: []string{"seed"}},
		func(map[string]interface{}) (interface{}, error) { return &gatedBackStory{name: "high", handle: false, order: &order, mu: &mu}, nil }))

	e := New(Config{}, "1.0.0", reg, testDescriptors())
	e.Start(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	_, err := e.SeedBackStoryFact(ctx, "seed", map[string]interface{}{"note": "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"low"}, order)
	mu.Unlock()

	cancel()
	<-done
}

// --- Scenario 5: quiescence with grace ---

type waiterPlayer struct{}

func (waiterPlayer) HandleFact(ctx context.Context, console *tracker.Console, fact *record.Record) error {
	_, _ = console.WaitTillFact(ctx, []string{"never"}, 0, 0)
	return nil
}

func (waiterPlayer) HandleHypothesis(ctx context.Context, console *tracker.Console, hyp *record.Record) error {
	return nil
}

func TestQuiescenceWithGrace(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.KindPlayer, "waiter", registry.Metadata{Name: "waiter"},
		func(map[string]interface{}) (interface{}, error) { return waiterPlayer{}, nil }))

	e := New(Config{GraceTime: 50 * time.Millisecond}, "1.0.0", reg, testDescriptors())
	e.Start(nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.players["waiter"].Dispatch(ctx, &record.Record{ID: 0, Kind: "seed"}, false))

	require.Eventually(t, func() bool {
		return e.players["waiter"].AggregateState() == tracker.StateWaiting
	}, time.Second, time.Millisecond)

	start := time.Now()
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()
	<-done
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return e.players["waiter"].ActiveCloneCount() == 0
	}, time.Second, time.Millisecond)
}

// --- Boundary behaviour: missing parentage on addFact ---

func TestAddFactWithoutParentageRejectedForNonBackStory(t *testing.T) {
	e := New(Config{}, "1.0.0", registry.New(), testDescriptors())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { e.Run(ctx); close(done) }()

	client := e.server.NewClient(rpc.EntityID{Kind: rpc.EntityNPC, ID: "loose"})
	_, err := client.SendAndWait(ctx, "addFact", map[string]interface{}{
		"kind":   "seed",
		"fields": map[string]interface{}{},
	}, time.Second)
	require.Error(t, err)

	cancel()
	<-done
}

// --- Scenario 6: save and resume ---

func TestSaveAndResume(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.KindNPC, "hasher", registry.Metadata{Name: "hasher"},
		func(map[string]interface{}) (interface{}, error) { return hashNPC{}, nil }))

	var calls int32
	require.NoError(t, reg.Register(registry.KindPlayer, "watcher", registry.Metadata{Name: "watcher", FactInterests: []string{"hash"}},
		func(map[string]interface{}) (interface{}, error) { return &watcherPlayer{calls: &calls}, nil }))

	e1 := New(Config{}, "1.0.0", reg, testDescriptors())
	e1.Start(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { e1.Run(ctx); close(done) }()

	_, err := e1.SeedObject([]byte("resumeme"), nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		col, _ := e1.Blackboard().Facts.GetColumn("hash")
		return len(col) == 4
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 4 }, time.Second, time.Millisecond)

	cancel()
	<-done

	var buf bytes.Buffer
	require.NoError(t, e1.Save(&buf))

	e2 := New(Config{}, "1.0.0", reg, testDescriptors())
	e2.Start(nil)
	require.NoError(t, e2.Load(context.Background(), bytes.NewReader(buf.Bytes())))

	col1, err := e1.Blackboard().Facts.GetColumn("hash")
	require.NoError(t, err)
	col2, err := e2.Blackboard().Facts.GetColumn("hash")
	require.NoError(t, err)
	require.Len(t, col2, len(col1))
	for i := range col1 {
		require.Equal(t, col1[i].Fields, col2[i].Fields)
	}

	obj1, ok := e1.Blackboard().Objects.FindByID(0)
	require.True(t, ok)
	obj2, ok := e2.Blackboard().Objects.FindByID(0)
	require.True(t, ok)
	require.Equal(t, obj1.Hash, obj2.Hash)

	// Every hash fact is already in the watcher's restored seen set, so
	// loading redelivers none of them.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(4), atomic.LoadInt32(&calls))

	// A second load of the same document must not redeliver what is already
	// marked seen on this tracker either.
	require.NoError(t, e2.Load(context.Background(), bytes.NewReader(buf.Bytes())))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(4), atomic.LoadInt32(&calls))
}
