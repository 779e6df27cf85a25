package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/rpc"
)

// Console is the entity-bound view of the fabric handed to analyzer
// constructors (spec §6.1). Every operation is a thin wrapper over the
// underlying rpc.Client; the GameMaster enforces all domain rules
// (parentage, taint, dedup) on the other end.
type Console struct {
	entity rpc.EntityID
	client *rpc.Client
	state  *AtomicState // nil for back-story consoles; NPC consoles share their tracker's state

	memory      map[string]interface{} // shared across every delivery of this entity
	cloneMemory map[string]interface{} // nil for NPC/back-story consoles
}

// NewConsole binds a console to one entity's RPC client. state may be nil
// for NPC/back-story consoles, which have no waiting state. cloneMemory is
// nil for NPC/back-story consoles, which have no per-clone memory.
func NewConsole(entity rpc.EntityID, client *rpc.Client, state *AtomicState, memory, cloneMemory map[string]interface{}) *Console {
	return &Console{entity: entity, client: client, state: state, memory: memory, cloneMemory: cloneMemory}
}

// Memory returns the dict shared across every delivery of this entity (spec
// §4.5's "shared memory dict"). Mutations are visible to every future
// delivery and are carried across save/restore.
func (c *Console) Memory() map[string]interface{} { return c.memory }

// CloneMemory returns the dict private to this specific clone, keyed by
// clone id and persisting across saves (spec §4.5). Returns nil for
// entities that have no notion of clones (NPC, back-story).
func (c *Console) CloneMemory() map[string]interface{} { return c.cloneMemory }

// FactInput is the caller-supplied shape of a new fact or hypothesis.
type FactInput struct {
	Kind          string
	Fields        map[string]interface{}
	ParentObjects []int
	ParentFacts   []int
	ParentHyps    []int
}

func (f FactInput) args() map[string]interface{} {
	return map[string]interface{}{
		"kind":           f.Kind,
		"fields":         f.Fields,
		"parent_objects": f.ParentObjects,
		"parent_facts":   f.ParentFacts,
		"parent_hyps":    f.ParentHyps,
	}
}

// AddObject submits a new binary artifact (spec §6.1).
func (c *Console) AddObject(ctx context.Context, data []byte, parentObjects, parentFacts, parentHyps []int, metadata map[string]interface{}, encoding string) (int, error) {
	args := map[string]interface{}{
		"data":           data,
		"parent_objects": parentObjects,
		"parent_facts":   parentFacts,
		"parent_hyps":    parentHyps,
		"metadata":       metadata,
		"encoding":       encoding,
	}
	result, err := c.client.SendAndWait(ctx, "addObject", args, 0)
	if err != nil {
		return 0, err
	}
	id, _ := result.(int)
	return id, nil
}

// AddFact submits a new fact. yesreally must be true when this console
// belongs to a clone handling a hypothesis (spec §6.1's final bullet); the
// GameMaster rejects the call otherwise.
func (c *Console) AddFact(ctx context.Context, fact FactInput, yesreally bool) (int, error) {
	args := fact.args()
	args["yesreally"] = yesreally
	result, err := c.client.SendAndWait(ctx, "addFact", args, 0)
	if err != nil {
		return 0, err
	}
	id, _ := result.(int)
	return id, nil
}

// AddHyp submits a new hypothesis; same parentage rule as AddFact except
// back-story callers are exempt (enforced server-side).
func (c *Console) AddHyp(ctx context.Context, hyp FactInput) (int, error) {
	result, err := c.client.SendAndWait(ctx, "addHyp", hyp.args(), 0)
	if err != nil {
		return 0, err
	}
	id, _ := result.(int)
	return id, nil
}

// Print writes a structured log line via the GameMaster (spec §6.1); it
// never blocks on a reply.
func (c *Console) Print(args ...interface{}) error {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	msg := strings.Join(parts, " ")
	return c.client.SendAndIgnore("print", map[string]interface{}{
		"entity":  c.entity.String(),
		"message": msg,
	})
}

// CreateTempDirectory asks the GameMaster for a scratch directory under the
// engine's configured temporary base (spec §6.1, §6.2).
func (c *Console) CreateTempDirectory(ctx context.Context) (string, error) {
	result, err := c.client.SendAndWait(ctx, "createTempDirectory", nil, 0)
	if err != nil {
		return "", err
	}
	path, _ := result.(string)
	return path, nil
}

// --- Player-only operations (spec §6.1) ---

func (c *Console) GetObject(ctx context.Context, id int) (*blackboard.Object, error) {
	result, err := c.client.SendAndWait(ctx, "getObject", map[string]interface{}{"id": id}, 0)
	if err != nil {
		return nil, err
	}
	obj, _ := result.(*blackboard.Object)
	return obj, nil
}

func (c *Console) GetAllObjects(ctx context.Context) ([]*blackboard.Object, error) {
	result, err := c.client.SendAndWait(ctx, "getAllObjects", nil, 0)
	if err != nil {
		return nil, err
	}
	objs, _ := result.([]*blackboard.Object)
	return objs, nil
}

func (c *Console) GetFact(ctx context.Context, id int) (*record.Record, error) {
	result, err := c.client.SendAndWait(ctx, "getFact", map[string]interface{}{"id": id}, 0)
	if err != nil {
		return nil, err
	}
	r, _ := result.(*record.Record)
	return r, nil
}

func (c *Console) GetAllFacts(ctx context.Context, kinds []string) ([]*record.Record, error) {
	result, err := c.client.SendAndWait(ctx, "getAllFacts", map[string]interface{}{"kinds": kinds}, 0)
	if err != nil {
		return nil, err
	}
	recs, _ := result.([]*record.Record)
	return recs, nil
}

func (c *Console) GetHyp(ctx context.Context, id int) (*record.Record, error) {
	result, err := c.client.SendAndWait(ctx, "getHyp", map[string]interface{}{"id": id}, 0)
	if err != nil {
		return nil, err
	}
	r, _ := result.(*record.Record)
	return r, nil
}

func (c *Console) GetAllHyps(ctx context.Context, kinds []string) ([]*record.Record, error) {
	result, err := c.client.SendAndWait(ctx, "getAllHyps", map[string]interface{}{"kinds": kinds}, 0)
	if err != nil {
		return nil, err
	}
	recs, _ := result.([]*record.Record)
	return recs, nil
}

// WaitTillFact blocks until a fact of one of the given kinds (with id >
// lastFact) is available, or timeout elapses (0 = forever). A generic RPC
// timeout is translated to the more specific *gmerrors.WaitTimeoutError
// (spec §7).
func (c *Console) WaitTillFact(ctx context.Context, kinds []string, lastFact int, timeout time.Duration) (*record.Record, error) {
	if c.state != nil {
		c.state.Set(StateWaiting)
		defer c.state.Set(StateRunning)
	}
	args := map[string]interface{}{"kinds": kinds, "last_fact": lastFact}
	result, err := c.client.SendAndWait(ctx, "waitTillFact", args, timeout)
	if err != nil {
		var rpcTimeout *gmerrors.RPCTimeoutError
		if errors.As(err, &rpcTimeout) {
			return nil, &gmerrors.WaitTimeoutError{Kinds: kinds}
		}
		return nil, err
	}
	r, _ := result.(*record.Record)
	return r, nil
}

// Promote converts a hypothesis into a fact (spec §4.4.5).
func (c *Console) Promote(ctx context.Context, hypID int) (*record.Record, error) {
	result, err := c.client.SendAndWait(ctx, "promote", map[string]interface{}{"hyp_id": hypID}, 0)
	if err != nil {
		return nil, err
	}
	r, _ := result.(*record.Record)
	return r, nil
}

// ParentSelector names exactly one parent to filter a child-* stream by
// (spec §6.1: "exactly one parent selector must be provided").
type ParentSelector struct {
	ObjectID *int
	FactID   *int
	HypID    *int
}

func (s ParentSelector) validate() error {
	set := 0
	if s.ObjectID != nil {
		set++
	}
	if s.FactID != nil {
		set++
	}
	if s.HypID != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("console: exactly one parent selector must be set, got %d", set)
	}
	return nil
}

func (s ParentSelector) args() map[string]interface{} {
	args := map[string]interface{}{}
	if s.ObjectID != nil {
		args["object_id"] = *s.ObjectID
	}
	if s.FactID != nil {
		args["fact_id"] = *s.FactID
	}
	if s.HypID != nil {
		args["hyp_id"] = *s.HypID
	}
	return args
}

// Stream wraps one open subscription, flipping the owning clone's state
// between waiting and running around each delivered value (spec §4.5).
type Stream struct {
	client *rpc.Client
	id     string
	state  *AtomicState
}

// Next blocks for the next payload, or timeout if nonzero.
func (s *Stream) Next(ctx context.Context, timeout time.Duration) (rpc.StreamPayload, error) {
	if s.state != nil {
		s.state.Set(StateWaiting)
	}
	payload, err := s.client.GetStream(ctx, s.id, timeout)
	if s.state != nil {
		s.state.Set(StateRunning)
	}
	return payload, err
}

// Stop ends the subscription (spec §4.3's sole cancellation primitive).
func (s *Stream) Stop(ctx context.Context) error {
	return s.client.StopStream(ctx, s.id)
}

func (c *Console) startStream(ctx context.Context, command string, args map[string]interface{}) (*Stream, error) {
	id, err := c.client.StartStream(ctx, command, args)
	if err != nil {
		return nil, err
	}
	return &Stream{client: c.client, id: id, state: c.state}, nil
}

// WaitOnFacts subscribes to newly inserted facts of the given kinds.
func (c *Console) WaitOnFacts(ctx context.Context, kinds []string, onlyLatest bool) (*Stream, error) {
	return c.startStream(ctx, "factStream", map[string]interface{}{"kinds": kinds, "only_latest": onlyLatest})
}

// WaitOnHyps subscribes to newly inserted hypotheses of the given kinds.
func (c *Console) WaitOnHyps(ctx context.Context, kinds []string, onlyLatest bool) (*Stream, error) {
	return c.startStream(ctx, "hypStream", map[string]interface{}{"kinds": kinds, "only_latest": onlyLatest})
}

// WaitOnChildFacts subscribes to facts whose parentage includes the one
// named parent.
func (c *Console) WaitOnChildFacts(ctx context.Context, parent ParentSelector, kinds []string, onlyLatest bool) (*Stream, error) {
	if err := parent.validate(); err != nil {
		return nil, err
	}
	args := parent.args()
	args["kinds"] = kinds
	args["only_latest"] = onlyLatest
	return c.startStream(ctx, "childFactStream", args)
}

// WaitOnChildHyps subscribes to hypotheses whose parentage includes the
// one named parent.
func (c *Console) WaitOnChildHyps(ctx context.Context, parent ParentSelector, kinds []string, onlyLatest bool) (*Stream, error) {
	if err := parent.validate(); err != nil {
		return nil, err
	}
	args := parent.args()
	args["kinds"] = kinds
	args["only_latest"] = onlyLatest
	return c.startStream(ctx, "childHypStream", args)
}

// WaitOnChildObjects subscribes to objects whose parentage includes the
// one named parent.
func (c *Console) WaitOnChildObjects(ctx context.Context, parent ParentSelector, onlyLatest bool) (*Stream, error) {
	if err := parent.validate(); err != nil {
		return nil, err
	}
	args := parent.args()
	args["only_latest"] = onlyLatest
	return c.startStream(ctx, "childObjectStream", args)
}
