package gamemaster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/rpc"
)

// parentFilter names the single parent selector a child-* stream narrows
// on (spec §6.1: "exactly one parent selector must be provided").
type parentFilter struct {
	objectID *int
	factID   *int
	hypID    *int
}

func parentFilterFromArgs(args map[string]interface{}) *parentFilter {
	pf := &parentFilter{}
	if v, ok := args["object_id"].(int); ok {
		pf.objectID = &v
	}
	if v, ok := args["fact_id"].(int); ok {
		pf.factID = &v
	}
	if v, ok := args["hyp_id"].(int); ok {
		pf.hypID = &v
	}
	return pf
}

func (pf *parentFilter) matchesRecord(r *record.Record) bool {
	if pf == nil {
		return true
	}
	switch {
	case pf.objectID != nil:
		return r.ParentObjects.Has(*pf.objectID)
	case pf.factID != nil:
		return r.ParentFacts.Has(*pf.factID)
	case pf.hypID != nil:
		return r.ParentHyps.Has(*pf.hypID)
	}
	return false
}

func (pf *parentFilter) matchesObject(o *blackboard.Object) bool {
	if pf == nil {
		return true
	}
	switch {
	case pf.objectID != nil:
		return o.ParentObjects.Has(*pf.objectID)
	case pf.factID != nil:
		return o.ParentFacts.Has(*pf.factID)
	case pf.hypID != nil:
		return o.ParentHyps.Has(*pf.hypID)
	}
	return false
}

// subscription is one open waitOn* stream (spec §6.1).
type subscription struct {
	id         string
	client     *rpc.Client
	kinds      map[string]bool // nil/empty = every kind matches
	onlyLatest bool
	parent     *parentFilter // nil for plain fact/hyp streams
}

func (s *subscription) matchesKind(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[kind]
}

// waiter is one pending waitTillFact request (spec §4.4.4); it is satisfied
// and replied to out of band of the handler that parked it, via
// rpc.Server.Reply, since no matching fact existed at call time.
type waiter struct {
	from      rpc.EntityID
	requestID string
	kinds     map[string]bool
}

func kindsSet(kinds []string) map[string]bool {
	if len(kinds) == 0 {
		return nil
	}
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func toIntSlice(v interface{}) []int {
	s, _ := v.([]int)
	return s
}

func toStringSlice(v interface{}) []string {
	s, _ := v.([]string)
	return s
}

func (e *Engine) registerHandlers() {
	e.server.RegisterHandler("addObject", e.handleAddObject)
	e.server.RegisterHandler("addFact", e.handleAddFact)
	e.server.RegisterHandler("addHyp", e.handleAddHyp)
	e.server.RegisterHandler("print", e.handlePrint)
	e.server.RegisterHandler("createTempDirectory", e.handleCreateTempDirectory)
	e.server.RegisterHandler("getObject", e.handleGetObject)
	e.server.RegisterHandler("getAllObjects", e.handleGetAllObjects)
	e.server.RegisterHandler("getFact", e.handleGetFact)
	e.server.RegisterHandler("getAllFacts", e.handleGetAllFacts)
	e.server.RegisterHandler("getHyp", e.handleGetHyp)
	e.server.RegisterHandler("getAllHyps", e.handleGetAllHyps)
	e.server.RegisterHandler("waitTillFact", e.handleWaitTillFact)
	e.server.RegisterHandler("promote", e.handlePromote)

	e.server.RegisterStreamHandler("factStream", e.handleFactStream)
	e.server.RegisterStreamHandler("hypStream", e.handleHypStream)
	e.server.RegisterStreamHandler("childFactStream", e.handleChildFactStream)
	e.server.RegisterStreamHandler("childHypStream", e.handleChildHypStream)
	e.server.RegisterStreamHandler("childObjectStream", e.handleChildObjectStream)
}

func (e *Engine) handleAddObject(ctx context.Context, req rpc.Request) rpc.Response {
	data, _ := req.Args["data"].([]byte)
	metadata, _ := req.Args["metadata"].(map[string]interface{})
	encoding, _ := req.Args["encoding"].(string)
	parentObjects := toIntSlice(req.Args["parent_objects"])
	parentFacts := toIntSlice(req.Args["parent_facts"])
	parentHyps := toIntSlice(req.Args["parent_hyps"])

	obj, duplicate, err := e.board.AddObject(data, metadata, req.From.String(), encoding, parentObjects, parentFacts, parentHyps)
	if err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: err.Error()}
	}
	if !duplicate {
		for _, npc := range e.npcs {
			npc.Dispatch(obj)
		}
		e.notifyChildObjectSubs(obj, req.From)
	}
	return rpc.Response{Status: rpc.StatusOK, Result: obj.ID}
}

func (e *Engine) handleAddFact(ctx context.Context, req rpc.Request) rpc.Response {
	return e.handleAddRecord(ctx, req, false)
}

func (e *Engine) handleAddHyp(ctx context.Context, req rpc.Request) rpc.Response {
	return e.handleAddRecord(ctx, req, true)
}

func (e *Engine) handleAddRecord(ctx context.Context, req rpc.Request, tainted bool) rpc.Response {
	kind, _ := req.Args["kind"].(string)
	fields, _ := req.Args["fields"].(map[string]interface{})
	parentObjects := toIntSlice(req.Args["parent_objects"])
	parentFacts := toIntSlice(req.Args["parent_facts"])
	parentHyps := toIntSlice(req.Args["parent_hyps"])
	yesreally, _ := req.Args["yesreally"].(bool)

	desc, ok := e.descriptors[kind]
	if !ok {
		return rpc.Response{Status: rpc.StatusError, Reason: fmt.Sprintf("unknown record kind %q", kind)}
	}
	validated, err := desc.Validate(fields)
	if err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: err.Error()}
	}

	isBackStory := req.From.Kind == rpc.EntityBackStory
	if !isBackStory && len(parentObjects)+len(parentFacts)+len(parentHyps) == 0 {
		label := "addFact"
		if tainted {
			label = "addHyp"
		}
		return rpc.Response{Status: rpc.StatusError, Reason: fmt.Sprintf("%s from a player or npc requires at least one parent", label)}
	}
	if !tainted {
		if wasTainted, found := e.cloneTaint(req.From); found && wasTainted && !yesreally {
			return rpc.Response{Status: rpc.StatusError, Reason: "a clone handling a hypothesis must pass yesreally=true to addFact"}
		}
	}

	rec := record.New(kind, tainted, validated, parentObjects, parentFacts, parentHyps)
	rec.Creator = req.From.String()

	var id int
	if tainted {
		id, err = e.board.AddHyp(rec)
	} else {
		id, err = e.board.AddFact(rec)
	}
	if err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: err.Error()}
	}

	if tainted {
		e.notifyHypSubs(rec, req.From)
		e.notifyChildHypSubs(rec, req.From)
		e.spawnInterestedPlayers(ctx, rec, req.From, true)
	} else {
		e.notifyFactSubs(rec, req.From)
		e.notifyChildFactSubs(rec, req.From)
		e.satisfyWaiters(rec)
		e.spawnInterestedPlayers(ctx, rec, req.From, false)
		e.dispatchBackStoryFact(rec)
	}
	return rpc.Response{Status: rpc.StatusOK, Result: id}
}

func (e *Engine) cloneTaint(from rpc.EntityID) (tainted bool, found bool) {
	if from.Kind != rpc.EntityPlayer || from.CloneID == "" {
		return false, false
	}
	p, ok := e.players[from.ID]
	if !ok {
		return false, false
	}
	return p.CloneTainted(from.CloneID)
}

func (e *Engine) playerInterests(name string, tainted bool) map[string]bool {
	if tainted {
		return e.playerHypInterests[name]
	}
	return e.playerFactInterests[name]
}

// spawnInterestedPlayers implements spec §4.4.3 step 6 (and addHyp's
// symmetric case): every player whose interests include this record's kind,
// other than the one that emitted it, is offered a fresh clone at most once
// per record id.
func (e *Engine) spawnInterestedPlayers(ctx context.Context, rec *record.Record, sender rpc.EntityID, tainted bool) {
	for name, p := range e.players {
		if sender.Kind == rpc.EntityPlayer && sender.ID == name {
			continue
		}
		if !e.playerInterests(name, tainted)[rec.Kind] {
			continue
		}
		seenKey := rec.Kind
		if tainted {
			seenKey = "~hyp~" + rec.Kind
		}
		if !p.MarkSeen(seenKey, rec.ID) {
			continue
		}
		if err := p.Dispatch(ctx, rec, tainted); err != nil {
			logging.GameMasterWarn("player %q: failed to dispatch record %d: %v", name, rec.ID, err)
		}
	}
}

func (e *Engine) dispatchBackStoryFact(rec *record.Record) {
	for category, kinds := range e.categoryInterests {
		if !kinds[rec.Kind] {
			continue
		}
		if cat, ok := e.categories[category]; ok {
			cat.Dispatch(rec)
		}
	}
}

func (e *Engine) deliver(s *subscription, payload rpc.StreamPayload) {
	if s.onlyLatest {
		s.client.ReplaceStream(s.id, payload)
		return
	}
	s.client.PushStream(s.id, payload)
}

func (e *Engine) notifyFactSubs(rec *record.Record, sender rpc.EntityID) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.factSubs...)
	e.mu.Unlock()
	for _, s := range subs {
		if s.client.ID() == sender {
			continue
		}
		if !s.matchesKind(rec.Kind) {
			continue
		}
		e.deliver(s, rpc.StreamPayload{StreamID: s.id, Kind: "fact", Value: rec})
	}
}

func (e *Engine) notifyHypSubs(rec *record.Record, sender rpc.EntityID) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.hypSubs...)
	e.mu.Unlock()
	for _, s := range subs {
		if s.client.ID() == sender {
			continue
		}
		if !s.matchesKind(rec.Kind) {
			continue
		}
		e.deliver(s, rpc.StreamPayload{StreamID: s.id, Kind: "hyp", Value: rec})
	}
}

func (e *Engine) notifyChildFactSubs(rec *record.Record, sender rpc.EntityID) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.childFactSubs...)
	e.mu.Unlock()
	for _, s := range subs {
		if s.client.ID() == sender {
			continue
		}
		if !s.matchesKind(rec.Kind) || !s.parent.matchesRecord(rec) {
			continue
		}
		e.deliver(s, rpc.StreamPayload{StreamID: s.id, Kind: "fact", Value: rec})
	}
}

func (e *Engine) notifyChildHypSubs(rec *record.Record, sender rpc.EntityID) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.childHypSubs...)
	e.mu.Unlock()
	for _, s := range subs {
		if s.client.ID() == sender {
			continue
		}
		if !s.matchesKind(rec.Kind) || !s.parent.matchesRecord(rec) {
			continue
		}
		e.deliver(s, rpc.StreamPayload{StreamID: s.id, Kind: "hyp", Value: rec})
	}
}

func (e *Engine) notifyChildObjectSubs(obj *blackboard.Object, sender rpc.EntityID) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.childObjectSubs...)
	e.mu.Unlock()
	for _, s := range subs {
		if s.client.ID() == sender {
			continue
		}
		if !s.parent.matchesObject(obj) {
			continue
		}
		e.deliver(s, rpc.StreamPayload{StreamID: s.id, Kind: "object", Value: obj})
	}
}

// satisfyWaiters implements spec §4.4.4's second half: a new fact insertion
// replies to every pending waiter whose kind set matches, removing them.
func (e *Engine) satisfyWaiters(rec *record.Record) {
	e.mu.Lock()
	var remaining, matched []*waiter
	for _, w := range e.waiters {
		if len(w.kinds) == 0 || w.kinds[rec.Kind] {
			matched = append(matched, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	e.waiters = remaining
	e.mu.Unlock()

	for _, w := range matched {
		e.server.Reply(w.from, w.requestID, rpc.Response{Status: rpc.StatusOK, Result: rec})
	}
}

func (e *Engine) earliestFactAfter(kinds map[string]bool, lastFact int) *record.Record {
	var recs []*record.Record
	if len(kinds) == 0 {
		for _, col := range e.board.Facts.All() {
			recs = append(recs, col...)
		}
	} else {
		for kind := range kinds {
			if col, err := e.board.Facts.GetColumn(kind); err == nil {
				recs = append(recs, col...)
			}
		}
	}
	var best *record.Record
	for _, r := range recs {
		if r.ID > lastFact && (best == nil || r.ID < best.ID) {
			best = r
		}
	}
	return best
}

// handleWaitTillFact implements spec §4.4.4: an immediate match replies at
// once; otherwise the request is parked and satisfied later by
// satisfyWaiters, via StatusPending telling the server not to reply now.
func (e *Engine) handleWaitTillFact(ctx context.Context, req rpc.Request) rpc.Response {
	kinds := kindsSet(toStringSlice(req.Args["kinds"]))
	lastFact, _ := req.Args["last_fact"].(int)

	if rec := e.earliestFactAfter(kinds, lastFact); rec != nil {
		return rpc.Response{Status: rpc.StatusOK, Result: rec}
	}

	e.mu.Lock()
	e.waiters = append(e.waiters, &waiter{from: req.From, requestID: req.ID, kinds: kinds})
	e.mu.Unlock()
	return rpc.Response{Status: rpc.StatusPending}
}

func (e *Engine) handlePromote(ctx context.Context, req rpc.Request) rpc.Response {
	hypID, _ := req.Args["hyp_id"].(int)
	rec, err := e.board.Promote(hypID)
	if err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: err.Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: rec}
}

func (e *Engine) handlePrint(ctx context.Context, req rpc.Request) rpc.Response {
	entity, _ := req.Args["entity"].(string)
	message, _ := req.Args["message"].(string)
	logging.GameMaster("[%s] %s", entity, message)
	return rpc.Response{Status: rpc.StatusOK}
}

func (e *Engine) handleCreateTempDirectory(ctx context.Context, req rpc.Request) rpc.Response {
	seq := atomic.AddUint64(&e.tempSeq, 1)
	dir := filepath.Join(e.cfg.TemporaryBase, fmt.Sprintf("entity-%d-%s", seq, uuid.New().String()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: (&gmerrors.TemporaryDirectoryError{Err: err}).Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: dir}
}

func (e *Engine) handleGetObject(ctx context.Context, req rpc.Request) rpc.Response {
	id, _ := req.Args["id"].(int)
	obj, ok := e.board.Objects.FindByID(id)
	if !ok {
		return rpc.Response{Status: rpc.StatusError, Reason: (&gmerrors.NotFoundError{Kind: "object", ID: id}).Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: obj}
}

func (e *Engine) handleGetAllObjects(ctx context.Context, req rpc.Request) rpc.Response {
	return rpc.Response{Status: rpc.StatusOK, Result: e.board.Objects.All()}
}

func (e *Engine) handleGetFact(ctx context.Context, req rpc.Request) rpc.Response {
	id, _ := req.Args["id"].(int)
	rec, ok := e.board.Facts.FindByID(id)
	if !ok {
		return rpc.Response{Status: rpc.StatusError, Reason: (&gmerrors.NotFoundError{Kind: "fact", ID: id}).Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: rec}
}

func (e *Engine) handleGetAllFacts(ctx context.Context, req rpc.Request) rpc.Response {
	recs, err := allOrKinds(e.board.Facts, toStringSlice(req.Args["kinds"]))
	if err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: err.Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: recs}
}

func (e *Engine) handleGetHyp(ctx context.Context, req rpc.Request) rpc.Response {
	id, _ := req.Args["id"].(int)
	rec, ok := e.board.Hyps.FindByID(id)
	if !ok {
		return rpc.Response{Status: rpc.StatusError, Reason: (&gmerrors.NotFoundError{Kind: "hyp", ID: id}).Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: rec}
}

// handleGetAllHyps is deliberately symmetric with handleGetAllFacts, reading
// from the hypothesis table rather than the fact table.
func (e *Engine) handleGetAllHyps(ctx context.Context, req rpc.Request) rpc.Response {
	recs, err := allOrKinds(e.board.Hyps, toStringSlice(req.Args["kinds"]))
	if err != nil {
		return rpc.Response{Status: rpc.StatusError, Reason: err.Error()}
	}
	return rpc.Response{Status: rpc.StatusOK, Result: recs}
}

func allOrKinds(t *blackboard.Table, kinds []string) ([]*record.Record, error) {
	if len(kinds) == 0 {
		var out []*record.Record
		for _, col := range t.All() {
			out = append(out, col...)
		}
		return out, nil
	}
	return t.GetColumns(kinds)
}

func (e *Engine) handleFactStream(streamID string, client *rpc.Client, req rpc.Request) (func(), error) {
	sub := &subscription{
		id:         streamID,
		client:     client,
		kinds:      kindsSet(toStringSlice(req.Args["kinds"])),
		onlyLatest: asBool(req.Args["only_latest"]),
	}
	e.mu.Lock()
	e.factSubs = append(e.factSubs, sub)
	e.mu.Unlock()
	return func() { e.removeSub(&e.factSubs, streamID) }, nil
}

func (e *Engine) handleHypStream(streamID string, client *rpc.Client, req rpc.Request) (func(), error) {
	sub := &subscription{
		id:         streamID,
		client:     client,
		kinds:      kindsSet(toStringSlice(req.Args["kinds"])),
		onlyLatest: asBool(req.Args["only_latest"]),
	}
	e.mu.Lock()
	e.hypSubs = append(e.hypSubs, sub)
	e.mu.Unlock()
	return func() { e.removeSub(&e.hypSubs, streamID) }, nil
}

func (e *Engine) handleChildFactStream(streamID string, client *rpc.Client, req rpc.Request) (func(), error) {
	sub := &subscription{
		id:         streamID,
		client:     client,
		kinds:      kindsSet(toStringSlice(req.Args["kinds"])),
		onlyLatest: asBool(req.Args["only_latest"]),
		parent:     parentFilterFromArgs(req.Args),
	}
	e.mu.Lock()
	e.childFactSubs = append(e.childFactSubs, sub)
	e.mu.Unlock()
	return func() { e.removeSub(&e.childFactSubs, streamID) }, nil
}

func (e *Engine) handleChildHypStream(streamID string, client *rpc.Client, req rpc.Request) (func(), error) {
	sub := &subscription{
		id:         streamID,
		client:     client,
		kinds:      kindsSet(toStringSlice(req.Args["kinds"])),
		onlyLatest: asBool(req.Args["only_latest"]),
		parent:     parentFilterFromArgs(req.Args),
	}
	e.mu.Lock()
	e.childHypSubs = append(e.childHypSubs, sub)
	e.mu.Unlock()
	return func() { e.removeSub(&e.childHypSubs, streamID) }, nil
}

func (e *Engine) handleChildObjectStream(streamID string, client *rpc.Client, req rpc.Request) (func(), error) {
	sub := &subscription{
		id:         streamID,
		client:     client,
		onlyLatest: asBool(req.Args["only_latest"]),
		parent:     parentFilterFromArgs(req.Args),
	}
	e.mu.Lock()
	e.childObjectSubs = append(e.childObjectSubs, sub)
	e.mu.Unlock()
	return func() { e.removeSub(&e.childObjectSubs, streamID) }, nil
}

func (e *Engine) removeSub(list *[]*subscription, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := (*list)[:0:0]
	for _, s := range *list {
		if s.id != id {
			out = append(out, s)
		}
	}
	*list = out
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
