package blackboard

import (
	"errors"

	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
)

// Blackboard bundles the fact table, hypothesis table, and object list
// (components B, C of spec §2) and maintains the bidirectional provenance
// edges between them (spec §3.5). Every mutating method here is meant to be
// called only from the GameMaster's single worker (spec §5).
type Blackboard struct {
	Facts   *Table
	Hyps    *Table
	Objects *ObjectList
}

// New builds an empty blackboard. knownKinds lists every record kind the
// registry declared; both tables share it since a kind's taint is a
// per-instance property, not a per-kind one.
func New(knownKinds map[string]bool) *Blackboard {
	return &Blackboard{
		Facts:   NewTable(false, knownKinds),
		Hyps:    NewTable(true, knownKinds),
		Objects: NewObjectList(),
	}
}

func addChildRef(childKind string, id int, obj *Object, fact, hyp *record.Record) {
	switch childKind {
	case "fact":
		if obj != nil {
			obj.ChildFacts.Add(id)
		}
		if fact != nil {
			fact.ChildFacts.Add(id)
		}
		if hyp != nil {
			hyp.ChildFacts.Add(id)
		}
	case "hyp":
		if obj != nil {
			obj.ChildHyps.Add(id)
		}
		if fact != nil {
			fact.ChildHyps.Add(id)
		}
		if hyp != nil {
			hyp.ChildHyps.Add(id)
		}
	case "object":
		if obj != nil {
			obj.ChildObjects.Add(id)
		}
		if fact != nil {
			fact.ChildObjects.Add(id)
		}
		if hyp != nil {
			hyp.ChildObjects.Add(id)
		}
	}
}

// wireParentEdges adds the reciprocal child edge on every existing parent
// named in the three id lists (spec §4.4.3 step 2, §4.4.2). Parents that no
// longer exist are silently skipped.
func (b *Blackboard) wireParentEdges(childKind string, childID int, parentObjects, parentFacts, parentHyps []int) {
	for _, pid := range parentObjects {
		if p, ok := b.Objects.FindByID(pid); ok {
			addChildRef(childKind, childID, p, nil, nil)
		}
	}
	for _, pid := range parentFacts {
		if p, ok := b.Facts.FindByID(pid); ok {
			addChildRef(childKind, childID, nil, p, nil)
		}
	}
	for _, pid := range parentHyps {
		if p, ok := b.Hyps.FindByID(pid); ok {
			addChildRef(childKind, childID, nil, nil, p)
		}
	}
}

// AddFact inserts a fact and wires its parent edges (spec §4.4.3 steps 1-2).
func (b *Blackboard) AddFact(r *record.Record) (int, error) {
	id, err := b.Facts.Add(r)
	if err != nil {
		return 0, err
	}
	b.wireParentEdges("fact", id, r.ParentObjects.Slice(), r.ParentFacts.Slice(), r.ParentHyps.Slice())
	logging.BlackboardDebug("added fact id=%d kind=%s creator=%s", id, r.Kind, r.Creator)
	return id, nil
}

// AddHyp inserts a hypothesis and wires its parent edges; symmetric with
// AddFact (spec §4.4.3, final paragraph).
func (b *Blackboard) AddHyp(r *record.Record) (int, error) {
	id, err := b.Hyps.Add(r)
	if err != nil {
		return 0, err
	}
	b.wireParentEdges("hyp", id, r.ParentObjects.Slice(), r.ParentFacts.Slice(), r.ParentHyps.Slice())
	logging.BlackboardDebug("added hyp id=%d kind=%s creator=%s", id, r.Kind, r.Creator)
	return id, nil
}

// AddObject inserts a new object, or — on a content hash collision — merges
// the supplied parentage into the pre-existing object and reports it as a
// duplicate (spec §3.3, §4.4.2: "update provenance... on both endpoints").
// The duplicate path is not an error result; callers branch on duplicate.
func (b *Blackboard) AddObject(data []byte, metadata map[string]interface{}, creator, encoding string, parentObjects, parentFacts, parentHyps []int) (obj *Object, duplicate bool, err error) {
	obj, err = b.Objects.Add(data, metadata, creator, encoding, parentObjects, parentFacts, parentHyps)
	if err != nil {
		var dup *gmerrors.DuplicateObjectError
		if errors.As(err, &dup) {
			existing, ok := b.Objects.FindByID(dup.ExistingID)
			if !ok {
				return nil, true, err
			}
			for _, pid := range parentObjects {
				existing.ParentObjects.Add(pid)
			}
			for _, pid := range parentFacts {
				existing.ParentFacts.Add(pid)
			}
			for _, pid := range parentHyps {
				existing.ParentHyps.Add(pid)
			}
			b.wireParentEdges("object", existing.ID, parentObjects, parentFacts, parentHyps)
			logging.BlackboardDebug("duplicate object hash, merged provenance into existing id=%d", existing.ID)
			return existing, true, nil
		}
		return nil, false, err
	}
	b.wireParentEdges("object", obj.ID, parentObjects, parentFacts, parentHyps)
	logging.BlackboardDebug("added object id=%d hash=%s", obj.ID, obj.Hash)
	return obj, false, nil
}

func rewriteRef(hypSet, factSet record.IDSet, oldID, newID int) {
	if hypSet.Has(oldID) {
		delete(hypSet, oldID)
		factSet.Add(newID)
	}
}

// rewriteHypToFact rewrites every incident edge pointing at oldID (a
// hypothesis) to point at newID (its promoted fact), across every table
// (spec §4.4.5).
func (b *Blackboard) rewriteHypToFact(oldID, newID int) {
	for _, obj := range b.Objects.All() {
		rewriteRef(obj.ParentHyps, obj.ParentFacts, oldID, newID)
		rewriteRef(obj.ChildHyps, obj.ChildFacts, oldID, newID)
	}
	for _, col := range b.Facts.All() {
		for _, r := range col {
			rewriteRef(r.ParentHyps, r.ParentFacts, oldID, newID)
			rewriteRef(r.ChildHyps, r.ChildFacts, oldID, newID)
		}
	}
	for _, col := range b.Hyps.All() {
		for _, r := range col {
			rewriteRef(r.ParentHyps, r.ParentFacts, oldID, newID)
			rewriteRef(r.ChildHyps, r.ChildFacts, oldID, newID)
		}
	}
}

// Promote atomically moves a hypothesis into the fact table under a new id,
// clearing its taint and rewriting every incident edge (spec §4.4.5).
func (b *Blackboard) Promote(hypID int) (*record.Record, error) {
	old, err := b.Hyps.Remove(hypID)
	if err != nil {
		return nil, err
	}
	old.Tainted = false
	newID, err := b.Facts.Add(old)
	if err != nil {
		// Put it back so the promotion attempt is not destructive.
		old.Tainted = true
		if _, addErr := b.Hyps.Add(old); addErr != nil {
			logging.BlackboardDebug("promote: failed to roll back hyp %d: %v", hypID, addErr)
		}
		return nil, err
	}
	b.rewriteHypToFact(hypID, newID)
	logging.Blackboard("promoted hyp %d to fact %d (kind=%s)", hypID, newID, old.Kind)
	return old, nil
}
