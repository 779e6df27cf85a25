package record

import "time"

// IDSet is an insertion-order-agnostic set of record/object ids.
type IDSet map[int]struct{}

// NewIDSet builds an IDSet from the given ids.
func NewIDSet(ids ...int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s IDSet) Add(id int) { s[id] = struct{}{} }

// Has reports whether id is a member.
func (s IDSet) Has(id int) bool { _, ok := s[id]; return ok }

// Slice returns the set's members as a sorted-by-insertion-irrelevant slice.
func (s IDSet) Slice() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Record is a fact or hypothesis: a typed, schema-validated value plus the
// system-populated attributes of spec §3.1. Mutation of a Record after
// construction is limited to the reciprocal provenance edges the GameMaster
// maintains (spec §3.5) — the GameMaster is the sole writer of blackboard
// state (spec §5), so Record carries no internal locking of its own.
type Record struct {
	ID      int // assigned by the table on insert, counting from 0
	Kind    string
	Creator string // assigned at insert; "GameMaster" for seed input
	Created time.Time
	Tainted bool // true => hypothesis, false => fact
	Fields  map[string]interface{}

	ParentObjects IDSet
	ParentFacts   IDSet
	ParentHyps    IDSet
	ChildObjects  IDSet
	ChildFacts    IDSet
	ChildHyps     IDSet
}

// New constructs an unvalidated Record shell; callers should run values
// through the kind's Descriptor.Validate before passing them here.
func New(kind string, tainted bool, fields map[string]interface{}, parentObjects, parentFacts, parentHyps []int) *Record {
	return &Record{
		Kind:          kind,
		Created:       time.Now(),
		Tainted:       tainted,
		Fields:        fields,
		ParentObjects: NewIDSet(parentObjects...),
		ParentFacts:   NewIDSet(parentFacts...),
		ParentHyps:    NewIDSet(parentHyps...),
		ChildObjects:  make(IDSet),
		ChildFacts:    make(IDSet),
		ChildHyps:     make(IDSet),
	}
}

// HasParentage reports whether the record names at least one parent object,
// fact, or hypothesis — the rule spec §4.3/§6.1 enforces for player/NPC
// addFact and addHyp callers (back-stories are exempt).
func (r *Record) HasParentage() bool {
	return len(r.ParentObjects) > 0 || len(r.ParentFacts) > 0 || len(r.ParentHyps) > 0
}

// Snapshot is the JSON-serialisable shape of a Record, used by save/restore
// (spec §6.3) and the screen interface.
type Snapshot struct {
	ID            int                    `json:"id"`
	Kind          string                 `json:"kind"`
	Creator       string                 `json:"creator"`
	Created       time.Time              `json:"created"`
	Tainted       bool                   `json:"tainted"`
	Fields        map[string]interface{} `json:"fields"`
	ParentObjects []int                  `json:"parent_objects"`
	ParentFacts   []int                  `json:"parent_facts"`
	ParentHyps    []int                  `json:"parent_hyps"`
	ChildObjects  []int                  `json:"child_objects"`
	ChildFacts    []int                  `json:"child_facts"`
	ChildHyps     []int                  `json:"child_hyps"`
}

// ToSnapshot converts the record to its serialisable form.
func (r *Record) ToSnapshot() Snapshot {
	return Snapshot{
		ID:            r.ID,
		Kind:          r.Kind,
		Creator:       r.Creator,
		Created:       r.Created,
		Tainted:       r.Tainted,
		Fields:        r.Fields,
		ParentObjects: r.ParentObjects.Slice(),
		ParentFacts:   r.ParentFacts.Slice(),
		ParentHyps:    r.ParentHyps.Slice(),
		ChildObjects:  r.ChildObjects.Slice(),
		ChildFacts:    r.ChildFacts.Slice(),
		ChildHyps:     r.ChildHyps.Slice(),
	}
}

// FromSnapshot reconstructs a Record from its serialised form.
func FromSnapshot(s Snapshot) *Record {
	return &Record{
		ID:            s.ID,
		Kind:          s.Kind,
		Creator:       s.Creator,
		Created:       s.Created,
		Tainted:       s.Tainted,
		Fields:        s.Fields,
		ParentObjects: NewIDSet(s.ParentObjects...),
		ParentFacts:   NewIDSet(s.ParentFacts...),
		ParentHyps:    NewIDSet(s.ParentHyps...),
		ChildObjects:  NewIDSet(s.ChildObjects...),
		ChildFacts:    NewIDSet(s.ChildFacts...),
		ChildHyps:     NewIDSet(s.ChildHyps...),
	}
}
