package blackboard

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"time"

	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
)

// Object is a binary artifact with content-addressed identity (spec §3.3).
type Object struct {
	ID       int
	Data     []byte
	Hash     string
	Size     int
	Metadata map[string]interface{}
	Creator  string
	Created  time.Time
	Encoding string

	ParentObjects record.IDSet
	ParentFacts   record.IDSet
	ParentHyps    record.IDSet
	ChildObjects  record.IDSet
	ChildFacts    record.IDSet
	ChildHyps     record.IDSet
}

// splitFilename breaks metadata.filename into basename and parent path using
// platform-agnostic rules (spec §3.3), mutating metadata in place.
func splitFilename(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	raw, ok := metadata["filename"]
	if !ok {
		return metadata
	}
	name, ok := raw.(string)
	if !ok {
		return metadata
	}
	cleaned := filepath.ToSlash(name)
	metadata["filename"] = filepath.Base(cleaned)
	metadata["filepath"] = filepath.Dir(cleaned)
	return metadata
}

// ObjectList is the append-only, content-addressed object store. It holds
// its own mutex independent of Table's (spec §5: "additionally holds a
// mutex to guard against concurrent addObject").
type ObjectList struct {
	mu      sync.Mutex
	nextID  int
	byHash  map[string]int
	byID    map[int]*Object
	ordered []*Object
}

// NewObjectList builds an empty object list.
func NewObjectList() *ObjectList {
	return &ObjectList{
		byHash: make(map[string]int),
		byID:   make(map[int]*Object),
	}
}

// Add computes the sha256 of data and inserts a new object, or returns
// *gmerrors.DuplicateObjectError carrying the id of the existing entry.
func (l *ObjectList) Add(data []byte, metadata map[string]interface{}, creator, encoding string, parentObjects, parentFacts, parentHyps []int) (*Object, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	l.mu.Lock()
	defer l.mu.Unlock()

	if existingID, ok := l.byHash[hash]; ok {
		logging.BlackboardDebug("object list: duplicate hash %s maps to existing id=%d", hash, existingID)
		return nil, &gmerrors.DuplicateObjectError{ExistingID: existingID}
	}

	obj := &Object{
		ID:            l.nextID,
		Data:          data,
		Hash:          hash,
		Size:          len(data),
		Metadata:      splitFilename(metadata),
		Creator:       creator,
		Created:       time.Now(),
		Encoding:      encoding,
		ParentObjects: record.NewIDSet(parentObjects...),
		ParentFacts:   record.NewIDSet(parentFacts...),
		ParentHyps:    record.NewIDSet(parentHyps...),
		ChildObjects:  make(record.IDSet),
		ChildFacts:    make(record.IDSet),
		ChildHyps:     make(record.IDSet),
	}
	l.nextID++
	l.byHash[hash] = obj.ID
	l.byID[obj.ID] = obj
	l.ordered = append(l.ordered, obj)
	logging.BlackboardDebug("object list: inserted id=%d hash=%s size=%d", obj.ID, hash, obj.Size)
	return obj, nil
}

// FindByID looks up an object by id.
func (l *ObjectList) FindByID(id int) (*Object, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.byID[id]
	return o, ok
}

// All returns every object in insertion order.
func (l *ObjectList) All() []*Object {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Object, len(l.ordered))
	copy(out, l.ordered)
	return out
}

// NextID reports the next id the list would assign, for save snapshots.
func (l *ObjectList) NextID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID
}

// Restore replaces the list's contents wholesale, used by load().
func (l *ObjectList) Restore(objects []*Object, nextID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byHash = make(map[string]int, len(objects))
	l.byID = make(map[int]*Object, len(objects))
	l.ordered = make([]*Object, len(objects))
	copy(l.ordered, objects)
	for _, o := range objects {
		l.byHash[o.Hash] = o.ID
		l.byID[o.ID] = o
	}
	l.nextID = nextID
}

// ObjectSnapshot is the JSON-serialisable shape of an Object (spec §6.3),
// with data base64-encoded by the standard json package's []byte handling.
type ObjectSnapshot struct {
	ID            int                    `json:"id"`
	Data          []byte                 `json:"data"`
	Hash          string                 `json:"hash"`
	Size          int                    `json:"size"`
	Metadata      map[string]interface{} `json:"metadata"`
	Creator       string                 `json:"creator"`
	Created       time.Time              `json:"created"`
	Encoding      string                 `json:"encoding"`
	ParentObjects []int                  `json:"parent_objects"`
	ParentFacts   []int                  `json:"parent_facts"`
	ParentHyps    []int                  `json:"parent_hyps"`
	ChildObjects  []int                  `json:"child_objects"`
	ChildFacts    []int                  `json:"child_facts"`
	ChildHyps     []int                  `json:"child_hyps"`
}

// ToSnapshot converts the object to its serialisable form.
func (o *Object) ToSnapshot() ObjectSnapshot {
	return ObjectSnapshot{
		ID:            o.ID,
		Data:          o.Data,
		Hash:          o.Hash,
		Size:          o.Size,
		Metadata:      o.Metadata,
		Creator:       o.Creator,
		Created:       o.Created,
		Encoding:      o.Encoding,
		ParentObjects: o.ParentObjects.Slice(),
		ParentFacts:   o.ParentFacts.Slice(),
		ParentHyps:    o.ParentHyps.Slice(),
		ChildObjects:  o.ChildObjects.Slice(),
		ChildFacts:    o.ChildFacts.Slice(),
		ChildHyps:     o.ChildHyps.Slice(),
	}
}

// ObjectFromSnapshot reconstructs an Object from its serialised form.
func ObjectFromSnapshot(s ObjectSnapshot) *Object {
	return &Object{
		ID:            s.ID,
		Data:          s.Data,
		Hash:          s.Hash,
		Size:          s.Size,
		Metadata:      s.Metadata,
		Creator:       s.Creator,
		Created:       s.Created,
		Encoding:      s.Encoding,
		ParentObjects: record.NewIDSet(s.ParentObjects...),
		ParentFacts:   record.NewIDSet(s.ParentFacts...),
		ParentHyps:    record.NewIDSet(s.ParentHyps...),
		ChildObjects:  record.NewIDSet(s.ChildObjects...),
		ChildFacts:    record.NewIDSet(s.ChildFacts...),
		ChildHyps:     record.NewIDSet(s.ChildHyps...),
	}
}
