// Package screen defines the read-only presentation contract (spec §4.7,
// §2 component H). A screen never touches the GameMaster or the RPC
// fabric; it is handed the final blackboard state directly once the
// engine has exited.
package screen

import (
	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/record"
)

// Snapshot is the structured view a screen's Filter step produces before
// Present renders it. Kept separate from blackboard.Blackboard so a screen
// can narrow or reshape what it reports without a storage dependency.
type Snapshot struct {
	Objects []*blackboard.Object
	Facts   map[string][]*record.Record
	Hyps    map[string][]*record.Record
}

// Screen is the §4.7 interface: read-only, never mutates the blackboard.
// Filter narrows (objects, facts, hyps) plus the screen's own option bag
// into a Snapshot; Present renders a Snapshot to its final serialised form.
type Screen interface {
	Filter(objects []*blackboard.Object, facts, hyps map[string][]*record.Record, options map[string]interface{}) (Snapshot, error)
	Present(snapshot Snapshot, options map[string]interface{}) (string, error)
}
