// Package jsonscreen is a minimal reference screen (spec §9's supplemented
// screen feature): it reports the final blackboard as one JSON document,
// giving the CLI something concrete to present (spec §4.7).
package jsonscreen

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/screen"
)

// Screen renders the blackboard as JSON, indented when the "indent" option
// is true and compact otherwise. The "kinds" option, if
// present, narrows facts and hyps to that set of kinds; objects are never
// filtered since they carry no kind of their own.
type Screen struct{}

// New constructs a Screen; it takes no options of its own beyond what
// Filter/Present read per call, matching the other registry constructors'
// shape.
func New(map[string]interface{}) (interface{}, error) {
	return &Screen{}, nil
}

func (Screen) Filter(objects []*blackboard.Object, facts, hyps map[string][]*record.Record, options map[string]interface{}) (screen.Snapshot, error) {
	kinds, _ := options["kinds"].([]string)
	if len(kinds) == 0 {
		return screen.Snapshot{Objects: objects, Facts: facts, Hyps: hyps}, nil
	}

	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	snap := screen.Snapshot{
		Objects: objects,
		Facts:   make(map[string][]*record.Record),
		Hyps:    make(map[string][]*record.Record),
	}
	for kind, recs := range facts {
		if want[kind] {
			snap.Facts[kind] = recs
		}
	}
	for kind, recs := range hyps {
		if want[kind] {
			snap.Hyps[kind] = recs
		}
	}
	return snap, nil
}

// report is the JSON document shape this screen emits: object/record
// snapshots rather than live pointers, so presentation never depends on
// blackboard internals surviving past the call.
type report struct {
	Objects []blackboard.ObjectSnapshot  `json:"objects"`
	Facts   map[string][]record.Snapshot `json:"facts"`
	Hyps    map[string][]record.Snapshot `json:"hyps"`
}

func (Screen) Present(snapshot screen.Snapshot, options map[string]interface{}) (string, error) {
	rep := report{
		Facts: make(map[string][]record.Snapshot, len(snapshot.Facts)),
		Hyps:  make(map[string][]record.Snapshot, len(snapshot.Hyps)),
	}
	for _, o := range snapshot.Objects {
		rep.Objects = append(rep.Objects, o.ToSnapshot())
	}
	for kind, recs := range snapshot.Facts {
		snaps := make([]record.Snapshot, len(recs))
		for i, r := range recs {
			snaps[i] = r.ToSnapshot()
		}
		rep.Facts[kind] = snaps
	}
	for kind, recs := range snapshot.Hyps {
		snaps := make([]record.Snapshot, len(recs))
		for i, r := range recs {
			snaps[i] = r.ToSnapshot()
		}
		rep.Hyps[kind] = snaps
	}

	indent, _ := options["indent"].(bool)
	var (
		out []byte
		err error
	)
	if indent {
		out, err = json.MarshalIndent(rep, "", "  ")
	} else {
		out, err = json.Marshal(rep)
	}
	if err != nil {
		return "", fmt.Errorf("jsonscreen: present: %w", err)
	}
	return string(out), nil
}
