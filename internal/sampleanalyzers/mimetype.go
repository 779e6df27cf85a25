package sampleanalyzers

import (
	"context"
	"sync"

	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/tracker"
)

// mimetypeMu guards counts in the shared memory dict: every player clone
// runs in its own goroutine but shares one Memory() map (spec §4.5), so
// mutation needs a lock the tracker itself does not provide.
var mimetypeMu sync.Mutex

// MimetypeDescriptor is the "mimetype" fact shape MimetypePlayer watches.
var MimetypeDescriptor = record.NewDescriptor("mimetype", "",
	record.FieldSpec{Name: "mime", Type: record.TypeString, Required: true},
)

// MimetypePlayer subscribes to "mimetype" facts (spec §8 scenario 2's
// fan-out shape) and keeps a running tally per MIME type in its shared
// memory dict, demonstrating the per-entity Memory() carried across
// save/restore (spec §4.5).
type MimetypePlayer struct{}

// NewMimetypePlayer is the registry constructor for "mimetype_watcher";
// it takes no options.
func NewMimetypePlayer(map[string]interface{}) (interface{}, error) {
	return MimetypePlayer{}, nil
}

func (MimetypePlayer) HandleFact(ctx context.Context, console *tracker.Console, fact *record.Record) error {
	mime, _ := fact.Fields["mime"].(string)
	if mime == "" {
		return nil
	}
	mimetypeMu.Lock()
	mem := console.Memory()
	counts, _ := mem["counts"].(map[string]int)
	if counts == nil {
		counts = make(map[string]int)
	}
	counts[mime]++
	n := counts[mime]
	mem["counts"] = counts
	mimetypeMu.Unlock()
	return console.Print("mimetype", mime, "count", n)
}

func (MimetypePlayer) HandleHypothesis(ctx context.Context, console *tracker.Console, hyp *record.Record) error {
	return nil
}

// RegisterMimetypePlayer attaches MimetypePlayer under the name
// "mimetype_watcher", interested in the "mimetype" fact kind.
func RegisterMimetypePlayer(reg *registry.Registry) error {
	return reg.Register(registry.KindPlayer, "sampleanalyzers.MimetypePlayer", registry.Metadata{
		Name:          "mimetype_watcher",
		Description:   "tallies mimetype facts by MIME type",
		FactInterests: []string{"mimetype"},
	}, NewMimetypePlayer)
}
