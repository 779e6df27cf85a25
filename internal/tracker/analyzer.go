package tracker

import (
	"context"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/record"
)

// PlayerAnalyzer is the interface a registered player constructor's value
// must satisfy (spec §4.5). A fresh clone is built per delivery; the
// analyzer instance itself is stateless across deliveries except via the
// console's memory-carrying calls.
type PlayerAnalyzer interface {
	HandleFact(ctx context.Context, console *Console, fact *record.Record) error
	HandleHypothesis(ctx context.Context, console *Console, hyp *record.Record) error
}

// NPCAnalyzer is the interface an NPC constructor's value must satisfy
// (spec §4.6): a single serial handler over dispatched objects.
type NPCAnalyzer interface {
	HandleData(ctx context.Context, console *Console, obj *blackboard.Object) error
}

// BackStoryAnalyzer is the interface a back-story constructor's value must
// satisfy (spec §4.4.7). A true return short-circuits the category's
// dispatch for the current fact.
type BackStoryAnalyzer interface {
	HandleFact(ctx context.Context, console *Console, fact *record.Record) (bool, error)
}
