package sampleanalyzers

import (
	"context"

	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/tracker"
)

// SeedDescriptor is the "seed" fact shape the two back-stories below
// watch (spec §8 scenario 4's category short-circuit).
var SeedDescriptor = record.NewDescriptor("seed", "",
	record.FieldSpec{Name: "note", Type: record.TypeString},
)

// LootDescriptor is the "loot" fact SeedHandlerLow publishes once it
// decides the seed is worth acting on.
var LootDescriptor = record.NewDescriptor("loot", "",
	record.FieldSpec{Name: "source", Type: record.TypeString, Required: true},
)

// SeedHandlerLow is the lower-weight member of the "acquire" category.
// It claims every seed fact it sees, so SeedHandlerHigh never runs while
// this one is registered (spec §4.4.7, §8 scenario 4).
type SeedHandlerLow struct{}

func NewSeedHandlerLow(map[string]interface{}) (interface{}, error) {
	return SeedHandlerLow{}, nil
}

func (SeedHandlerLow) HandleFact(ctx context.Context, console *tracker.Console, fact *record.Record) (bool, error) {
	_, err := console.AddFact(ctx, tracker.FactInput{
		Kind:          "loot",
		Fields:        map[string]interface{}{"source": "seed_handler_low"},
		ParentObjects: nil,
		ParentFacts:   []int{fact.ID},
	}, false)
	if err != nil {
		return false, err
	}
	return true, nil
}

// SeedHandlerHigh is the higher-weight fallback member; it only ever
// runs for a seed fact that SeedHandlerLow declined.
type SeedHandlerHigh struct{}

func NewSeedHandlerHigh(map[string]interface{}) (interface{}, error) {
	return SeedHandlerHigh{}, nil
}

func (SeedHandlerHigh) HandleFact(ctx context.Context, console *tracker.Console, fact *record.Record) (bool, error) {
	_, err := console.AddFact(ctx, tracker.FactInput{
		Kind:          "loot",
		Fields:        map[string]interface{}{"source": "seed_handler_high"},
		ParentObjects: nil,
		ParentFacts:   []int{fact.ID},
	}, false)
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisterBackStories attaches both "acquire"-category members, low
// before high by weight.
func RegisterBackStories(reg *registry.Registry) error {
	if err := reg.Register(registry.KindBackStory, "sampleanalyzers.SeedHandlerLow", registry.Metadata{
		Name:          "seed_handler_low",
		Category:      "acquire",
		Weight:        1,
		FactInterests: []string{"seed"},
	}, NewSeedHandlerLow); err != nil {
		return err
	}
	return reg.Register(registry.KindBackStory, "sampleanalyzers.SeedHandlerHigh", registry.Metadata{
		Name:          "seed_handler_high",
		Category:      "acquire",
		Weight:        5,
		FactInterests: []string{"seed"},
	}, NewSeedHandlerHigh)
}

// RegisterAll attaches every sample analyzer — the hash NPC, the
// mimetype player, and both acquire back-stories — to reg.
func RegisterAll(reg *registry.Registry) error {
	if err := RegisterHashNPC(reg); err != nil {
		return err
	}
	if err := RegisterMimetypePlayer(reg); err != nil {
		return err
	}
	return RegisterBackStories(reg)
}

// Descriptors returns the record.Descriptor set every sample analyzer's
// fact kinds need, for callers building an Engine with this set
// merged into their own.
func Descriptors() map[string]record.Descriptor {
	return map[string]record.Descriptor{
		"hash":     HashDescriptor,
		"mimetype": MimetypeDescriptor,
		"seed":     SeedDescriptor,
		"loot":     LootDescriptor,
	}
}
