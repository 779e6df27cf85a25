package gamemaster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/record"
	"github.com/anthropics/gmengine/internal/tracker"
	"github.com/anthropics/gmengine/internal/version"
)

// tableSnapshot is the JSON shape of one blackboard table (spec §6.3's
// "facts: {ids: next_id, columns: {kind: [record]}}").
type tableSnapshot struct {
	NextID  int                          `json:"next_id"`
	Columns map[string][]record.Snapshot `json:"columns"`
}

func snapshotTable(t *blackboard.Table) tableSnapshot {
	cols := t.All()
	out := make(map[string][]record.Snapshot, len(cols))
	for kind, recs := range cols {
		snaps := make([]record.Snapshot, len(recs))
		for i, r := range recs {
			snaps[i] = r.ToSnapshot()
		}
		out[kind] = snaps
	}
	return tableSnapshot{NextID: t.NextID(), Columns: out}
}

func restoreTable(t *blackboard.Table, snap tableSnapshot) {
	cols := make(map[string][]*record.Record, len(snap.Columns))
	for kind, snaps := range snap.Columns {
		recs := make([]*record.Record, len(snaps))
		for i, s := range snaps {
			recs[i] = record.FromSnapshot(s)
		}
		cols[kind] = recs
	}
	t.Restore(cols, snap.NextID)
}

// playerSnapshot pairs a player tracker's name with its persistent state.
type playerSnapshot struct {
	Name  string                        `json:"name"`
	State tracker.PlayerTrackerSnapshot `json:"state"`
}

type npcSnapshot struct {
	Name   string                 `json:"name"`
	Memory map[string]interface{} `json:"memory"`
}

type backStorySnapshot struct {
	Category string                            `json:"category"`
	Memory   map[string]map[string]interface{} `json:"memory"`
}

// saveDocument is the top-level shape of spec §6.3's save-file layout.
type saveDocument struct {
	Engine      string              `json:"engine"`
	TempBase    string              `json:"temp_base"`
	Objects     []blackboard.ObjectSnapshot `json:"objects"`
	ObjectsNext int                 `json:"objects_next"`
	Facts       tableSnapshot       `json:"facts"`
	Hyps        tableSnapshot       `json:"hyps"`
	Players     []playerSnapshot    `json:"players"`
	NPCs        []npcSnapshot       `json:"npcs"`
	BackStories []backStorySnapshot `json:"backstories"`
}

// Save writes a single-shot serialisation of the engine's full state to w
// (spec §4.4.8, §6.3). w is the caller's sink; the gamemaster package itself
// depends on no concrete storage.
func (e *Engine) Save(w io.Writer) error {
	objs := e.board.Objects.All()
	objSnaps := make([]blackboard.ObjectSnapshot, len(objs))
	for i, o := range objs {
		objSnaps[i] = o.ToSnapshot()
	}

	doc := saveDocument{
		Engine:      e.version,
		TempBase:    e.cfg.TemporaryBase,
		Objects:     objSnaps,
		ObjectsNext: e.board.Objects.NextID(),
		Facts:       snapshotTable(e.board.Facts),
		Hyps:        snapshotTable(e.board.Hyps),
	}

	for name, p := range e.players {
		doc.Players = append(doc.Players, playerSnapshot{Name: name, State: p.Snapshot()})
	}
	for name, n := range e.npcs {
		doc.NPCs = append(doc.NPCs, npcSnapshot{Name: name, Memory: n.Snapshot()})
	}
	for category, cat := range e.categories {
		doc.BackStories = append(doc.BackStories, backStorySnapshot{Category: category, Memory: cat.Snapshot()})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("gamemaster: save: %w", err)
	}
	logging.GameMaster("save: wrote %d objects, %d players, %d npcs, %d backstory categories",
		len(doc.Objects), len(doc.Players), len(doc.NPCs), len(doc.BackStories))
	return nil
}

// Load reconstructs the engine's blackboard and tracker state from a
// previously-written Save document (spec §4.4.8). It must be called after
// Start() has built every tracker from the registry, since a saved entry is
// attached to its matching already-constructed tracker by name.
//
// After loading, every fact whose kind matches a player's declared interests
// and that is not yet in that player's seen set is redelivered as if newly
// inserted (spec §4.4.8's final sentence) — this lets a player that gained
// an interest only after the save still catch up, without ever redelivering
// a fact it has already seen.
func (e *Engine) Load(ctx context.Context, r io.Reader) error {
	var doc saveDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return &gmerrors.FatalError{Reason: fmt.Sprintf("malformed save state: %v", err)}
	}

	cmp, err := version.Compare(doc.Engine, e.version)
	if err != nil {
		return &gmerrors.FatalError{Reason: fmt.Sprintf("malformed save state: %v", err)}
	}
	switch {
	case cmp < 0:
		logging.GameMasterWarn("load: save file engine version %s is older than current %s", doc.Engine, e.version)
	case cmp > 0:
		return &gmerrors.FatalError{Reason: fmt.Sprintf("save file engine version %s is newer than current %s", doc.Engine, e.version)}
	}

	objects := make([]*blackboard.Object, len(doc.Objects))
	for i, s := range doc.Objects {
		objects[i] = blackboard.ObjectFromSnapshot(s)
	}
	e.board.Objects.Restore(objects, doc.ObjectsNext)
	restoreTable(e.board.Facts, doc.Facts)
	restoreTable(e.board.Hyps, doc.Hyps)

	for _, ps := range doc.Players {
		if p, ok := e.players[ps.Name]; ok {
			p.Restore(ps.State)
		}
	}
	for _, ns := range doc.NPCs {
		if n, ok := e.npcs[ns.Name]; ok {
			n.Restore(ns.Memory)
		}
	}
	for _, bs := range doc.BackStories {
		if cat, ok := e.categories[bs.Category]; ok {
			cat.Restore(bs.Memory)
		}
	}

	e.redeliverUnseenFacts(ctx)

	logging.GameMaster("load: restored %d objects, %d players, %d npcs, %d backstory categories",
		len(objects), len(doc.Players), len(doc.NPCs), len(doc.BackStories))
	return nil
}

// redeliverUnseenFacts implements spec §4.4.8's post-load catch-up delivery.
func (e *Engine) redeliverUnseenFacts(ctx context.Context) {
	for _, col := range e.board.Facts.All() {
		for _, rec := range col {
			for name, p := range e.players {
				if !e.playerFactInterests[name][rec.Kind] {
					continue
				}
				if p.HasSeen(rec.Kind, rec.ID) {
					continue
				}
				if !p.MarkSeen(rec.Kind, rec.ID) {
					continue
				}
				if err := p.Dispatch(ctx, rec, false); err != nil {
					logging.GameMasterWarn("load: redeliver fact %d to player %q: %v", rec.ID, name, err)
				}
			}
		}
	}
}
