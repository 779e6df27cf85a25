// Package registry implements the analyzer/screen catalog (spec §3.4,
// §4.1): the mapping from kind name to metadata + constructor that the
// (external) loader populates before the game starts, plus record-group
// expansion for subscription resolution.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"

	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/version"
)

// AnalyzerKind distinguishes the three module families plus screens.
type AnalyzerKind string

const (
	KindPlayer    AnalyzerKind = "player"
	KindNPC       AnalyzerKind = "npc"
	KindBackStory AnalyzerKind = "backstory"
	KindScreen    AnalyzerKind = "screen"
)

// Constructor builds an analyzer instance given its parsed option bag. The
// concrete analyzer interface each kind must satisfy lives in internal/tracker.
type Constructor func(options map[string]interface{}) (interface{}, error)

// Metadata is the catalog entry for one registered kind (spec §3.4).
type Metadata struct {
	Name                  string
	Description           string
	Creator               string
	Version               string
	EngineVersionRequired string
	OptionSchema          map[string]interface{}
	FactInterests         []string
	HypInterests          []string // players only
	Category              string   // back-stories only
	Weight                int      // back-stories only; default weight
	HelpText              string
}

type entry struct {
	meta        Metadata
	constructor Constructor
	classID     string // identity of the registering class/constructor, for dedup
}

// Registry is the catalog of every registered kind.
type Registry struct {
	mu sync.RWMutex

	players     map[string]*entry
	npcs        map[string]*entry
	backstories map[string]*entry
	screens     map[string]*entry

	playerClassIDs map[string]bool // class-identity dedup, error on collision for players

	categoryMembers factstore.FactStore // category_member(Category, AnalyzerName) atoms, spec §4.4.7 dispatch ordering
	recordGroups    factstore.FactStore // record_group_member(Group, Kind) atoms, spec §3.1 record groups
}

var categoryMemberSym = ast.PredicateSym{Symbol: "category_member", Arity: 2}
var recordGroupMemberSym = ast.PredicateSym{Symbol: "record_group_member", Arity: 2}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		players:         make(map[string]*entry),
		npcs:            make(map[string]*entry),
		backstories:     make(map[string]*entry),
		screens:         make(map[string]*entry),
		playerClassIDs:  make(map[string]bool),
		categoryMembers: factstore.NewSimpleInMemoryStore(),
		recordGroups:    factstore.NewSimpleInMemoryStore(),
	}
}

func (r *Registry) tableFor(kind AnalyzerKind) map[string]*entry {
	switch kind {
	case KindPlayer:
		return r.players
	case KindNPC:
		return r.npcs
	case KindBackStory:
		return r.backstories
	case KindScreen:
		return r.screens
	default:
		return nil
	}
}

// Register attaches a kind's metadata and constructor to the catalog
// (spec §4.1). classID identifies the registering class/constructor for
// duplicate-registration rules: duplicate class identity is warned and
// ignored for non-players, and an error for players; duplicate display
// name is warned and ignored for non-players.
func (r *Registry) Register(kind AnalyzerKind, classID string, meta Metadata, ctor Constructor) error {
	floor := meta.EngineVersionRequired
	if floor == "" {
		floor = "0.0.0"
	}
	ok, err := version.AtLeast(version.Current, floor)
	if err != nil {
		return fmt.Errorf("registry: %s %q: %w", kind, meta.Name, err)
	}
	if !ok {
		return fmt.Errorf("registry: %s %q requires engine version >= %s, have %s", kind, meta.Name, floor, version.Current)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == KindPlayer {
		if r.playerClassIDs[classID] {
			return fmt.Errorf("registry: duplicate player class %q", classID)
		}
		r.playerClassIDs[classID] = true
	}

	table := r.tableFor(kind)
	if table == nil {
		return fmt.Errorf("registry: unknown analyzer kind %q", kind)
	}

	if kind != KindPlayer {
		for _, existing := range table {
			if existing.classID == classID {
				logging.Registry("duplicate registration of %s class %q ignored", kind, classID)
				return nil
			}
		}
	}

	if existing, ok := table[meta.Name]; ok {
		if kind != KindPlayer && existing.classID == classID {
			logging.RegistryDebug("duplicate registration of %s class %q ignored", kind, classID)
			return nil
		}
		logging.Registry("duplicate %s name %q ignored (kept first registration)", kind, meta.Name)
		return nil
	}

	table[meta.Name] = &entry{meta: meta, constructor: ctor, classID: classID}
	if meta.Category != "" {
		r.categoryMembers.Add(ast.NewAtom("category_member", ast.String(meta.Category), ast.String(meta.Name)))
	}
	logging.Registry("registered %s %q (version=%s)", kind, meta.Name, meta.Version)
	return nil
}

// RegisterRecordGroup attaches kind to group in the record-group store (spec
// §3.1): a no-op when group is empty, since not every kind belongs to one.
func (r *Registry) RegisterRecordGroup(group, kind string) {
	if group == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordGroups.Add(ast.NewAtom("record_group_member", ast.String(group), ast.String(kind)))
}

// Get returns the metadata and constructor for one kind+name.
func (r *Registry) Get(kind AnalyzerKind, name string) (Metadata, Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.tableFor(kind)
	if table == nil {
		return Metadata{}, nil, false
	}
	e, ok := table[name]
	if !ok {
		return Metadata{}, nil, false
	}
	return e.meta, e.constructor, true
}

// Names lists every registered name for a kind.
func (r *Registry) Names(kind AnalyzerKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.tableFor(kind)
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	return out
}

// ExpandGroup resolves a record-group tag to its member record kinds (spec
// §3.1: "a subscriber may subscribe to a group name and the registry
// expands it to its member kinds"), querying the mangle-backed
// record_group_member fact store populated by RegisterRecordGroup.
func (r *Registry) ExpandGroup(group string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, err := queryMembers(r.recordGroups, recordGroupMemberSym, group)
	if err != nil {
		return nil, fmt.Errorf("registry: expand group %q: %w", group, err)
	}
	return members, nil
}

// ExpandCategory resolves a back-story category to its member analyzer
// names (spec §4.4.7 dispatch ordering) — a distinct axis from ExpandGroup:
// categories group analyzers by name, record groups group record kinds.
func (r *Registry) ExpandCategory(category string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, err := queryMembers(r.categoryMembers, categoryMemberSym, category)
	if err != nil {
		return nil, fmt.Errorf("registry: expand category %q: %w", category, err)
	}
	return members, nil
}

func queryMembers(store factstore.FactStore, sym ast.PredicateSym, key string) ([]string, error) {
	var members []string
	wantKey := ast.String(key)
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if len(atom.Args) != 2 || atom.Args[0] != wantKey {
			return nil
		}
		if v, ok := atom.Args[1].(ast.Constant); ok {
			members = append(members, v.String())
		}
		return nil
	})
	return members, err
}
