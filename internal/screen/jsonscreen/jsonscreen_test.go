package jsonscreen

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthropics/gmengine/internal/blackboard"
	"github.com/anthropics/gmengine/internal/record"
)

func TestScreenFilterNarrowsByKind(t *testing.T) {
	s := Screen{}
	facts := map[string][]*record.Record{
		"hash":     {{ID: 1, Kind: "hash"}},
		"mimetype": {{ID: 2, Kind: "mimetype"}},
	}
	hyps := map[string][]*record.Record{
		"seed": {{ID: 3, Kind: "seed", Tainted: true}},
	}

	snap, err := s.Filter(nil, facts, hyps, map[string]interface{}{"kinds": []string{"hash"}})
	require.NoError(t, err)
	require.Len(t, snap.Facts, 1)
	require.Contains(t, snap.Facts, "hash")
	require.Empty(t, snap.Hyps)
}

func TestScreenFilterNoKindsReturnsEverything(t *testing.T) {
	s := Screen{}
	facts := map[string][]*record.Record{"hash": {{ID: 1, Kind: "hash"}}}
	snap, err := s.Filter(nil, facts, nil, nil)
	require.NoError(t, err)
	require.Equal(t, facts, snap.Facts)
}

func TestScreenPresentProducesValidJSON(t *testing.T) {
	s := Screen{}
	obj := &blackboard.Object{ID: 0, Hash: "abc", Data: []byte("x")}
	facts := map[string][]*record.Record{"hash": {{ID: 1, Kind: "hash", Fields: map[string]interface{}{"value": "x"}}}}

	snap, err := s.Filter([]*blackboard.Object{obj}, facts, nil, nil)
	require.NoError(t, err)

	out, err := s.Present(snap, map[string]interface{}{"indent": true})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Contains(t, decoded, "objects")
	require.Contains(t, decoded, "facts")
}
