package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/gmengine/internal/record"
)

func knownKinds(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func TestTableTaintInvariant(t *testing.T) {
	facts := NewTable(false, knownKinds("seed"))

	_, err := facts.Add(record.New("seed", true, nil, nil, nil, nil))
	assert.Error(t, err, "tainted record must be rejected by the fact table")

	id, err := facts.Add(record.New("seed", false, nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestTableUnknownKind(t *testing.T) {
	facts := NewTable(false, knownKinds("seed"))
	_, err := facts.Add(record.New("bogus", false, nil, nil, nil, nil))
	assert.Error(t, err)
}

func TestObjectListDuplicateDetection(t *testing.T) {
	ol := NewObjectList()
	obj, err := ol.Add([]byte("testtest"), nil, "GameMaster", "", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, obj.ID)

	_, err = ol.Add([]byte("testtest"), nil, "hasher", "", nil, nil, nil)
	require.Error(t, err)
}

func TestBlackboardAddObjectMergesDuplicateProvenance(t *testing.T) {
	bb := New(knownKinds("sha256"))
	first, dup, err := bb.AddObject([]byte("testtest"), nil, "GameMaster", "", nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, dup)

	h := record.New("sha256", false, map[string]interface{}{"value": "abc"}, []int{first.ID}, nil, nil)
	factID, err := bb.AddFact(h)
	require.NoError(t, err)

	second, dup, err := bb.AddObject([]byte("testtest"), nil, "hasher", "", nil, []int{factID}, nil)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ParentFacts.Has(factID))

	fact, ok := bb.Facts.FindByID(factID)
	require.True(t, ok)
	assert.True(t, fact.ChildObjects.Has(first.ID))
}

func TestHashPipelineProvenance(t *testing.T) {
	bb := New(knownKinds("md5", "sha1", "sha256", "ssdeep"))
	obj, _, err := bb.AddObject([]byte("testtest"), nil, "GameMaster", "", nil, nil, nil)
	require.NoError(t, err)

	kinds := []string{"md5", "sha1", "sha256", "ssdeep"}
	for _, kind := range kinds {
		f := record.New(kind, false, map[string]interface{}{"value": kind}, []int{obj.ID}, nil, nil)
		_, err := bb.AddFact(f)
		require.NoError(t, err)
	}

	updated, ok := bb.Objects.FindByID(obj.ID)
	require.True(t, ok)
	assert.Len(t, updated.ChildFacts, 4)

	for _, kind := range kinds {
		col, err := bb.Facts.GetColumn(kind)
		require.NoError(t, err)
		require.Len(t, col, 1)
		assert.True(t, col[0].ParentObjects.Has(obj.ID))
		assert.Empty(t, col[0].ChildFacts)
	}
}

func TestPromoteHypothesis(t *testing.T) {
	bb := New(knownKinds("seed"))
	obj, _, err := bb.AddObject([]byte("x"), nil, "GameMaster", "", nil, nil, nil)
	require.NoError(t, err)

	h := record.New("seed", true, map[string]interface{}{}, []int{obj.ID}, nil, nil)
	hypID, err := bb.AddHyp(h)
	require.NoError(t, err)

	f := record.New("seed", false, map[string]interface{}{}, nil, nil, []int{hypID})
	factID, err := bb.AddFact(f)
	require.NoError(t, err)

	promoted, err := bb.Promote(hypID)
	require.NoError(t, err)
	assert.False(t, promoted.Tainted)

	_, stillHyp := bb.Hyps.FindByID(hypID)
	assert.False(t, stillHyp)

	newFact, ok := bb.Facts.FindByID(promoted.ID)
	require.True(t, ok)
	assert.NotEqual(t, hypID, newFact.ID)

	dependent, ok := bb.Facts.FindByID(factID)
	require.True(t, ok)
	assert.True(t, dependent.ParentFacts.Has(newFact.ID))
	assert.False(t, dependent.ParentHyps.Has(hypID))

	seedObj, ok := bb.Objects.FindByID(obj.ID)
	require.True(t, ok)
	assert.True(t, seedObj.ChildFacts.Has(newFact.ID))
	assert.False(t, seedObj.ChildHyps.Has(hypID))
}
