package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidate(t *testing.T) {
	elem := TypeString
	desc := NewDescriptor("mimetype", "hash", FieldSpec{
		Name:     "value",
		Type:     TypeString,
		Required: true,
	}, FieldSpec{
		Name:    "tags",
		Type:    TypeList,
		ElemType: &elem,
	}, FieldSpec{
		Name:    "confidence",
		Type:    TypeFloat,
		Default: 1.0,
	})

	t.Run("fills defaults and accepts valid input", func(t *testing.T) {
		out, err := desc.Validate(map[string]interface{}{
			"value": "text/plain",
			"tags":  []interface{}{"a", "b"},
		})
		require.NoError(t, err)
		assert.Equal(t, "text/plain", out["value"])
		assert.Equal(t, 1.0, out["confidence"])
	})

	t.Run("rejects unknown field", func(t *testing.T) {
		_, err := desc.Validate(map[string]interface{}{"value": "x", "bogus": 1})
		assert.Error(t, err)
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		_, err := desc.Validate(map[string]interface{}{})
		assert.Error(t, err)
	})

	t.Run("rejects wrong list element type", func(t *testing.T) {
		_, err := desc.Validate(map[string]interface{}{
			"value": "x",
			"tags":  []interface{}{"a", 7},
		})
		assert.Error(t, err)
	})

	t.Run("rejects value outside allowed set", func(t *testing.T) {
		restricted := NewDescriptor("severity", "", FieldSpec{
			Name:    "level",
			Type:    TypeString,
			Allowed: []interface{}{"low", "high"},
		})
		_, err := restricted.Validate(map[string]interface{}{"level": "medium"})
		assert.Error(t, err)
	})
}

func TestRecordProvenance(t *testing.T) {
	r := New("sha256", false, map[string]interface{}{"value": "abc"}, []int{0}, nil, nil)
	assert.True(t, r.HasParentage())
	assert.True(t, r.ParentObjects.Has(0))
	assert.Empty(t, r.ChildFacts)

	bare := New("seed", false, map[string]interface{}{}, nil, nil, nil)
	assert.False(t, bare.HasParentage())
}

func TestRecordSnapshotRoundTrip(t *testing.T) {
	r := New("md5", true, map[string]interface{}{"value": "deadbeef"}, []int{1}, []int{2}, []int{3})
	r.ID = 7
	r.Creator = "hasher"
	r.ChildFacts.Add(9)

	snap := r.ToSnapshot()
	restored := FromSnapshot(snap)

	assert.Equal(t, r.ID, restored.ID)
	assert.Equal(t, r.Kind, restored.Kind)
	assert.Equal(t, r.Tainted, restored.Tainted)
	assert.Equal(t, r.Fields, restored.Fields)
	assert.True(t, restored.ParentObjects.Has(1))
	assert.True(t, restored.ParentFacts.Has(2))
	assert.True(t, restored.ParentHyps.Has(3))
	assert.True(t, restored.ChildFacts.Has(9))
}
