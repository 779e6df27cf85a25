package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopCtor(map[string]interface{}) (interface{}, error) { return struct{}{}, nil }

func TestRegisterAndGet(t *testing.T) {
	r := New()
	err := r.Register(KindNPC, "hashnpc.v1", Metadata{Name: "hash", Version: "1.0.0"}, noopCtor)
	require.NoError(t, err)

	meta, ctor, ok := r.Get(KindNPC, "hash")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", meta.Version)
	assert.NotNil(t, ctor)

	_, _, ok = r.Get(KindNPC, "missing")
	assert.False(t, ok)
}

func TestRegisterRejectsStaleEngineVersion(t *testing.T) {
	r := New()
	err := r.Register(KindPlayer, "p.v1", Metadata{Name: "p", EngineVersionRequired: "99.0.0"}, noopCtor)
	assert.Error(t, err)
}

func TestRegisterDuplicatePlayerClassIsError(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(KindPlayer, "p.v1", Metadata{Name: "p"}, noopCtor))
	err := r.Register(KindPlayer, "p.v1", Metadata{Name: "p-alias"}, noopCtor)
	assert.Error(t, err)
}

func TestRegisterDuplicateNonPlayerNameIsIgnored(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(KindNPC, "a.v1", Metadata{Name: "hash", Version: "1.0.0"}, noopCtor))
	require.NoError(t, r.Register(KindNPC, "b.v1", Metadata{Name: "hash", Version: "2.0.0"}, noopCtor))

	meta, _, ok := r.Get(KindNPC, "hash")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", meta.Version, "first registration wins, second is ignored")
}

func TestExpandCategory(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(KindBackStory, "acq1.v1", Metadata{Name: "acq1", Category: "acquire"}, noopCtor))
	require.NoError(t, r.Register(KindBackStory, "acq2.v1", Metadata{Name: "acq2", Category: "acquire"}, noopCtor))
	require.NoError(t, r.Register(KindBackStory, "other.v1", Metadata{Name: "other", Category: "analysis"}, noopCtor))

	members, err := r.ExpandCategory("acquire")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acq1", "acq2"}, members)
}

func TestExpandGroupResolvesRecordKindsNotCategories(t *testing.T) {
	r := New()
	r.RegisterRecordGroup("digests", "hash")
	r.RegisterRecordGroup("digests", "mimetype")
	r.RegisterRecordGroup("other", "seed")

	members, err := r.ExpandGroup("digests")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hash", "mimetype"}, members)

	// A back-story category name never resolves through ExpandGroup: the
	// two stores are on separate axes.
	require.NoError(t, r.Register(KindBackStory, "acq1.v1", Metadata{Name: "acq1", Category: "acquire"}, noopCtor))
	members, err = r.ExpandGroup("acquire")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRegisterRecordGroupIgnoresEmptyGroup(t *testing.T) {
	r := New()
	r.RegisterRecordGroup("", "hash")

	members, err := r.ExpandGroup("")
	require.NoError(t, err)
	assert.Empty(t, members)
}
