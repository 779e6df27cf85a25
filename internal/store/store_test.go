package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	document []byte
	loaded   []byte
}

func (f *fakeEngine) Save(w io.Writer) error {
	_, err := w.Write(f.document)
	return err
}

func (f *fakeEngine) Load(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.loaded = data
	return nil
}

func TestSaveAndLoadEngineRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	src := &fakeEngine{document: []byte(`{"engine":"1.0.0"}`)}
	require.NoError(t, s.SaveEngine(ctx, "default", src))

	dst := &fakeEngine{}
	require.NoError(t, s.LoadEngine(ctx, "default", dst))
	require.Equal(t, src.document, dst.loaded)
}

func TestSaveEngineOverwritesSameSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveEngine(ctx, "default", &fakeEngine{document: []byte("first")}))
	require.NoError(t, s.SaveEngine(ctx, "default", &fakeEngine{document: []byte("second")}))

	dst := &fakeEngine{}
	require.NoError(t, s.LoadEngine(ctx, "default", dst))
	require.Equal(t, []byte("second"), dst.loaded)
}

func TestLoadEngineMissingSlotReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	err = s.LoadEngine(context.Background(), "missing", &fakeEngine{})
	require.Error(t, err)
}

func TestSlotsListsEverySavedSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveEngine(ctx, "a", &fakeEngine{document: []byte("a")}))
	require.NoError(t, s.SaveEngine(ctx, "b", &fakeEngine{document: []byte("b")}))

	slots, err := s.Slots(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, slots)
}
