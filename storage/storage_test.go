package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadger(t *testing.T) *Badger {
	store, err := NewBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	engines := map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemory() },
		"badger": func(t *testing.T) Storage { return newBadger(t) },
	}
	for name, open := range engines {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			ok, err := store.Has(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			value := []byte("one")
			require.NoError(t, store.Put(ctx, "a", value))
			value[0] = 'X'

			got, err := store.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), got)

			ok, err = store.Has(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)

			err = PutMany(ctx, store, []Entry{
				{Key: "b", Value: []byte("two")},
				{Key: "a", Value: []byte("three")},
			})
			require.NoError(t, err)

			got, err = store.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("three"), got)

			got, err = store.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), got)
		})
	}
}

func TestBadgerRequiresPath(t *testing.T) {
	_, err := NewBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := DefaultBadgerConfig(dir)
	cfg.GCInterval = 0
	store, err := NewBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "root", []byte("link")))
	require.NoError(t, store.Close())

	store, err = NewBadger(cfg)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []byte("link"), got)
}

func TestOverlay(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	require.NoError(t, base.Put(ctx, "a", []byte("base")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put(ctx, "a", []byte("staged")))
	require.NoError(t, overlay.Put(ctx, "b", []byte("new")))
	assert.Equal(t, 2, overlay.Len())

	got, err := overlay.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), got)

	got, err = base.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("base"), got)

	ok, err := base.Has(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, overlay.Flush(ctx, Entry{Key: "root", Value: []byte("r")}))
	assert.Equal(t, 0, overlay.Len())
	assert.Equal(t, []string{"a", "b", "root"}, base.(*memory).Keys())

	got, err = base.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), got)
}

func TestOverlayDiscard(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put(ctx, "a", []byte("staged")))
	overlay.Discard()

	_, err := overlay.Get(ctx, "a")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, base.(*memory).Keys())
}

type failing struct {
	Storage
}

func (f failing) PutMany(ctx context.Context, entries []Entry) error {
	return errors.New("disk full")
}

func TestOverlayFlushFailureKeepsBase(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()

	overlay := NewOverlay(failing{base})
	require.NoError(t, overlay.Put(ctx, "a", []byte("staged")))
	assert.Error(t, overlay.Flush(ctx))
	assert.Equal(t, 1, overlay.Len())
	assert.Empty(t, base.(*memory).Keys())
}
