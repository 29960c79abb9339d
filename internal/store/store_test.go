package store

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

type failingBackend struct {
	MemoryBackend
	saveErr error
}

func (b *failingBackend) Save(context.Context, *Snapshot) error { return b.saveErr }

func TestStoreLoadMarksReady(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(t.Context(), &Snapshot{Values: map[string]value.Value{
		"ringtone": value.String("chime.ogg"),
	}}))

	s := New(backend)
	assert.False(t, s.Ready())
	require.NoError(t, s.Load(t.Context()))
	assert.True(t, s.Ready())

	v, ok := s.Get("ringtone")
	require.True(t, ok)
	assert.True(t, v.Equal(value.String("chime.ogg")))
}

func TestStoreGetFallsBackToDefault(t *testing.T) {
	s := New(nil)
	s.LoadDefaults(map[string]value.Value{"wallpaper": value.String("flowers")})

	v, ok := s.Get("wallpaper")
	require.True(t, ok)
	assert.True(t, v.Equal(value.String("flowers")))

	_, ok = s.Current("wallpaper")
	assert.False(t, ok)

	require.NoError(t, s.Set(t.Context(), "wallpaper", value.String("ocean")))
	v, _ = s.Get("wallpaper")
	assert.True(t, v.Equal(value.String("ocean")))
	d, _ := s.GetDefault("wallpaper")
	assert.True(t, d.Equal(value.String("flowers")))

	assert.Equal(t, []string{"wallpaper"}, s.Keys())
}

func TestStoreSetPersists(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	require.NoError(t, s.Set(t.Context(), "a", value.Int(1)))
	require.NoError(t, s.Set(t.Context(), "a", value.Int(2)))

	snap, err := backend.Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Values["a"].Equal(value.Int(2)))
	assert.False(t, snap.SavedAt.IsZero())
}

func TestStoreSaveFailureKeepsCommit(t *testing.T) {
	s := New(&failingBackend{saveErr: stderrors.New("disk full")})

	err := s.Set(t.Context(), "a", value.Bool(true))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryStorage))

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.True(t, v.Equal(value.Bool(true)))
}

func TestStoreLoadError(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/state.json"
	require.NoError(t, writeFile(path, "{not json"))

	s := New(NewFileBackend(path))
	err := s.Load(t.Context())
	require.Error(t, err)
	assert.False(t, s.Ready())
}

func TestLockKeySerializesSameKey(t *testing.T) {
	s := New(nil)
	unlock := s.LockKey("k")

	acquired := make(chan struct{})
	go func() {
		release := s.LockKey("k")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the key while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	other := s.LockKey("other")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired the key")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set(t.Context(), "a", value.Int(1)))
	snap := s.Snapshot()
	snap["a"] = value.Int(99)

	v, _ := s.Get("a")
	assert.True(t, v.Equal(value.Int(1)))
}

func TestConcurrentSetsOnDistinctKeys(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			unlock := s.LockKey(key)
			defer unlock()
			assert.NoError(t, s.Set(context.Background(), key, value.Int(int64(i))))
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Snapshot(), 20)
}
