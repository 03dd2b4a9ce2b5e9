package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID string
	X  float64
	Y  float64
}

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry[rec]()

	r.Put("a", rec{ID: "a", X: 1})
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.X)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("a"))
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestRegistry_RemoveTwiceIsNoop(t *testing.T) {
	r := NewRegistry[rec]()
	r.Put("a", rec{ID: "a"})

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Empty(t, r.IDs())
}

func TestRegistry_PutSameIDReplaces(t *testing.T) {
	r := NewRegistry[rec]()
	r.Put("a", rec{ID: "a", X: 1})
	r.Put("a", rec{ID: "a", X: 2})

	assert.Equal(t, []string{"a"}, r.IDs())
	got, _ := r.Get("a")
	assert.Equal(t, 2.0, got.X)
}

func TestRegistry_UpdateAbsent(t *testing.T) {
	r := NewRegistry[rec]()
	called := false
	ok := r.Update("ghost", func(*rec) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry[rec]()
	r.Put("a", rec{ID: "a", X: 1})

	got, _ := r.Get("a")
	r.Update("a", func(v *rec) { v.X = 99 })

	assert.Equal(t, 1.0, got.X)
	now, _ := r.Get("a")
	assert.Equal(t, 99.0, now.X)
}

func TestTxn_InvisibleUntilCommit(t *testing.T) {
	r := NewRegistry[rec]()
	r.Put("a", rec{ID: "a", X: 1, Y: 1})

	tx := r.Begin()
	tx.Update("a", func(v *rec) { v.X = 2 })
	tx.Put("b", rec{ID: "b"})

	inside, _ := tx.Get("a")
	assert.Equal(t, 2.0, inside.X)

	outside, _ := r.Get("a")
	assert.Equal(t, 1.0, outside.X)
	assert.False(t, r.Has("b"))

	tx.Commit()
	assert.Equal(t, []string{"a", "b"}, r.IDs())
}

func TestTxn_CommitTwiceReleasesOnce(t *testing.T) {
	r := NewRegistry[rec]()
	tx := r.Begin()
	tx.Put("a", rec{ID: "a"})
	tx.Commit()
	tx.Commit()

	assert.Equal(t, 1, r.Len())
	r.Put("b", rec{ID: "b"})
	assert.Equal(t, 2, r.Len())
}

func TestTxn_UntouchedCommitKeepsVersion(t *testing.T) {
	r := NewRegistry[rec]()
	r.Put("a", rec{ID: "a"})
	before := r.IDs()

	tx := r.Begin()
	_, _ = tx.Get("a")
	assert.False(t, tx.Remove("missing"))
	tx.Commit()

	assert.Equal(t, before, r.IDs())
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry[rec]()
	r.Put("a", rec{})
	r.Put("b", rec{})
	r.Clear()
	assert.Equal(t, 0, r.Len())
}

// Readers must never see a half applied tick: every published version has
// X == Y for all records.
func TestRegistry_ReadersSeeConsistentVersions(t *testing.T) {
	r := NewRegistry[rec]()
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("v%d", i)
		r.Put(id, rec{ID: id})
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				all := r.All()
				for _, v := range all {
					if v.X != v.Y {
						t.Errorf("torn record %+v", v)
						return
					}
				}
				if len(all) > 0 && all[0].X != all[len(all)-1].X {
					t.Errorf("records from different ticks: %v vs %v", all[0].X, all[len(all)-1].X)
					return
				}
			}
		}()
	}

	for tick := 1; tick <= 500; tick++ {
		tx := r.Begin()
		for _, id := range r.IDs() {
			tx.Update(id, func(v *rec) { v.X = float64(tick) })
		}
		for _, id := range r.IDs() {
			tx.Update(id, func(v *rec) { v.Y = float64(tick) })
		}
		tx.Commit()
	}
	close(stop)
	wg.Wait()
}

func TestCounter(t *testing.T) {
	var c Counter
	c.Inc()
	assert.Equal(t, uint64(2), c.Inc())
	assert.Equal(t, uint64(2), c.Value())
	c.Reset()
	assert.Equal(t, uint64(0), c.Value())
}
