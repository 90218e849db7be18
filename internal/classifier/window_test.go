package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowPrunesByAge(t *testing.T) {
	w := NewWindow[string](time.Minute, 8)

	w.Add(sessionStart, "a")
	w.Add(sessionStart.Add(30*time.Second), "b")
	w.Add(sessionStart.Add(61*time.Second), "c")

	assert.Equal(t, []string{"b", "c"}, w.Values())

	w.Prune(sessionStart.Add(5 * time.Minute))
	assert.Equal(t, 0, w.Len())
}

func TestWindowOverwritesOldestWhenFull(t *testing.T) {
	w := NewWindow[int](time.Hour, 3)
	for i := 1; i <= 5; i++ {
		w.Add(sessionStart.Add(time.Duration(i)*time.Second), i)
	}
	assert.Equal(t, []int{3, 4, 5}, w.Values())
	assert.Equal(t, 3, w.Len())
}

func TestWindowDistinctAndReset(t *testing.T) {
	w := NewWindow[string](time.Hour, 8)
	for _, v := range []string{"p1", "p2", "p1", "p3", "p2"} {
		w.Add(sessionStart, v)
	}
	assert.Equal(t, 3, Distinct(w))

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Values())

	w.Add(sessionStart, "again")
	assert.Equal(t, []string{"again"}, w.Values())
}
