package sensor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_PutGetSnapshot(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.HasPendingChanges())

	tbl.Put("aa", Reading{MAC: "aa", Name: "Kitchen", Temperature: 1})
	tbl.Put("bb", Reading{MAC: "bb", Name: "Attic", Temperature: 2})
	tbl.Put("aa", Reading{MAC: "aa", Name: "Kitchen", Temperature: 3})

	r, ok := tbl.Get("aa")
	require.True(t, ok)
	assert.Equal(t, 3.0, r.Temperature)
	assert.Equal(t, 2, tbl.Len())

	snap := tbl.Snapshot()
	snap["cc"] = Reading{MAC: "cc"}
	delete(snap, "aa")
	assert.Equal(t, 2, tbl.Len(), "snapshot must be detached from the table")

	sorted := tbl.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "Attic", sorted[0].Name)
	assert.Equal(t, "Kitchen", sorted[1].Name)
}

func TestTable_PendingChangesReadAndClear(t *testing.T) {
	tbl := NewTable()
	tbl.Put("aa", Reading{MAC: "aa"})

	assert.True(t, tbl.HasPendingChanges())
	assert.False(t, tbl.HasPendingChanges())

	tbl.Put("aa", Reading{MAC: "aa"})
	tbl.Put("bb", Reading{MAC: "bb"})
	assert.True(t, tbl.HasPendingChanges())
	assert.False(t, tbl.HasPendingChanges())

	tbl.Delete("missing")
	assert.False(t, tbl.HasPendingChanges())
	tbl.Delete("aa")
	assert.True(t, tbl.HasPendingChanges())
}

func TestTable_LockGivesExclusiveAccess(t *testing.T) {
	tbl := NewTable()
	tbl.Put("aa", Reading{MAC: "aa", Temperature: 1})

	m := tbl.Lock()
	done := make(chan struct{})
	go func() {
		tbl.Put("aa", Reading{MAC: "aa", Temperature: 2})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Put completed while the table was locked")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1.0, m["aa"].Temperature)
	tbl.Unlock()

	<-done
	r, _ := tbl.Get("aa")
	assert.Equal(t, 2.0, r.Temperature)
}

// Every writer stores readings whose numeric fields all carry the same value,
// so a reader observing mixed values would have seen a torn write.
func TestTable_NoTornReads(t *testing.T) {
	tbl := NewTable()
	const writers, iterations = 4, 2000

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			mac := fmt.Sprintf("sensor-%d", w%2)
			for i := 0; i < iterations; i++ {
				v := w*iterations + i
				tbl.Put(mac, Reading{
					MAC:         mac,
					Temperature: float64(v),
					Humidity:    float64(v),
					Pressure:    float64(v),
					BatteryMV:   v,
				})
			}
		}(w)
	}

	stop := make(chan struct{})
	var readErr error
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for mac, r := range tbl.Snapshot() {
				if r.Temperature != r.Humidity || r.Humidity != r.Pressure || int(r.Pressure) != r.BatteryMV {
					readErr = fmt.Errorf("torn read for %s: %+v", mac, r)
					return
				}
			}
			tbl.HasPendingChanges()
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.NoError(t, readErr)
	assert.Equal(t, 2, tbl.Len())
}
