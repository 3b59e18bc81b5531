package analytics

import (
	"container/list"
	"sync"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/efficiency"
)

// VehicleHistory is a vehicle's full event history with its derived series.
// Cached values are shared between readers and must not be modified.
type VehicleHistory struct {
	VehicleRef string                `json:"vehicle_ref"`
	Events     []v1.FuelEvent        `json:"events"`
	Series     []efficiency.Interval `json:"series"`
}

// seriesCache is a thread-safe LRU of vehicle histories keyed by vehicle ref.
//
// Every invalidation bumps epoch; a put carrying an older epoch is dropped so a
// load that raced with a ledger write cannot resurrect stale data.
type seriesCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	epoch    uint64
}

type seriesEntry struct {
	vehicleRef string
	history    VehicleHistory
}

func newSeriesCache(capacity int) *seriesCache {
	return &seriesCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *seriesCache) get(vehicleRef string) (VehicleHistory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[vehicleRef]
	if !ok {
		return VehicleHistory{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*seriesEntry).history, true
}

// currentEpoch must be read before loading the value later passed to put.
func (c *seriesCache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *seriesCache) put(history VehicleHistory, epoch uint64) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}

	if elem, ok := c.entries[history.VehicleRef]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*seriesEntry).history = history
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.entries, oldest.Value.(*seriesEntry).vehicleRef)
			c.order.Remove(oldest)
		}
	}

	c.entries[history.VehicleRef] = c.order.PushFront(&seriesEntry{vehicleRef: history.VehicleRef, history: history})
}

func (c *seriesCache) invalidate(vehicleRefs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	for _, ref := range vehicleRefs {
		if elem, ok := c.entries[ref]; ok {
			delete(c.entries, ref)
			c.order.Remove(elem)
		}
	}
}

func (c *seriesCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
