package sensors

import (
	"sort"
	"sync"
	"time"

	"device-hub/internal/models"
)

// Cache is a fixed-capacity ring buffer of sensor readings. Once full, each
// insert overwrites the oldest entry (FIFO by insertion order, no access
// tracking).
type Cache struct {
	mu   sync.RWMutex
	buf  []models.SensorData
	head int // index of the oldest entry when full
	size int
}

// NewCache panics on non-positive capacity; the config layer validates it
// before we get here.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		panic("sensors: cache capacity must be positive")
	}
	return &Cache{buf: make([]models.SensorData, capacity)}
}

// Add inserts a reading, reporting whether an older one was evicted.
func (c *Cache) Add(d models.SensorData) (evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size < len(c.buf) {
		c.buf[(c.head+c.size)%len(c.buf)] = d
		c.size++
		return false
	}
	c.buf[c.head] = d
	c.head = (c.head + 1) % len(c.buf)
	return true
}

// Size returns the number of cached readings.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Capacity returns the fixed capacity.
func (c *Cache) Capacity() int {
	return len(c.buf)
}

// Range returns the readings with start <= timestamp <= end, sorted
// ascending by timestamp regardless of insertion order.
func (c *Cache) Range(start, end time.Time) []models.SensorData {
	c.mu.RLock()
	out := make([]models.SensorData, 0, c.size)
	for i := 0; i < c.size; i++ {
		d := c.buf[(c.head+i)%len(c.buf)]
		if d.Timestamp.Before(start) || d.Timestamp.After(end) {
			continue
		}
		out = append(out, d)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Snapshot returns every cached reading in insertion order.
func (c *Cache) Snapshot() []models.SensorData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.SensorData, 0, c.size)
	for i := 0; i < c.size; i++ {
		out = append(out, c.buf[(c.head+i)%len(c.buf)])
	}
	return out
}

// Clear drops all cached readings.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head, c.size = 0, 0
}
