package rover

import (
	"slices"
	"sync"

	"rovers/pkg/protocol"
)

// DiscoveryBuffer collects marker detections during an exploration task.
// Detections are keyed by marker id; the first sighting of a marker wins.
type DiscoveryBuffer struct {
	mu    sync.Mutex
	byID  map[int]protocol.Discovery
	order []int
}

func NewDiscoveryBuffer() *DiscoveryBuffer {
	return &DiscoveryBuffer{byID: make(map[int]protocol.Discovery)}
}

// Add records d unless its marker was already seen. It reports whether d was
// new.
func (b *DiscoveryBuffer) Add(d protocol.Discovery) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.byID[d.MarkerID]; seen {
		return false
	}
	b.byID[d.MarkerID] = d
	b.order = append(b.order, d.MarkerID)
	return true
}

// Drain returns the buffered detections ordered by marker id and clears the
// buffer.
func (b *DiscoveryBuffer) Drain() []protocol.Discovery {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return nil
	}
	ids := slices.Clone(b.order)
	slices.Sort(ids)
	out := make([]protocol.Discovery, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.byID[id])
	}
	clear(b.byID)
	b.order = b.order[:0]
	return out
}

// Len returns the number of distinct markers buffered.
func (b *DiscoveryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
