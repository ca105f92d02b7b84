package routing

import (
	"sync"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// historyLimit bounds the in-memory decision log.
const historyLimit = 1000

// history is an append-only, FIFO-trimmed log of routing decisions. There is
// no ordering guarantee across concurrent decisions for different model keys.
type history struct {
	mu    sync.Mutex
	limit int
	log   []models.RoutingDecision
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = historyLimit
	}
	return &history{limit: limit}
}

func (h *history) append(d models.RoutingDecision) {
	h.mu.Lock()
	h.log = append(h.log, d)
	if len(h.log) > h.limit {
		h.log = h.log[len(h.log)-h.limit:]
	}
	h.mu.Unlock()
}

// recent returns up to n decisions, newest first. n <= 0 returns everything.
func (h *history) recent(n int) []models.RoutingDecision {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.log) {
		n = len(h.log)
	}
	out := make([]models.RoutingDecision, n)
	for i := 0; i < n; i++ {
		out[i] = h.log[len(h.log)-1-i]
	}
	return out
}

func (h *history) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.log)
}
