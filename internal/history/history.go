package history

import (
	"sync"

	"jobsight/orchestrator/internal/models"
)

// History is a bounded store of recent detection responses for status
// polling. It is a cache, not the system of record: once capacity is
// reached the oldest response is evicted on every insert.
type History struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]models.DetectionResponse
}

func New(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		byID:     make(map[string]models.DetectionResponse, capacity),
	}
}

func (h *History) Put(resp models.DetectionResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byID[resp.RequestID]; !exists {
		if len(h.order) >= h.capacity {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.byID, oldest)
		}
		h.order = append(h.order, resp.RequestID)
	}
	h.byID[resp.RequestID] = resp
}

func (h *History) Get(requestID string) (models.DetectionResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp, ok := h.byID[requestID]
	if !ok {
		return models.DetectionResponse{}, models.ErrRequestNotFound
	}
	return resp, nil
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
