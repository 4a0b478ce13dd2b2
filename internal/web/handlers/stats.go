package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/lookup"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	service *lookup.Service
	logger  logr.Logger
	cache   statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(svc *lookup.Service, logger logr.Logger) *StatsHandler {
	return &StatsHandler{
		service: svc,
		logger:  logger.WithName("stats"),
	}
}

// InvalidateCache clears the cached stats so the next request counts again
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	Students           int     `json:"students"`
	WithPhoto          int     `json:"with_photo"`
	WithDescriptor     int     `json:"with_descriptor"`
	MissingDescriptors int     `json:"missing_descriptors"`
	MatchThreshold     float64 `json:"match_threshold"`
}

// Get returns descriptor coverage of the student table
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	resp := &StatsResponse{
		Students:           stats.Students,
		WithPhoto:          stats.WithPhoto,
		WithDescriptor:     stats.WithDescriptor,
		MissingDescriptors: stats.MissingDescriptors(),
		MatchThreshold:     h.service.Threshold(),
	}
	h.cache.set(resp)
	respondJSON(w, http.StatusOK, resp)
}
