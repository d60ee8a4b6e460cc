package handler

import (
	"context"
	"net/http"

	"go-press/internal/data"
	"go-press/internal/database"
	"go-press/internal/middleware"
)

// StatsSource reports connection pool and per-operation statistics.
type StatsSource interface {
	Stats() database.Stats
	OperationStats() map[string]database.OperationStats
}

// RowCounter reports how many rows each table holds.
type RowCounter interface {
	Counts(ctx context.Context) (data.Counts, error)
}

// StatsHandler serves operational statistics for admins.
type StatsHandler struct {
	pool    StatsSource
	counter RowCounter
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(pool StatsSource, counter RowCounter) *StatsHandler {
	return &StatsHandler{pool: pool, counter: counter}
}

type statsResponse struct {
	Pool       database.Stats                     `json:"pool"`
	Operations map[string]database.OperationStats `json:"operations"`
	Counts     data.Counts                        `json:"counts"`
}

func (h *StatsHandler) statsHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	counts, err := h.counter.Counts(r.Context())
	if err != nil {
		return middleware.FromError(err, "Failed to count rows")
	}
	return writeJSON(w, r, http.StatusOK, statsResponse{
		Pool:       h.pool.Stats(),
		Operations: h.pool.OperationStats(),
		Counts:     counts,
	})
}
