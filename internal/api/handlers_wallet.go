package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/types"
)

// PositionsResponse is the body of GET /api/wallets/{address}/positions
type PositionsResponse struct {
	Wallet    string            `json:"wallet"`
	Positions []types.Position  `json:"positions"`
	Metrics   types.DeFiMetrics `json:"metrics"`
}

// parseAsOf accepts RFC3339 or a plain date; a plain date means the end of
// that day in UTC
func parseAsOf(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("asOf", "must be RFC3339 or YYYY-MM-DD")
	}
	end := d.Add(24*time.Hour - time.Second)
	return &end, nil
}

// handleGetPortfolio handles GET /api/wallets/{address}/portfolio
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	asOf, err := parseAsOf(r.URL.Query().Get("asOf"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if asOf != nil && asOf.After(time.Now()) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "asOf must not be in the future", nil)
		return
	}

	snap, err := s.deps.Engine.BuildSnapshot(r.Context(), address, asOf)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// handleGetPositions handles GET /api/wallets/{address}/positions
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	positions, summary, err := s.deps.Engine.Positions(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if positions == nil {
		positions = []types.Position{}
	}

	respondJSON(w, http.StatusOK, PositionsResponse{
		Wallet:    address,
		Positions: positions,
		Metrics:   summary,
	})
}

// handleGetHistory handles GET /api/wallets/{address}/history?days=N
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "days must be a positive integer", nil)
			return
		}
		days = n
	}

	hist, err := s.deps.Engine.History(r.Context(), address, days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, hist)
}
