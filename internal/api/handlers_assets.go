package api

import (
	"net/http"
	"strings"

	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// maxBatchAssets bounds a single pricing or classification request
const maxBatchAssets = 200

// PricesRequest is the body of POST /api/prices
type PricesRequest struct {
	Assets []types.AssetIdentifier `json:"assets"`
}

// PricesResponse maps every requested asset to its price and source
type PricesResponse struct {
	Prices map[types.AssetIdentifier]types.PriceResult `json:"prices"`
}

// ClassifyRequest is the body of POST /api/assets/classify
type ClassifyRequest struct {
	Assets []ClassifyAsset `json:"assets"`
}

// ClassifyAsset is one asset to classify
type ClassifyAsset struct {
	ID       types.AssetIdentifier `json:"id"`
	Metadata types.AssetMetadata   `json:"metadata"`
}

// ClassifiedAsset is one classification verdict
type ClassifiedAsset struct {
	ID             types.AssetIdentifier `json:"id"`
	Classification types.Classification  `json:"classification"`
}

// ProtocolsResponse is the body of GET /api/protocols
type ProtocolsResponse struct {
	Version   string              `json:"version"`
	Protocols []registry.Protocol `json:"protocols"`
}

func validBatch(n int) (string, bool) {
	switch {
	case n == 0:
		return "assets must not be empty", false
	case n > maxBatchAssets:
		return "too many assets in one request", false
	}
	return "", true
}

// handleResolvePrices handles POST /api/prices
func (s *Server) handleResolvePrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if msg, ok := validBatch(len(req.Assets)); !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, msg, map[string]interface{}{"max": maxBatchAssets})
		return
	}
	for _, id := range req.Assets {
		if strings.TrimSpace(string(id)) == "" {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "asset identifiers must not be blank", nil)
			return
		}
	}

	prices := s.deps.Prices.ResolvePrices(r.Context(), req.Assets, nil)
	respondJSON(w, http.StatusOK, PricesResponse{Prices: prices})
}

// handleClassifyAssets handles POST /api/assets/classify
func (s *Server) handleClassifyAssets(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if msg, ok := validBatch(len(req.Assets)); !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, msg, map[string]interface{}{"max": maxBatchAssets})
		return
	}

	out := make([]ClassifiedAsset, 0, len(req.Assets))
	for _, a := range req.Assets {
		out = append(out, ClassifiedAsset{
			ID:             a.ID,
			Classification: s.deps.Classifier.Classify(a.ID, a.Metadata),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"assets": out})
}

// handleListProtocols handles GET /api/protocols
func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ProtocolsResponse{
		Version:   s.deps.Registry.Version(),
		Protocols: s.deps.Registry.Protocols(),
	})
}
