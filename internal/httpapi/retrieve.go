package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/latticemem/engine/internal/retrieval"
)

// retrieveMemoryRequest is the wire shape of POST /v1/retrieve.
type retrieveMemoryRequest struct {
	UserID          string  `json:"userId"`
	Query           string  `json:"query"`
	CharacterID     *string `json:"characterId,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	MinSimilarity   float64 `json:"minSimilarity,omitempty"`
	UseHybrid       bool    `json:"useHybrid,omitempty"`
	UseReranking    bool    `json:"useReranking,omitempty"`
	UseExpansion    bool    `json:"useExpansion,omitempty"`
	IncludeMetadata bool    `json:"includeMetadata,omitempty"`
}

// retrieveHandler handles POST /v1/retrieve, running the full query
// pipeline (or serving a cached response) and returning ranked results.
func retrieveHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retrieveMemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.UserID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "userId is required"})
			return
		}
		if req.Query == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "query is required"})
			return
		}

		resp, err := svc.Retrieve(r.Context(), retrieval.Request{
			UserID:    req.UserID,
			QueryText: req.Query,
			Options: retrieval.Options{
				Limit:           req.Limit,
				CharacterID:     req.CharacterID,
				MinSimilarity:   req.MinSimilarity,
				UseHybrid:       req.UseHybrid,
				UseReranking:    req.UseReranking,
				UseExpansion:    req.UseExpansion,
				IncludeMetadata: req.IncludeMetadata,
			},
		})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "retrieval failed"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: resp})
	}
}
