package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/latticemem/engine/internal/engine"
)

// ingestMemoryRequest is the wire shape of POST /v1/memories. userId
// stands in for the auth layer this engine does not itself implement;
// the caller is trusted to supply the correct tenant identifier.
type ingestMemoryRequest struct {
	UserID          string          `json:"userId"`
	CharacterID     *string         `json:"characterId,omitempty"`
	Content         string          `json:"content"`
	Importance      float64         `json:"importance"`
	EmotionalWeight float64         `json:"emotionalWeight"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// ingestHandler handles POST /v1/memories. It stores the memory item
// synchronously and returns its id; embedding happens in the background,
// so the item is not yet searchable when this call returns.
func ingestHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestMemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.UserID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "userId is required"})
			return
		}
		if req.Content == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "content is required"})
			return
		}

		id, err := svc.Ingest(r.Context(), engine.IngestRequest{
			UserID:          req.UserID,
			CharacterID:     req.CharacterID,
			Content:         req.Content,
			Importance:      req.Importance,
			EmotionalWeight: req.EmotionalWeight,
			Metadata:        req.Metadata,
		})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to store memory"})
			return
		}

		respondJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]int64{"id": id}})
	}
}
