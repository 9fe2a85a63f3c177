package net

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/dashpay/llmq/params"
)

// QuorumStatus is one scheduler's view of its own progress.
type QuorumStatus struct {
	QuorumType params.QuorumType `json:"quorum_type"`
	Phase      string            `json:"phase"`
	QuorumHash string            `json:"quorum_hash,omitempty"`
}

// StatusProvider is implemented by the lifecycle coordinator.
type StatusProvider interface {
	CurrentPhaseAndQuorum() []QuorumStatus
}

// Diagnostics builds the read-only HTTP router exposing each scheduler's
// current phase and quorum hash.
func Diagnostics(p StatusProvider) chi.Router {
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.CurrentPhaseAndQuorum())
	})
	return r
}
