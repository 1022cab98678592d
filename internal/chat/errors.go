package chat

import (
	"errors"

	"github.com/mohammad-safakhou/ragchat/internal/history"
	"github.com/mohammad-safakhou/ragchat/internal/vectorindex"
)

var (
	// ErrValidation rejects malformed requests before any work is done.
	ErrValidation = errors.New("invalid chat request")
	// ErrQuotaExceeded rejects conversations past the configured round limit.
	ErrQuotaExceeded = errors.New("conversation round limit reached")
	// ErrUpstreamGeneration marks failures of the language model.
	ErrUpstreamGeneration = errors.New("upstream generation failed")

	ErrPersistence = history.ErrPersistence
	ErrRetrieval   = vectorindex.ErrRetrieval
)

// Kind names an error class for transports.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrRetrieval):
		return "retrieval"
	case errors.Is(err, ErrUpstreamGeneration):
		return "upstream_generation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
