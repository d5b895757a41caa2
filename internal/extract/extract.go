// Package extract turns instruction text into typed entities.
//
// Two strategies satisfy Extractor: Deterministic matches against a fixed
// vocabulary, Delegated asks a semantic parser backend and falls back to
// Deterministic whenever the backend is unavailable or answers nonsense.
// Neither ever returns an error; spans they cannot place become
// Unrecognized entities.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
)

const (
	StrategyDeterministic = "deterministic"
	StrategyDelegated     = "delegated"

	EnvParserAPIKey = "PARCELFETCH_PARSER_API_KEY"
)

type Extractor interface {
	Extract(ctx context.Context, text string) []domain.Entity
}

// New selects the strategy named by cfg.Parser.Strategy.
func New(cfg *config.Config, logger *slog.Logger) (Extractor, error) {
	vocab, err := NewVocabulary(cfg)
	if err != nil {
		return nil, err
	}
	det := NewDeterministic(vocab)
	switch cfg.Parser.Strategy {
	case "", StrategyDeterministic:
		return det, nil
	case StrategyDelegated:
		backend := NewHTTPBackend(cfg.Parser.Endpoint, os.Getenv(EnvParserAPIKey), cfg.Parser.Timeout.Std())
		return NewDelegated(backend, vocab, det, logger), nil
	default:
		return nil, fmt.Errorf("unknown parser strategy %q", cfg.Parser.Strategy)
	}
}
