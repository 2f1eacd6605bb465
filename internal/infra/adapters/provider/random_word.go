package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"subsearch-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.WordSource = (*RandomWordSource)(nil)

var errEmptyWordList = errors.New("empty word list")

var fallbackWords = []string{
	"atlas", "harbor", "mosaic", "cocoa", "summit",
	"glow", "orbit", "quartz", "tango", "whistle",
}

// RandomWordSource fetches a word from an HTTP endpoint answering with a JSON
// array of strings, and falls back to a built-in list on any failure.
type RandomWordSource struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func NewRandomWordSource(url string, logger *zerolog.Logger) *RandomWordSource {
	return &RandomWordSource{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logger.With().Str("component", "RandomWordSource").Logger(),
	}
}

func (s *RandomWordSource) RandomWord(ctx context.Context) (string, error) {
	if s.url != "" {
		w, err := s.fetch(ctx)
		if err == nil {
			return w, nil
		}
		s.log.Debug().Err(err).Msg("random word api failed; using fallback list")
	}
	return fallbackWords[rand.Intn(len(fallbackWords))], nil
}

func (s *RandomWordSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}
	var words []string
	if err := json.NewDecoder(resp.Body).Decode(&words); err != nil {
		return "", err
	}
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			return strings.ToLower(w), nil
		}
	}
	return "", errEmptyWordList
}
