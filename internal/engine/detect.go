package engine

import (
	"fmt"
	"net/url"
)

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	OllamaBaseURL string
}

// Detect returns the embedding backend for cfg. Ollama is the only backend;
// an unusable base URL is a configuration error.
func Detect(cfg DetectConfig) (Engine, error) {
	u, err := url.Parse(cfg.OllamaBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama base url %q", cfg.OllamaBaseURL)
	}
	return NewOllamaEngine(cfg.OllamaBaseURL), nil
}
