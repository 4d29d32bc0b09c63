package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// keepaliveInterval matches the operations core's literal, non-tunable
// keep-alive duration passed to Ollama on each warmup request.
const keepaliveInterval = "10m"

// keepaliveBurst bounds how many keepalive POSTs fire in quick succession
// when a host has many models loaded, so warmup never stampedes a single
// Ollama instance.
const keepaliveBurst = 3

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// warmOllamaModels lists locally available models and issues a best-effort
// keep-alive generate request for each, so the next real request doesn't
// pay a cold-load penalty.
func (h *Healer) warmOllamaModels(ctx context.Context) (bool, map[string]any) {
	tagsURL := h.ollamaBaseURL + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagsURL, nil)
	if err != nil {
		return false, map[string]any{"error": err.Error()}
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, map[string]any{"error": err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, map[string]any{"error": fmt.Sprintf("ollama_status_%d", resp.StatusCode)}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, map[string]any{"error": err.Error()}
	}

	limiter := rate.NewLimiter(rate.Limit(keepaliveBurst), keepaliveBurst)
	warmed := make([]string, 0, len(tags.Models))
	for _, model := range tags.Models {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if h.keepAliveModel(ctx, model.Name) {
			warmed = append(warmed, model.Name)
		}
	}

	return true, map[string]any{"models_found": len(tags.Models), "models_warmed": warmed}
}

// keepAliveModel posts a generate request with an empty prompt, which Ollama
// treats as a load-and-hold rather than an inference call. Failures here are
// logged but never fail the overall action — warmup is best-effort.
func (h *Healer) keepAliveModel(ctx context.Context, name string) bool {
	body, err := json.Marshal(map[string]string{"model": name, "keep_alive": keepaliveInterval})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.ollamaBaseURL+"/api/generate",
		strings.NewReader(string(body)))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Warn("ollama keepalive failed", "model", name, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
