package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

// HTTPGenerator forwards generation requests to an external provider that
// accepts and returns the models.Generation* JSON shapes.
type HTTPGenerator struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPGenerator(url, apiKey string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGenerator) Invoke(ctx context.Context, in models.GenerationRequest) (models.GenerationResponse, error) {
	var out models.GenerationResponse
	if g.url == "" {
		return out, errors.New("generation url not configured")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("generation %s: %w", in.Stage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return out, &StatusError{Platform: "generator", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode generation response: %w", err)
	}
	return out, nil
}
