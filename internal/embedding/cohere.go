package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultCohereURL   = "https://api.cohere.ai"
	DefaultCohereModel = "embed-english-v3.0"
	// CohereDimension is the output size of the v3 English models.
	CohereDimension = 1024

	cohereBatchSize = 96
)

// Cohere calls the Cohere embed endpoint.
type Cohere struct {
	baseURL    string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client
}

type CohereOption func(*Cohere)

// WithCohereBaseURL points the client at another host (tests, proxies).
func WithCohereBaseURL(u string) CohereOption {
	return func(c *Cohere) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithCohereModel(model string, dim int) CohereOption {
	return func(c *Cohere) {
		if model != "" {
			c.model = model
		}
		if dim > 0 {
			c.dim = dim
		}
	}
}

func WithHTTPClient(hc *http.Client) CohereOption {
	return func(c *Cohere) { c.httpClient = hc }
}

func NewCohere(apiKey string, opts ...CohereOption) *Cohere {
	c := &Cohere{
		baseURL:    DefaultCohereURL,
		apiKey:     apiKey,
		model:      DefaultCohereModel,
		dim:        CohereDimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cohere) Dimension() int { return c.dim }

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func cohereInputType(p Purpose) string {
	if p == PurposeQuery {
		return "search_query"
	}
	return "search_document"
}

func (c *Cohere) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text}, purpose)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany sends texts in chunks of 96, the per-request limit of the API.
func (c *Cohere) EmbedMany(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += cohereBatchSize {
		end := min(start+cohereBatchSize, len(texts))
		vecs, err := c.embedChunk(ctx, texts[start:end], purpose)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Cohere) embedChunk(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	const op = "cohere embed"
	body, err := json.Marshal(cohereRequest{Texts: texts, Model: c.model, InputType: cohereInputType(purpose)})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, unavailable(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var cr cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, unavailable(op, fmt.Errorf("decoding response: %w", err))
	}
	if len(cr.Embeddings) != len(texts) {
		return nil, unavailable(op, fmt.Errorf("got %d embeddings for %d texts", len(cr.Embeddings), len(texts)))
	}
	if err := checkDims(op, c.dim, cr.Embeddings); err != nil {
		return nil, err
	}
	return cr.Embeddings, nil
}
