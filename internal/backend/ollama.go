package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaBaseURL is the local Ollama API root.
const DefaultOllamaBaseURL = "http://127.0.0.1:11434"

// ErrUnreachable indicates the Ollama server could not be reached
// (connection refused, timeout, or non-2xx).
var ErrUnreachable = errors.New("ollama server unreachable")

// OllamaClient generates text through a local Ollama server's
// /api/generate endpoint. Zero value is not valid; use NewOllamaClient.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient builds an Ollama client. baseURL is the API root
// (e.g. http://127.0.0.1:11434). If httpClient is nil, a default client
// with the package timeout is used.
func NewOllamaClient(baseURL string, httpClient *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &OllamaClient{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

func (c *OllamaClient) Name() string { return "ollama" }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options"`
	Stream  bool           `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Attempt POSTs /api/generate with temperature 0 and no streaming and
// returns the model's text. The file list rides inside the prompt; the
// engine assembles context before calling.
func (c *OllamaClient) Attempt(ctx context.Context, model string, prompt string, _ []string) (bool, string, string) {
	model = PickOllamaModel(model)
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Options: map[string]any{"temperature": 0},
		Stream:  false,
	})
	if err != nil {
		return false, "", fmt.Sprintf("[ERR] Ollama request encode: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Sprintf("[ERR] Ollama request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Sprintf("[ERR] Ollama error: %v", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", fmt.Sprintf("[ERR] Ollama read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Sprintf("[ERR] Ollama error: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	text, err := decodeGenerate(raw)
	if err != nil {
		return false, "", fmt.Sprintf("[ERR] Ollama parse: %v", err)
	}
	if text == "" {
		return false, "", "[ERR] Empty response from Ollama"
	}
	return true, text, "[OK]"
}

// decodeGenerate parses a generate response body. Some server builds
// stream NDJSON even with stream=false; fall back to the last line.
func decodeGenerate(raw []byte) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err == nil {
		return strings.TrimSpace(out.Response), nil
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "", errors.New("empty response body")
	}
	if err := json.Unmarshal([]byte(last), &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

// PickOllamaModel selects the first entry of a comma-separated model
// list and strips a leading "api:ollama:" routing prefix.
func PickOllamaModel(models string) string {
	first := strings.TrimSpace(strings.SplitN(models, ",", 2)[0])
	if first == "" {
		return "qwen2.5-coder:7b-instruct"
	}
	if i := strings.Index(first, "api:ollama:"); i >= 0 {
		return first[i+len("api:ollama:"):]
	}
	return first
}

// Check verifies the server is reachable. It GETs /api/tags; on
// connection or HTTP error the returned error wraps ErrUnreachable.
func (c *OllamaClient) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama tags: %w", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama tags: %w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}
