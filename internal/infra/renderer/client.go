package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sealreg/internal/domain"
)

const maxResponseBytes = 64 * 1024

// Client calls the document rendering service:
// POST {base}/render/base-document {record_id, envelope_id} -> {storage_path}.
type Client struct {
	baseURL string
	token   string
	httpDo  func(*http.Request) (*http.Response, error)
}

func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("renderer base url is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpDo:  doer,
	}, nil
}

type renderRequest struct {
	RecordID   string `json:"record_id"`
	EnvelopeID string `json:"envelope_id"`
}

type renderResponse struct {
	StoragePath string `json:"storage_path"`
	Error       string `json:"error"`
}

func (c *Client) RenderBaseDocument(ctx context.Context, recordID, envelopeID string) (string, error) {
	body, err := json.Marshal(renderRequest{RecordID: recordID, EnvelopeID: envelopeID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render/base-document", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpDo(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.Dependency(domain.CodeRenderFailed, fmt.Sprintf("renderer returned %d", resp.StatusCode), errors.New(strings.TrimSpace(string(raw))))
	}
	var out renderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode renderer response: %w", err)
	}
	if out.Error != "" {
		return "", domain.Dependency(domain.CodeRenderFailed, "renderer reported an error", errors.New(out.Error))
	}
	return strings.TrimSpace(out.StoragePath), nil
}
