package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/finsight-ai/assistant-platform/internal/model"
)

// HTTPRenderer delegates binary formats (pdf, docx, xlsx, pptx) to an
// external renderer service.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRenderer creates a renderer client for the given service URL.
func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type renderRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Format string `json:"format"`
}

// Render posts the draft to the renderer service and returns the document
// bytes.
func (r *HTTPRenderer) Render(ctx context.Context, draft model.DocumentDraft, format Format) ([]byte, error) {
	payload, err := json.Marshal(renderRequest{
		Title:  draft.Title,
		Body:   draft.Body,
		Format: string(format),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered document: %w", err)
	}
	return data, nil
}
