package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ryanbastic/go-dashboards/internal/widget"
)

// markdownData is the shape of a markdown widget's data payload.
type markdownData struct {
	Content *string `json:"content"`
}

func (s *Service) renderMarkdown(w widget.Widget) (string, error) {
	if w.Type != widget.TypeMarkdown {
		return "", fmt.Errorf("%w: widget %s has type %s", ErrNotRenderable, w.ID, w.Type)
	}
	if len(w.Data) == 0 {
		return "", fmt.Errorf("%w: widget %s has no data", ErrNotRenderable, w.ID)
	}

	var md markdownData
	if err := json.Unmarshal(w.Data, &md); err != nil || md.Content == nil {
		return "", fmt.Errorf("%w: widget %s data has no content string", ErrNotRenderable, w.ID)
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(*md.Content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
