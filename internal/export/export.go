// Package export turns document drafts into downloadable files. The
// pipeline guarantees only a well-formed title/body pair; rendering
// correctness belongs to the per-format renderers, and binary formats are
// delegated to an external renderer service.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/finsight-ai/assistant-platform/internal/model"
)

// Format is a supported export format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatPPTX Format = "pptx"
	FormatMD   Format = "md"
	FormatTXT  Format = "txt"
)

var (
	// ErrUnknownFormat is returned for formats outside the supported set.
	ErrUnknownFormat = errors.New("unknown export format")

	// ErrRendererUnavailable is returned when a format is supported but no
	// renderer is wired for it.
	ErrRendererUnavailable = errors.New("no renderer available for format")

	// ErrEmptyDraft is returned when the draft has no body.
	ErrEmptyDraft = errors.New("document draft has no body")
)

var contentTypes = map[Format]string{
	FormatPDF:  "application/pdf",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatPPTX: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	FormatMD:   "text/markdown; charset=utf-8",
	FormatTXT:  "text/plain; charset=utf-8",
}

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// Result is a rendered document ready for download.
type Result struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Renderer produces the bytes of one format.
type Renderer interface {
	Render(ctx context.Context, draft model.DocumentDraft, format Format) ([]byte, error)
}

// Service dispatches drafts to per-format renderers.
type Service struct {
	renderers map[Format]Renderer
}

// NewService creates an export service with the text formats wired
// natively. Binary formats are added via Register.
func NewService() *Service {
	s := &Service{renderers: make(map[Format]Renderer)}
	s.Register(FormatMD, markdownRenderer{})
	s.Register(FormatTXT, textRenderer{})
	return s
}

// Register wires a renderer for one format.
func (s *Service) Register(format Format, r Renderer) {
	s.renderers[format] = r
}

// Export renders a draft in the requested format.
func (s *Service) Export(ctx context.Context, draft model.DocumentDraft, format Format) (*Result, error) {
	if _, ok := contentTypes[format]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if strings.TrimSpace(draft.Body) == "" {
		return nil, ErrEmptyDraft
	}

	r, ok := s.renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRendererUnavailable, format)
	}

	data, err := r.Render(ctx, draft, format)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", format, err)
	}

	return &Result{
		Data:        data,
		ContentType: contentTypes[format],
		Filename:    Filename(draft.Title, format),
	}, nil
}

// Filename derives a download filename from the draft title.
func Filename(title string, format Format) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, title)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "document"
	}
	return fmt.Sprintf("%s.%s", slug, format)
}

// markdownRenderer emits the draft as a markdown document.
type markdownRenderer struct{}

func (markdownRenderer) Render(ctx context.Context, draft model.DocumentDraft, _ Format) ([]byte, error) {
	var b strings.Builder
	if draft.Title != "" {
		b.WriteString("# ")
		b.WriteString(draft.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(draft.Body)
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// textRenderer emits the draft as plain text.
type textRenderer struct{}

func (textRenderer) Render(ctx context.Context, draft model.DocumentDraft, _ Format) ([]byte, error) {
	var b strings.Builder
	if draft.Title != "" {
		b.WriteString(draft.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(draft.Body)
	b.WriteString("\n")
	return []byte(b.String()), nil
}
