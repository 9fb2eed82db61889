package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

const (
	ContentTypePDF      = "application/pdf"
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
)

var (
	errEmptyInput  = errors.New("document is empty")
	errNoPages     = errors.New("document has no pages")
	errUnsupported = errors.New("unsupported content type")
)

type Options struct {
	// AllowText accepts plain text and markdown as a single page.
	AllowText bool
	// MaxRunes caps the extracted text per document. Zero disables the cap.
	MaxRunes int
}

type Result struct {
	Pages       []knowledge.PageText
	NumPages    int
	ContentType string
	Truncated   bool
}

// Extractor turns raw document bytes into per-page text.
type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Extract returns one PageText per page, in page order. Pages without
// extractable text are kept with empty text.
func (e *Extractor) Extract(ctx context.Context, raw []byte, filename string) (*Result, error) {
	if len(raw) == 0 {
		return nil, knowledge.NewExtractionError("detect", errEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, knowledge.NewExtractionError("detect", err)
	}
	contentType := detectContentType(raw, filename)
	var (
		pages []knowledge.PageText
		err   error
	)
	switch contentType {
	case ContentTypePDF:
		pages, err = readPDF(ctx, raw)
	case ContentTypeText, ContentTypeMarkdown:
		if !e.opts.AllowText {
			return nil, knowledge.NewExtractionError("detect", fmt.Errorf("%w: %s", errUnsupported, contentType))
		}
		pages, err = readText(raw)
	default:
		return nil, knowledge.NewExtractionError("detect", fmt.Errorf("%w: %s", errUnsupported, contentType))
	}
	if err != nil {
		return nil, knowledge.NewExtractionError(contentType, err)
	}
	if len(pages) == 0 {
		return nil, knowledge.NewExtractionError(contentType, errNoPages)
	}
	result := &Result{Pages: pages, NumPages: len(pages), ContentType: contentType}
	if e.opts.MaxRunes > 0 {
		result.Truncated = capRunes(result.Pages, e.opts.MaxRunes)
		if result.Truncated {
			logger.FromContext(ctx).Warn(
				"Document text truncated",
				"filename", filename,
				"max_runes", e.opts.MaxRunes,
			)
		}
	}
	return result, nil
}

func detectContentType(raw []byte, filename string) string {
	detected := mimetype.Detect(raw)
	if detected.Is(ContentTypePDF) {
		return ContentTypePDF
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".md" || ext == ".markdown" {
		return ContentTypeMarkdown
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(ContentTypeText) {
			return ContentTypeText
		}
	}
	return detected.String()
}

func readPDF(ctx context.Context, raw []byte) (pages []knowledge.PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	pages = make([]knowledge.PageText, 0, total)
	log := logger.FromContext(ctx)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, knowledge.PageText{PageNumber: i, Text: pageText(reader.Page(i), i, log)})
	}
	return pages, nil
}

func pageText(page pdf.Page, number int, log logger.Logger) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Page text could not be extracted", "page_number", number, "error", r)
			text = ""
		}
	}()
	if page.V.IsNull() {
		return ""
	}
	raw, err := page.GetPlainText(nil)
	if err != nil {
		log.Warn("Page text could not be extracted", "page_number", number, "error", err)
		return ""
	}
	// the reader pads every page with leading newlines
	text = strings.Trim(normalizeNewlines(raw), "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

func readText(raw []byte) ([]knowledge.PageText, error) {
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	return []knowledge.PageText{{PageNumber: 1, Text: text}}, nil
}

func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, ContentTypeText)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	return normalizeNewlines(string(decoded)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// capRunes trims pages in place so their combined length fits limit.
func capRunes(pages []knowledge.PageText, limit int) bool {
	remaining := limit
	truncated := false
	for i := range pages {
		n := utf8.RuneCountInString(pages[i].Text)
		if n <= remaining {
			remaining -= n
			continue
		}
		if remaining == 0 {
			pages[i].Text = ""
		} else {
			pages[i].Text = knowledge.TruncateRunes(pages[i].Text, remaining)
		}
		remaining = 0
		truncated = true
	}
	return truncated
}
