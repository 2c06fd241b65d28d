// Package pdfconv is the rasterization collaborator: it turns PDF bytes
// into an ordered, finite sequence of page images for the pipeline.
package pdfconv

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// Rasterizer converts PDF documents to per-page PNG images.
type Rasterizer struct {
	dpi int
}

// NewRasterizer creates a rasterizer rendering at the given DPI.
func NewRasterizer(dpi int) *Rasterizer {
	if dpi <= 0 {
		dpi = 300
	}
	return &Rasterizer{dpi: dpi}
}

// PageCount opens the document read-only and returns its page count. Used
// as a cheap preflight before committing to a full render.
func (r *Rasterizer) PageCount(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	n := reader.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("PDF has no pages")
	}
	return n, nil
}

// Pages renders every page to PNG bytes, in page order. The returned slice
// is finite and complete; ctx cancellation aborts the remaining pages.
func (r *Rasterizer) Pages(ctx context.Context, data []byte) ([][]byte, error) {
	if _, err := r.PageCount(data); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF for rendering: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	pages := make([][]byte, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, float64(r.dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", pageNum+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", pageNum+1, err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}
