package tools

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdfx "github.com/ledongthuc/pdf"
)

// PDFToText extracts the plain text of the first maxPages pages (all when
// maxPages <= 0). Extraction stops early when ctx is done.
func PDFToText(ctx context.Context, data []byte, maxPages int) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty pdf")
	}
	r, err := pdfx.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	total := r.NumPage()
	pages := total
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	var out strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}
