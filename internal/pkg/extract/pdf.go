package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF concatenates the plain text of every page in order. Pages that
// carry no text or fail to decode contribute nothing.
func extractPDF(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", ErrMalformed
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", err
	}

	return joinPages(pdfReader.NumPage(), func(i int) (string, bool, error) {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			return "", false, nil
		}
		text, err := page.GetPlainText(nil)
		return text, true, err
	})
}

// joinPages reads pages 1..n through pageText, which reports whether the page
// exists. Failing pages are skipped; the document fails only when every
// existing page failed.
func joinPages(n int, pageText func(i int) (string, bool, error)) (string, error) {
	var (
		out           strings.Builder
		pages, failed int
		lastErr       error
	)
	for i := 1; i <= n; i++ {
		text, ok, err := pageText(i)
		if !ok {
			continue
		}
		pages++
		if err != nil {
			failed++
			lastErr = fmt.Errorf("page %d: %w", i, err)
			continue
		}
		out.WriteString(text)
	}
	if pages > 0 && failed == pages {
		return "", lastErr
	}
	return out.String(), nil
}
