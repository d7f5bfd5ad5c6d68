// Package extract turns uploaded documents into plain text.
//
// Every extractor reports failure through Result.Err instead of returning an
// empty string, so callers can tell an empty document from a broken one.
package extract

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidUTF8     = errors.New("text is not valid utf-8")
	ErrMalformed       = errors.New("malformed document")
)

type Result struct {
	Filename string
	Format   Format
	Text     string
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Empty reports a successful extraction that produced no visible text.
func (r Result) Empty() bool {
	return r.Err == nil && strings.TrimSpace(r.Text) == ""
}

type extractor func(r io.Reader) (string, error)

var extractors = map[Format]extractor{
	FormatPDF:  extractPDF,
	FormatTXT:  extractTXT,
	FormatCSV:  extractCSV,
	FormatXLSX: extractXLSX,
	FormatXLS:  extractXLS,
}

// FormatOf maps a filename to its format by extension, case-insensitively.
func FormatOf(filename string) (Format, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	f := Format(ext)
	_, ok := extractors[f]
	return f, ok
}

func Supported(filename string) bool {
	_, ok := FormatOf(filename)
	return ok
}

// UnsupportedError wraps ErrUnsupportedType with the offending filename.
func UnsupportedError(filename string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
}

// Extract dispatches on the filename extension. Parser panics are converted
// into ErrMalformed so one bad upload cannot take the request down.
func Extract(filename string, r io.Reader) (res Result) {
	res.Filename = filename
	format, ok := FormatOf(filename)
	if !ok {
		res.Err = UnsupportedError(filename)
		return res
	}
	res.Format = format

	defer func() {
		if p := recover(); p != nil {
			res.Text = ""
			res.Err = fmt.Errorf("%w: %s: %v", ErrMalformed, filename, p)
		}
	}()

	text, err := extractors[format](r)
	if err != nil {
		res.Err = fmt.Errorf("extract %s failed: %w", filename, err)
		return res
	}
	res.Text = text
	return res
}
