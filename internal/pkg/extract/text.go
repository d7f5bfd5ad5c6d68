package extract

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"
)

func extractTXT(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// extractCSV joins the fields of each row with a single space and ends every
// row with a newline.
func extractCSV(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}

	reader := csv.NewReader(strings.NewReader(string(b)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var out strings.Builder
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		out.WriteString(strings.Join(row, " "))
		out.WriteByte('\n')
	}
	return out.String(), nil
}
