package translation

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	csvDelimiter = '|'
	csvQuote     = '"'
	csvEOL       = "\r\n"
)

var ErrInvalidSheet = errors.New("invalid translation sheet")

// WriteCSV writes the table pipe-delimited with every field quoted and CRLF
// line endings. encoding/csv only quotes when needed, so fields are written here.
func WriteCSV(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	if err := writeRecord(bw, t.Header()); err != nil {
		return fmt.Errorf("translation csv: write header: %w", err)
	}
	for _, row := range t.Rows {
		record := append([]string{row.Key}, row.Values...)
		if err := writeRecord(bw, record); err != nil {
			return fmt.Errorf("translation csv: write %s: %w", row.Key, err)
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(csvDelimiter); err != nil {
				return err
			}
		}
		quoted := string(csvQuote) + strings.ReplaceAll(f, string(csvQuote), `""`) + string(csvQuote)
		if _, err := w.WriteString(quoted); err != nil {
			return err
		}
	}
	_, err := w.WriteString(csvEOL)
	return err
}

// ReadCSV parses a sheet written by WriteCSV. The header names the main
// language and the additional-language columns.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = csvDelimiter
	cr.LazyQuotes = true
	// Import reports rows with the wrong number of cells.
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty sheet", ErrInvalidSheet)
	}
	if err != nil {
		return nil, readError("read header", err)
	}
	if len(header) < 2 || strings.TrimSpace(strings.TrimPrefix(header[0], "\ufeff")) != "key" {
		return nil, fmt.Errorf("%w: header must start with key and the main language", ErrInvalidSheet)
	}

	t := &Table{MainLanguage: strings.TrimSpace(header[1])}
	for _, lang := range header[2:] {
		t.Languages = append(t.Languages, strings.TrimSpace(lang))
	}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readError("read row", err)
		}
		t.Rows = append(t.Rows, Row{Key: record[0], Values: record[1:]})
	}
	return t, nil
}

// readError marks malformed CSV as an invalid sheet. Other reader errors are
// passed through.
func readError(op string, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSheet, op, err)
	}
	return fmt.Errorf("translation csv: %s: %w", op, err)
}
