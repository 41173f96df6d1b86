package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// RawTable is a header row plus string cells as delivered by a station
// export. Rows may be shorter than Columns; missing cells read as empty.
type RawTable struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of a column, or -1.
func (t RawTable) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has reports whether the table has the named column.
func (t RawTable) Has(col string) bool { return t.Index(col) >= 0 }

// Cell returns the trimmed cell at row i, column idx.
func (t RawTable) Cell(i, idx int) string {
	if idx < 0 || idx >= len(t.Rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[i][idx])
}

// ReadCSVTable parses a delimited export into a RawTable. The delimiter is
// sniffed from the header line (comma, semicolon or tab).
func ReadCSVTable(r io.Reader) (RawTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return RawTable{}, fmt.Errorf("read table: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = sniffDelimiter(text)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return RawTable{}, fmt.Errorf("parse table: %w", err)
	}
	if len(records) == 0 {
		return RawTable{}, errors.New("parse table: no header row")
	}

	cols := make([]string, len(records[0]))
	for i, c := range records[0] {
		cols[i] = strings.TrimSpace(c)
	}
	return RawTable{Columns: cols, Rows: records[1:]}, nil
}

func sniffDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")
	best, bestCount := ',', strings.Count(header, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// ParseNumeric converts a raw cell into a float. Unparseable cells and
// missing-value sentinels return NaN.
func ParseNumeric(cell string) float64 {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "na", "nan", "null", "none", "-":
		return math.NaN()
	}
	if strings.Contains(cell, ".") {
		// "1,234.5": commas group thousands.
		cell = strings.ReplaceAll(cell, ",", "")
	} else {
		cell = strings.Replace(cell, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	if v == -9999 || v == -999 {
		return math.NaN()
	}
	return v
}
