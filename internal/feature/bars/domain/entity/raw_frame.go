package entity

import "sort"

// RawFrame is what a market adapter returns: rows in the market's native
// column layout, cells kept as upstream text. Row order is not meaningful.
type RawFrame struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows.
func (f RawFrame) Len() int {
	return len(f.Rows)
}

// ColumnIndex returns the position of a native column, or -1.
func (f RawFrame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// PresentColumns orders the column names an upstream payload actually carried:
// names of preferred first in that order, then the remaining ones sorted.
// Names absent from present are left out, so a dropped or renamed upstream
// field surfaces as a missing column rather than as blank cells.
func PresentColumns(preferred []string, present map[string]struct{}) []string {
	out := make([]string, 0, len(present))
	seen := make(map[string]struct{}, len(present))
	for _, c := range preferred {
		if _, ok := present[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	var rest []string
	for c := range present {
		if _, ok := seen[c]; !ok {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// ColumnMapping maps the canonical bar fields to a market's native column names.
type ColumnMapping struct {
	Date   string `yaml:"date" validate:"required"`
	Open   string `yaml:"open" validate:"required"`
	High   string `yaml:"high" validate:"required"`
	Low    string `yaml:"low" validate:"required"`
	Close  string `yaml:"close" validate:"required"`
	Volume string `yaml:"volume" validate:"required"`
}

// Columns lists the native names in canonical order: date, open, high, low, close, volume.
func (m ColumnMapping) Columns() []string {
	return []string{m.Date, m.Open, m.High, m.Low, m.Close, m.Volume}
}
