package usecase

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stock_ingest/internal/feature/bars/domain/entity"
)

// Normalizer maps native adapter rows onto the canonical bar shape.
type Normalizer struct {
	mappings ColumnMappings
}

// NewNormalizer creates a Normalizer over a read-only mapping table.
func NewNormalizer(mappings ColumnMappings) *Normalizer {
	return &Normalizer{mappings: mappings}
}

// Normalize selects the six mapped columns of frame, parses them into bars of
// symbol on market and returns them sorted ascending by date. The sort is
// stable, so equal dates keep upstream order.
func (n *Normalizer) Normalize(frame entity.RawFrame, market entity.Market, symbol string) ([]entity.PriceBar, error) {
	mapping, ok := n.mappings.Lookup(market)
	if !ok {
		return nil, &SchemaError{Market: market, Reason: "no column mapping"}
	}

	idx := make([]int, 0, 6)
	for _, col := range mapping.Columns() {
		i := frame.ColumnIndex(col)
		if i < 0 {
			return nil, &SchemaError{Market: market, Column: col}
		}
		idx = append(idx, i)
	}

	bars := make([]entity.PriceBar, 0, len(frame.Rows))
	for r, row := range frame.Rows {
		cell := func(field int) (string, error) {
			i := idx[field]
			if i >= len(row) {
				return "", fmt.Errorf("%w: row %d has %d cells, want column %d", ErrMalformedRow, r, len(row), i)
			}
			return strings.TrimSpace(row[i]), nil
		}

		bar, err := parseRow(cell)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		bar.Symbol = symbol
		bar.Market = market
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
	return bars, nil
}

func parseRow(cell func(field int) (string, error)) (entity.PriceBar, error) {
	var bar entity.PriceBar

	s, err := cell(0)
	if err != nil {
		return bar, err
	}
	if bar.Date, err = parseDateCell(s); err != nil {
		return bar, err
	}

	prices := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close}
	for i, p := range prices {
		s, err := cell(i + 1)
		if err != nil {
			return bar, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return bar, fmt.Errorf("%w: parse price %q: %v", ErrMalformedRow, s, err)
		}
		*p = v
	}

	if s, err = cell(5); err != nil {
		return bar, err
	}
	if bar.Volume, err = parseVolume(s); err != nil {
		return bar, err
	}
	return bar, nil
}

var dateLayouts = []string{
	entity.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// parseDateCell accepts calendar dates, timestamps and unix milliseconds.
func parseDateCell(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return entity.DateOf(t), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return entity.DateOf(time.UnixMilli(ms).UTC()), nil
	}
	return time.Time{}, fmt.Errorf("%w: parse date %q", ErrMalformedRow, s)
}

// parseVolume accepts integers and float notation ("1.2e6"), truncating fractions.
func parseVolume(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("%w: negative volume %d", ErrMalformedRow, v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: parse volume %q", ErrMalformedRow, s)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: negative volume %q", ErrMalformedRow, s)
	}
	return int64(f), nil
}
