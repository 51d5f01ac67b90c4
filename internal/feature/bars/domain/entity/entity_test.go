package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Market
		wantErr bool
	}{
		{name: "lowercase id", input: "usa", want: MarketUSA},
		{name: "trims and lowercases", input: "  Germany ", want: MarketGermany},
		{name: "unknown market is still valid", input: "india", want: Market("india")},
		{name: "underscore and digits", input: "hk_2", want: Market("hk_2")},
		{name: "empty", input: "   ", wantErr: true},
		{name: "path separator", input: "../usa", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMarket(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateOf(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	in := time.Date(2024, 3, 1, 1, 30, 0, 0, tokyo)

	got := DateOf(in)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestDateRange(t *testing.T) {
	t.Parallel()

	r := NewDateRange(
		time.Date(2020, 1, 1, 15, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC),
	)

	assert.False(t, r.Empty())
	assert.True(t, r.Contains(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2020, 1, 10, 23, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2020, 1, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2020-01-01..2020-01-10", r.String())

	empty := NewDateRange(r.End.AddDate(0, 0, 1), r.End)
	assert.True(t, empty.Empty())
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2020-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("01/01/2020")
	assert.Error(t, err)
}

func TestRawFrame_ColumnIndex(t *testing.T) {
	t.Parallel()

	f := RawFrame{Columns: []string{"Date", "Open", "Adj Close"}}

	assert.Equal(t, 2, f.ColumnIndex("Adj Close"))
	assert.Equal(t, -1, f.ColumnIndex("Volume"))
	assert.Equal(t, 0, f.Len())
}

func TestPresentColumns(t *testing.T) {
	t.Parallel()

	set := func(names ...string) map[string]struct{} {
		m := make(map[string]struct{}, len(names))
		for _, n := range names {
			m[n] = struct{}{}
		}
		return m
	}
	preferred := []string{"datetime", "open", "high", "low", "close", "volume"}

	tests := []struct {
		name    string
		present map[string]struct{}
		want    []string
	}{
		{"all known", set("volume", "close", "datetime", "low", "open", "high"), preferred},
		{"dropped field is left out", set("datetime", "open", "high", "low", "close"), preferred[:5]},
		{"unknown fields follow sorted", set("datetime", "vol", "close", "adj"), []string{"datetime", "close", "adj", "vol"}},
		{"nothing present", set(), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PresentColumns(preferred, tt.present))
		})
	}
}
