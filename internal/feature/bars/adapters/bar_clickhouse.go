package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// ClickHouseSchema creates the bar table. ReplacingMergeTree collapses rows
// sharing (market, symbol, date) on merge.
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS stock_data (
        symbol     LowCardinality(String),
        market     LowCardinality(String),
        date       Date,
        open       Decimal(20, 6),
        high       Decimal(20, 6),
        low        Decimal(20, 6),
        close      Decimal(20, 6),
        volume     UInt64,
        created_at DateTime DEFAULT now()
    ) ENGINE = ReplacingMergeTree(created_at)
    ORDER BY (market, symbol, date)`,
}

type barClickHouse struct {
	db *sql.DB
}

var _ usecase.BarRepository = (*barClickHouse)(nil)

// NewClickHouseBarRepository returns the ClickHouse-backed bar store.
func NewClickHouseBarRepository(db *sql.DB) *barClickHouse {
	return &barClickHouse{db: db}
}

func (r *barClickHouse) LatestDate(ctx context.Context, symbol string, market entity.Market) (time.Time, bool, error) {
	const q = `SELECT max(date), count() FROM stock_data WHERE symbol = ? AND market = ?`

	var (
		latest time.Time
		n      uint64
	)
	if err := r.db.QueryRowContext(ctx, q, symbol, market.String()).Scan(&latest, &n); err != nil {
		return time.Time{}, false, fmt.Errorf("latest date %s/%s: %w", market, symbol, err)
	}
	if n == 0 {
		return time.Time{}, false, nil
	}
	return entity.DateOf(latest), true, nil
}

// AppendBars writes the bars not yet stored as one insert block.
func (r *barClickHouse) AppendBars(ctx context.Context, bars []entity.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	existing, err := r.existingKeys(ctx, bars)
	if err != nil {
		return 0, err
	}
	fresh := filterNew(bars, existing)
	if len(fresh) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clickhouse begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stock_data (symbol, market, date, open, high, low, close, volume)`)
	if err != nil {
		return 0, fmt.Errorf("clickhouse prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range fresh {
		if _, err := stmt.ExecContext(ctx,
			b.Symbol, b.Market.String(), entity.DateOf(b.Date),
			b.Open, b.High, b.Low, b.Close, uint64(b.Volume),
		); err != nil {
			return 0, fmt.Errorf("clickhouse append %s/%s: %w", b.Market, b.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("clickhouse commit: %w", err)
	}
	return int64(len(fresh)), nil
}

// existingKeys loads the stored keys overlapping the date span of each (symbol, market) in bars.
func (r *barClickHouse) existingKeys(ctx context.Context, bars []entity.PriceBar) (map[entity.BarKey]struct{}, error) {
	const q = `SELECT date FROM stock_data FINAL WHERE symbol = ? AND market = ? AND date >= ? AND date <= ?`

	keys := make(map[entity.BarKey]struct{})
	for part, span := range spans(bars) {
		rows, err := r.db.QueryContext(ctx, q, part.Symbol, part.Market.String(), span.Start, span.End)
		if err != nil {
			return nil, fmt.Errorf("existing dates %s/%s: %w", part.Market, part.Symbol, err)
		}
		for rows.Next() {
			var d time.Time
			if err := rows.Scan(&d); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan date: %w", err)
			}
			keys[entity.BarKey{Symbol: part.Symbol, Market: part.Market, Date: entity.DateOf(d)}] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
	}
	return keys, nil
}

type partition struct {
	Symbol string
	Market entity.Market
}

// spans returns the date range covered by bars per (symbol, market).
func spans(bars []entity.PriceBar) map[partition]entity.DateRange {
	out := make(map[partition]entity.DateRange)
	for _, b := range bars {
		p := partition{Symbol: b.Symbol, Market: b.Market}
		d := entity.DateOf(b.Date)
		r, ok := out[p]
		if !ok {
			out[p] = entity.DateRange{Start: d, End: d}
			continue
		}
		if d.Before(r.Start) {
			r.Start = d
		}
		if d.After(r.End) {
			r.End = d
		}
		out[p] = r
	}
	return out
}

// filterNew drops bars whose key is in existing or repeats an earlier bar of the slice.
func filterNew(bars []entity.PriceBar, existing map[entity.BarKey]struct{}) []entity.PriceBar {
	seen := make(map[entity.BarKey]struct{}, len(bars))
	out := make([]entity.PriceBar, 0, len(bars))
	for _, b := range bars {
		k := b.Key()
		if _, ok := existing[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, b)
	}
	return out
}
