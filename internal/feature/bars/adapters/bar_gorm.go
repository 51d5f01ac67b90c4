package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// ErrDuplicateBar is returned when the store rejects a bar whose key already exists.
var ErrDuplicateBar = errors.New("duplicate bar")

const defaultBatchSize = 500

type barGorm struct {
	db        *gorm.DB
	batchSize int
}

var _ usecase.BarRepository = (*barGorm)(nil)

// NewBarRepository returns the gorm-backed bar store. batchSize <= 0 uses the default.
func NewBarRepository(db *gorm.DB, batchSize int) *barGorm {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &barGorm{db: db, batchSize: batchSize}
}

type BarModel struct {
	ID     uint      `gorm:"primaryKey"`
	Symbol string    `gorm:"size:32;not null;uniqueIndex:stock_data_sym_mkt_date,priority:1"`
	Market string    `gorm:"size:16;not null;uniqueIndex:stock_data_sym_mkt_date,priority:2"`
	Date   time.Time `gorm:"type:date;not null;uniqueIndex:stock_data_sym_mkt_date,priority:3"`

	Open   decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	High   decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Low    decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Close  decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Volume int64           `gorm:"not null;default:0"`

	CreatedAt time.Time
}

func (BarModel) TableName() string {
	return "stock_data"
}

func toModel(b entity.PriceBar) BarModel {
	return BarModel{
		Symbol: b.Symbol,
		Market: b.Market.String(),
		Date:   entity.DateOf(b.Date),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

// LatestDate returns the most recent stored date of (symbol, market).
func (r *barGorm) LatestDate(ctx context.Context, symbol string, market entity.Market) (time.Time, bool, error) {
	var m BarModel
	res := r.db.WithContext(ctx).
		Select("date").
		Where("symbol = ? AND market = ?", symbol, market.String()).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Limit(1).
		Find(&m)
	if res.Error != nil {
		return time.Time{}, false, fmt.Errorf("latest date %s/%s: %w", market, symbol, translateError(res.Error))
	}
	if res.RowsAffected == 0 {
		return time.Time{}, false, nil
	}
	return entity.DateOf(m.Date), true, nil
}

// AppendBars inserts bars in one transaction. Rows whose (symbol, market, date)
// already exist are left untouched. A failing batch rolls back every batch of the call.
func (r *barGorm) AppendBars(ctx context.Context, bars []entity.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ms := make([]BarModel, 0, len(bars))
	for _, b := range bars {
		ms = append(ms, toModel(b))
	}

	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "market"}, {Name: "date"}},
			DoNothing: true,
		}).CreateInBatches(&ms, r.batchSize)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append %d bars: %w", len(bars), translateError(err))
	}
	return inserted, nil
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateBar, pgErr.ConstraintName)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateBar
	}
	return err
}
