// Package archive keeps file snapshots of appended bars.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// Archiver writes each appended batch to <dir>/<market>/<symbol>/<from>_<to>.<ext>.
type Archiver struct {
	dir   string
	saver Saver
}

var _ usecase.BarArchiver = (*Archiver)(nil)

func NewArchiver(dir string, saver Saver) *Archiver {
	return &Archiver{dir: dir, saver: saver}
}

// Archive writes bars through a temporary file so readers never see a partial snapshot.
func (a *Archiver) Archive(ctx context.Context, symbol string, market entity.Market, bars []entity.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rows := make([]Row, 0, len(bars))
	from, to := bars[0].Date, bars[0].Date
	for _, b := range bars {
		rows = append(rows, Row{
			Symbol: b.Symbol,
			Market: b.Market.String(),
			Date:   b.Date.Format(entity.DateLayout),
			Open:   b.Open.String(),
			High:   b.High.String(),
			Low:    b.Low.String(),
			Close:  b.Close.String(),
			Volume: b.Volume,
		})
		if b.Date.Before(from) {
			from = b.Date
		}
		if b.Date.After(to) {
			to = b.Date
		}
	}

	dir := filepath.Join(a.dir, safeName(market.String()), safeName(symbol))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.%s", from.Format(entity.DateLayout), to.Format(entity.DateLayout), a.saver.Extension())
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := a.saver.Save(rows, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("archive %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return nil
}

// safeName keeps a path element inside its parent directory.
func safeName(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	s = r.Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
