package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// NativeColumns are the yfinance-style headers the chart rows are rendered with.
var NativeColumns = entity.ColumnMapping{
	Date:   "Date",
	Open:   "Open",
	High:   "High",
	Low:    "Low",
	Close:  "Close",
	Volume: "Volume",
}


// YahooMarket fetches daily bars from the chart endpoint.
type YahooMarket struct {
	cfg    Config
	client *http.Client
}

var _ usecase.MarketAdapter = (*YahooMarket)(nil)

// NewYahooMarket constructs a YahooMarket.
func NewYahooMarket(cfg Config, client *http.Client) *YahooMarket {
	return &YahooMarket{cfg: cfg, client: client}
}

// Fetch returns one row per trading day in [start, end]. Dates are taken in
// the exchange's local time. Rows with a missing price are dropped.
// Only indicators present in the payload become columns.
func (y *YahooMarket) Fetch(ctx context.Context, symbol string, _ entity.Market, start, end time.Time) (entity.RawFrame, error) {
	var frame entity.RawFrame

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(entity.DateOf(start).Unix(), 10))
	// period2 is exclusive
	q.Set("period2", strconv.FormatInt(entity.DateOf(end).AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "history")
	q.Set("includeAdjustedClose", "true")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", strings.TrimRight(y.cfg.BaseURL, "/"), url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return frame, err
	}
	if y.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", y.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	res, err := y.client.Do(req)
	if err != nil {
		return frame, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	var body chartResponse
	decErr := json.NewDecoder(io.LimitReader(res.Body, 32<<20)).Decode(&body)

	if res.StatusCode >= 400 {
		// Unknown and delisted symbols answer 404 with a chart error.
		if res.StatusCode == http.StatusNotFound && decErr == nil && body.Chart.Error != nil {
			slog.Debug("yahoo chart has no data", "symbol", symbol, "description", body.Chart.Error.Description)
			return frame, nil
		}
		return frame, fmt.Errorf("yahoo http %d", res.StatusCode)
	}
	if decErr != nil {
		return frame, fmt.Errorf("yahoo decode: %w", decErr)
	}
	if e := body.Chart.Error; e != nil {
		return frame, fmt.Errorf("yahoo: %s: %s", e.Code, e.Description)
	}
	if len(body.Chart.Result) == 0 {
		return frame, nil
	}

	frame, err = toFrame(body.Chart.Result[0])
	if err != nil {
		return frame, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	return frame, nil
}

var errShortSeries = errors.New("indicator series shorter than timestamps")

type indicator struct {
	column string
	values []*float64
	price  bool
}

func toFrame(r chartResult) (entity.RawFrame, error) {
	n := len(r.Timestamp)
	if n == 0 {
		return entity.RawFrame{}, nil
	}
	var quote quoteSeries
	if len(r.Indicators.Quote) > 0 {
		quote = r.Indicators.Quote[0]
	}
	var adj []*float64
	if len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	all := []indicator{
		{column: "Open", values: quote.Open, price: true},
		{column: "High", values: quote.High, price: true},
		{column: "Low", values: quote.Low, price: true},
		{column: "Close", values: quote.Close, price: true},
		{column: "Adj Close", values: adj},
		{column: "Volume", values: quote.Volume},
	}
	columns := []string{"Date"}
	present := make([]indicator, 0, len(all))
	for _, ind := range all {
		if ind.values == nil {
			continue
		}
		if len(ind.values) < n {
			return entity.RawFrame{}, fmt.Errorf("%w: %s", errShortSeries, ind.column)
		}
		columns = append(columns, ind.column)
		present = append(present, ind)
	}

	loc := time.FixedZone(r.Meta.ExchangeTimezoneName, r.Meta.GMTOffset)
	frame := entity.RawFrame{Columns: columns, Rows: make([][]string, 0, n)}
rows:
	for i, ts := range r.Timestamp {
		row := make([]string, 0, len(columns))
		row = append(row, time.Unix(ts, 0).In(loc).Format(entity.DateLayout))
		for _, ind := range present {
			v := ind.values[i]
			switch {
			case v != nil && ind.column == "Volume":
				row = append(row, strconv.FormatInt(int64(*v), 10))
			case v != nil:
				row = append(row, formatFloat(*v))
			case ind.price:
				continue rows
			case ind.column == "Volume":
				row = append(row, "0")
			case ind.column == "Adj Close" && quote.Close != nil && quote.Close[i] != nil:
				row = append(row, formatFloat(*quote.Close[i]))
			default:
				row = append(row, "")
			}
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
