package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
	"stock_ingest/internal/shared/ratelimiter"
)

// NativeColumns names the aggregate fields as Polygon abbreviates them.
var NativeColumns = entity.ColumnMapping{
	Date:   "t",
	Open:   "o",
	High:   "h",
	Low:    "l",
	Close:  "c",
	Volume: "v",
}

var nativeHeader = []string{"t", "o", "h", "l", "c", "v", "vw", "n"}

// Max 50k results per request
const maxLimit = 50000

// PolygonMarket fetches daily aggregates and follows next_url pagination.
type PolygonMarket struct {
	cfg     Config
	client  *http.Client
	limiter ratelimiter.Limiter
}

var _ usecase.MarketAdapter = (*PolygonMarket)(nil)

// NewPolygonMarket constructs a PolygonMarket. limiter may be nil.
func NewPolygonMarket(cfg Config, client *http.Client, limiter ratelimiter.Limiter) *PolygonMarket {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	return &PolygonMarket{cfg: cfg, client: client, limiter: limiter}
}

// Fetch returns the daily aggregates of ticker in [start, end]. Columns are the
// fields the aggregates actually carried.
// A DELAYED status (data not yet published for the plan) on the first page is
// reported as empty; on a later page it ends pagination with the rows gathered so far.
func (p *PolygonMarket) Fetch(ctx context.Context, ticker string, _ entity.Market, start, end time.Time) (entity.RawFrame, error) {
	var aggs []Aggregate

	next := p.firstPageURL(ticker, start, end)
	for page := 0; next != ""; page++ {
		if page >= p.cfg.MaxPages {
			return entity.RawFrame{}, fmt.Errorf("polygon %s: more than %d pages", ticker, p.cfg.MaxPages)
		}

		resp, err := p.get(ctx, next)
		if err != nil {
			return entity.RawFrame{}, fmt.Errorf("polygon %s: %w", ticker, err)
		}
		switch resp.Status {
		case "OK":
		case "DELAYED":
			slog.Debug("polygon data delayed", "ticker", ticker, "page", page,
				"from", start.Format(entity.DateLayout), "to", end.Format(entity.DateLayout))
			return toFrame(aggs), nil
		default:
			return entity.RawFrame{}, fmt.Errorf("polygon %s: API status %s: %s", ticker, resp.Status, resp.Error)
		}

		aggs = append(aggs, resp.Results...)
		next = p.withKey(resp.NextURL)
	}
	return toFrame(aggs), nil
}

func toFrame(aggs []Aggregate) entity.RawFrame {
	present := make(map[string]struct{}, len(nativeHeader))
	for _, a := range aggs {
		for k := range a {
			present[k] = struct{}{}
		}
	}
	frame := entity.RawFrame{Columns: entity.PresentColumns(nativeHeader, present)}
	frame.Rows = make([][]string, 0, len(aggs))
	for _, a := range aggs {
		row := make([]string, len(frame.Columns))
		for i, c := range frame.Columns {
			row[i] = a.Cell(c)
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame
}

func (p *PolygonMarket) firstPageURL(ticker string, from, to time.Time) string {
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s",
		strings.TrimRight(p.cfg.BaseURL, "/"),
		url.PathEscape(ticker),
		from.Format(entity.DateLayout),
		to.Format(entity.DateLayout),
	)
	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", fmt.Sprint(maxLimit))
	q.Set("apiKey", p.cfg.APIKey)
	return u + "?" + q.Encode()
}

// withKey appends the API key to a next_url, which Polygon returns without it.
func (p *PolygonMarket) withKey(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return next
	}
	q := u.Query()
	q.Set("apiKey", p.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *PolygonMarket) get(ctx context.Context, rawURL string) (*AggregatesResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("API rate limit (429): %s", string(body))
		}
		return nil, fmt.Errorf("API status %d: %s", resp.StatusCode, string(body))
	}

	var result AggregatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return &result, nil
}
