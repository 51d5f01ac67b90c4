package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
	"stock_ingest/internal/platform/externalapi/twelvedata/dto"
	"stock_ingest/internal/shared/ratelimiter"
)

// NativeColumns は time_series レスポンスを RawFrame に展開したときの列名です。
var NativeColumns = entity.ColumnMapping{
	Date:   "datetime",
	Open:   "open",
	High:   "high",
	Low:    "low",
	Close:  "close",
	Volume: "volume",
}

// maxOutputSize は time_series が1リクエストで返す最大件数です。
const maxOutputSize = 5000

// TwelveDataMarket はTwelve Data外部APIから日足データを取得するMarketAdapter実装です。
type TwelveDataMarket struct {
	cfg     Config
	client  *http.Client
	limiter ratelimiter.Limiter
}

// TwelveDataMarketがMarketAdapterを実装していることをコンパイル時に検証します。
var _ usecase.MarketAdapter = (*TwelveDataMarket)(nil)

// NewTwelveDataMarket は指定された設定とHTTPクライアントでTwelveDataMarketの新しいインスタンスを生成します。
// limiter が nil の場合はレート制限を行いません。
func NewTwelveDataMarket(cfg Config, client *http.Client, limiter ratelimiter.Limiter) *TwelveDataMarket {
	return &TwelveDataMarket{cfg: cfg, client: client, limiter: limiter}
}

// Fetch は [start, end] の日足を Twelve Data から取得し、ネイティブ列のまま返します。
// 期間内にデータがない場合は空の RawFrame を返します。
func (t *TwelveDataMarket) Fetch(ctx context.Context, symbol string, _ entity.Market, start, end time.Time) (entity.RawFrame, error) {
	var frame entity.RawFrame

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return frame, err
		}
	}

	q := url.Values{}
	// クエリパラメータを追加 (end_date は排他的なので1日進める)
	q.Set("symbol", symbol)
	q.Set("interval", "1day")
	q.Set("start_date", start.Format(entity.DateLayout))
	q.Set("end_date", end.AddDate(0, 0, 1).Format(entity.DateLayout))
	q.Set("order", "ASC")
	q.Set("outputsize", fmt.Sprint(maxOutputSize))
	q.Set("apikey", t.cfg.APIKey)

	// URLを生成
	u := fmt.Sprintf("%s/time_series?%s", strings.TrimRight(t.cfg.BaseURL, "/"), q.Encode())

	// リクエストオブジェクトを作成
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return frame, err
	}

	// リクエストを実行
	res, err := t.client.Do(req)
	if err != nil {
		return frame, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return frame, fmt.Errorf("twelvedata http %d", res.StatusCode)
	}

	// JSONレスポンスをDTOにデコード
	var body dto.TimeSeriesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return frame, fmt.Errorf("twelvedata decode: %w", err)
	}
	if body.Status == "error" {
		// 期間内にデータがない場合はエラーではなく空として扱う
		if isNoData(body.Message) {
			return frame, nil
		}
		return frame, fmt.Errorf("twelvedata: %s", body.Message)
	}

	return toFrame(body.Values), nil
}

// toFrame はレスポンスに実際に含まれていたフィールドを列として RawFrame を組み立てます。
// 一部の行にだけ欠けているフィールドは空セルになります。
func toFrame(values []map[string]string) entity.RawFrame {
	present := make(map[string]struct{}, len(NativeColumns.Columns()))
	for _, v := range values {
		for k := range v {
			present[k] = struct{}{}
		}
	}
	frame := entity.RawFrame{Columns: entity.PresentColumns(NativeColumns.Columns(), present)}
	frame.Rows = make([][]string, 0, len(values))
	for _, v := range values {
		row := make([]string, len(frame.Columns))
		for i, c := range frame.Columns {
			row[i] = v[c]
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame
}

func isNoData(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "no data is available")
}
