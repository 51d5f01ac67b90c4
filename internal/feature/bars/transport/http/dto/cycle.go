// Package dto defines data transfer objects for the bars HTTP API.
package dto

import (
	"stock_ingest/internal/feature/bars/usecase"
)

// CycleRequest holds the optional window of a manual cycle run.
// Both dates use the YYYY-MM-DD layout.
type CycleRequest struct {
	Start string `form:"start" binding:"omitempty,datetime=2006-01-02"`
	End   string `form:"end" binding:"omitempty,datetime=2006-01-02"`
}

// OutcomeItem is one symbol's result in a cycle response.
type OutcomeItem struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Range  string `json:"range,omitempty"`
	Bars   int64  `json:"bars"`
	Error  string `json:"error,omitempty"`
}

// CycleResponse is the JSON form of a cycle summary.
type CycleResponse struct {
	Market      string        `json:"market"`
	Window      string        `json:"window"`
	StartedAt   string        `json:"started_at"`
	DurationMS  int64         `json:"duration_ms"`
	Persisted   int           `json:"persisted"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	BarsWritten int64         `json:"bars_written"`
	Outcomes    []OutcomeItem `json:"outcomes"`
}

// NewCycleResponse converts a summary into its response form.
func NewCycleResponse(s usecase.CycleSummary) CycleResponse {
	out := CycleResponse{
		Market:      s.Market.String(),
		Window:      s.Window,
		StartedAt:   s.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		DurationMS:  s.Duration.Milliseconds(),
		Persisted:   s.Persisted,
		Skipped:     s.Skipped,
		Failed:      s.Failed,
		BarsWritten: s.BarsWritten,
		Outcomes:    make([]OutcomeItem, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		item := OutcomeItem{
			Symbol: o.Symbol,
			Status: string(o.Status),
			Reason: o.Reason,
			Range:  o.Range,
			Bars:   o.Bars,
		}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, item)
	}
	return out
}
