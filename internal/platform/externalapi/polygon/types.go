package polygon

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Aggregate is one bar of the /v2/aggs response, kept as raw fields so that
// fields the payload omits stay distinguishable from zero values.
type Aggregate map[string]json.RawMessage

// integerFields are rendered without a fraction; volume may arrive in scientific notation.
var integerFields = map[string]bool{"t": true, "v": true, "n": true}

// Cell renders field as text: integers for t, v and n, shortest decimals for
// other numbers, strings unquoted. A missing field renders as "".
func (a Aggregate) Cell(field string) string {
	raw, ok := a[field]
	if !ok {
		return ""
	}
	if integerFields[field] {
		var i FlexibleInt64
		if err := json.Unmarshal(raw, &i); err == nil {
			return strconv.FormatInt(i.Int64(), 10)
		}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return formatFloat(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// AggregatesResponse is Polygon API response with next_url
type AggregatesResponse struct {
	Ticker       string      `json:"ticker"`
	QueryCount   int         `json:"queryCount"`
	ResultsCount int         `json:"resultsCount"`
	Adjusted     bool        `json:"adjusted"`
	Results      []Aggregate `json:"results"`
	Status       string      `json:"status"`
	RequestID    string      `json:"request_id"`
	Count        int         `json:"count"`
	NextURL      string      `json:"next_url,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// FlexibleInt64 parses int or float (scientific notation) to int64
type FlexibleInt64 int64

// UnmarshalJSON parses int, float or a quoted number.
func (f *FlexibleInt64) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*f = FlexibleInt64(int64(val))
		return nil
	}

	var floatVal float64
	if err := json.Unmarshal(data, &floatVal); err == nil {
		*f = FlexibleInt64(int64(floatVal))
		return nil
	}

	return fmt.Errorf("cannot parse as int64: %s", string(data))
}

// Int64 returns int64 value
func (f FlexibleInt64) Int64() int64 {
	return int64(f)
}
