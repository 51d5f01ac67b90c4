package archive

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Row is the archived form of one price bar. Prices keep their exact decimal text.
type Row struct {
	Symbol string `json:"symbol" parquet:"symbol"`
	Market string `json:"market" parquet:"market"`
	Date   string `json:"date" parquet:"date"`
	Open   string `json:"open" parquet:"open"`
	High   string `json:"high" parquet:"high"`
	Low    string `json:"low" parquet:"low"`
	Close  string `json:"close" parquet:"close"`
	Volume int64  `json:"volume" parquet:"volume"`
}

// Saver writes one snapshot file.
type Saver interface {
	Save(rows []Row, path string) error
	Extension() string
}

// NewSaver returns the saver of a format (csv, json, parquet).
func NewSaver(format string) (Saver, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}, nil
	case "json":
		return JSONSaver{}, nil
	case "parquet", "":
		return ParquetSaver{}, nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

// CSVSaver writes a header line followed by one line per bar.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)

	if err := w.Write([]string{"symbol", "market", "date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.Symbol, r.Market, r.Date, r.Open, r.High, r.Low, r.Close,
			strconv.FormatInt(r.Volume, 10),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// JSONSaver writes an indented JSON array.
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return err
	}
	return f.Close()
}

// ParquetSaver writes a parquet file with one column per Row field.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(rows []Row, path string) error {
	return parquet.WriteFile(path, rows)
}
