package usecase

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"stock_ingest/internal/feature/bars/domain/entity"
)

// ColumnMappings is the read-only per-market mapping table, built once at start.
type ColumnMappings map[entity.Market]entity.ColumnMapping

// Lookup returns the mapping of a market.
func (m ColumnMappings) Lookup(market entity.Market) (entity.ColumnMapping, bool) {
	cm, ok := m[market]
	return cm, ok
}

// mappingFile is the on-disk override format:
//
//	markets:
//	  usa:
//	    date: Date
//	    volume: Volume
//
// Columns left out fall back to yfinance-style names.
type mappingFile struct {
	Markets map[string]*mappingEntry `yaml:"markets"`
}

type mappingEntry struct {
	Date   string `yaml:"date" default:"Date" validate:"required"`
	Open   string `yaml:"open" default:"Open" validate:"required"`
	High   string `yaml:"high" default:"High" validate:"required"`
	Low    string `yaml:"low" default:"Low" validate:"required"`
	Close  string `yaml:"close" default:"Close" validate:"required"`
	Volume string `yaml:"volume" default:"Volume" validate:"required"`
}

var validate = validator.New()

// LoadColumnMappings starts from base and applies the overrides found in the YAML file at path.
// An empty path returns a copy of base.
func LoadColumnMappings(path string, base ColumnMappings) (ColumnMappings, error) {
	out := make(ColumnMappings, len(base))
	for k, v := range base {
		out[k] = v
	}
	if path == "" {
		return out, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read column mapping: %w", err)
	}
	overrides, err := parseColumnMappings(b)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out, nil
}

func parseColumnMappings(b []byte) (ColumnMappings, error) {
	var f mappingFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse column mapping: %w", err)
	}

	out := make(ColumnMappings, len(f.Markets))
	for name, e := range f.Markets {
		market, err := entity.ParseMarket(name)
		if err != nil {
			return nil, fmt.Errorf("column mapping: %w", err)
		}
		if e == nil {
			e = &mappingEntry{}
		}
		if err := defaults.Set(e); err != nil {
			return nil, fmt.Errorf("column mapping %s: %w", market, err)
		}
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("column mapping %s: %w", market, err)
		}
		out[market] = entity.ColumnMapping{
			Date:   e.Date,
			Open:   e.Open,
			High:   e.High,
			Low:    e.Low,
			Close:  e.Close,
			Volume: e.Volume,
		}
	}
	return out, nil
}
