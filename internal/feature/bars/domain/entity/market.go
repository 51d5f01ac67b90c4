package entity

import (
	"fmt"
	"strings"
)

// Market identifies an upstream data domain (a country or asset class) with its own native schema.
type Market string

const (
	MarketUSA     Market = "usa"
	MarketGermany Market = "germany"
	MarketCrypto  Market = "crypto"
	MarketJapan   Market = "japan"
)

func (m Market) String() string {
	return string(m)
}

// ParseMarket normalizes a market identifier. Any lowercase id made of
// letters, digits, '-' and '_' is accepted; markets without an adapter are
// still valid identifiers.
func ParseMarket(s string) (Market, error) {
	id := strings.ToLower(strings.TrimSpace(s))
	if id == "" {
		return "", fmt.Errorf("market id is empty")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("invalid market id %q", s)
		}
	}
	return Market(id), nil
}
