// Package entity defines the domain models for the symbollist feature.
package entity

import "time"

// Symbol は取り込み対象となる銘柄です。
// (Market, Code) の組で一意になり、SortKey 順に取り込まれます。
type Symbol struct {
	ID        uint      `gorm:"primaryKey"`
	Code      string    `gorm:"size:32;not null;uniqueIndex:symbol_market_code,priority:2"`
	Name      string    `gorm:"size:255;not null;default:''"`
	Market    string    `gorm:"size:16;not null;uniqueIndex:symbol_market_code,priority:1"`
	IsActive  bool      `gorm:"not null;default:true"`
	SortKey   int       `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
