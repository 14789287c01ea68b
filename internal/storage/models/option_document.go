// Package models defines the database rows used by the storage backends.
package models

import "time"

// OptionDocument is one OptionRecord as stored in postgres.
// The (symbol, record_key) pair is the document identity.
type OptionDocument struct {
	// Symbol is the owning ticker (e.g., "LMT").
	Symbol string `gorm:"column:symbol;primaryKey;size:16"`

	// RecordKey is {SYMBOL}{YYMMDD}{C|P} (e.g., "LMT250815C").
	RecordKey string `gorm:"column:record_key;primaryKey;size:32"`

	// Document is the JSON-encoded strike map.
	Document string `gorm:"column:document;type:text;not null"`

	// Version increments on every write.
	Version int64 `gorm:"column:version;not null;default:0"`

	// UpdatedAt is when the document was last written.
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName pins the gorm table name.
func (OptionDocument) TableName() string { return "option_documents" }

// Symbol is a registered ticker.
type Symbol struct {
	// Ticker is the uppercase symbol.
	Ticker string `gorm:"column:ticker;primaryKey;size:16"`

	// CreatedAt is when the ticker was registered.
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName pins the gorm table name.
func (Symbol) TableName() string { return "symbols" }
