package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/storage/models"
)

// PostgresBackend stores one row per option record. Update locks the row
// with SELECT ... FOR UPDATE so concurrent upserts of different strikes
// under the same key serialize instead of overwriting each other.
type PostgresBackend struct {
	db *gorm.DB
}

// NewPostgresBackend wraps an open gorm connection.
func NewPostgresBackend(db *gorm.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Get(ctx context.Context, symbol, key string) (options.OptionRecord, error) {
	var row models.OptionDocument
	err := b.db.WithContext(ctx).
		Where("symbol = ? AND record_key = ?", symbol, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.Version == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord([]byte(row.Document))
}

func (b *PostgresBackend) Keys(ctx context.Context, symbol string) ([]string, error) {
	var keys []string
	err := b.db.WithContext(ctx).
		Model(&models.OptionDocument{}).
		Where("symbol = ? AND version > 0", symbol).
		Order("record_key ASC").
		Pluck("record_key", &keys).Error
	return keys, err
}

func (b *PostgresBackend) Update(ctx context.Context, symbol, key string, fn UpdateFunc) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockDocument(tx, symbol, key)
		if err != nil {
			return err
		}

		var current options.OptionRecord
		if row.Version > 0 {
			if current, err = decodeRecord([]byte(row.Document)); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		where := tx.Where("symbol = ? AND record_key = ?", symbol, key)
		if len(next) == 0 {
			return where.Delete(&models.OptionDocument{}).Error
		}

		doc, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return where.Model(&models.OptionDocument{}).Updates(map[string]any{
			"document":   string(doc),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

// lockDocument returns the row locked for update, inserting an empty
// placeholder (version 0) first when the key does not exist yet. The insert
// is rolled back with the transaction if the caller aborts.
func lockDocument(tx *gorm.DB, symbol, key string) (models.OptionDocument, error) {
	var row models.OptionDocument
	locked := func() error {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("symbol = ? AND record_key = ?", symbol, key).
			Take(&row).Error
	}

	err := locked()
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return row, err
	}

	placeholder := models.OptionDocument{
		Symbol:    symbol,
		RecordKey: key,
		Document:  "{}",
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error; err != nil {
		return row, err
	}
	return row, locked()
}

func (b *PostgresBackend) Delete(ctx context.Context, symbol, key string) (bool, error) {
	res := b.db.WithContext(ctx).
		Where("symbol = ? AND record_key = ? AND version > 0", symbol, key).
		Delete(&models.OptionDocument{})
	return res.RowsAffected > 0, res.Error
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PostgresRegistry keeps registered tickers in the symbols table.
type PostgresRegistry struct {
	db *gorm.DB
}

// NewPostgresRegistry wraps an open gorm connection.
func NewPostgresRegistry(db *gorm.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) Register(ctx context.Context, ticker string) error {
	if !options.ValidTicker(ticker) {
		return ErrInvalidKey
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Symbol{Ticker: ticker, CreatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSymbolExists
	}
	return nil
}

func (r *PostgresRegistry) Exists(ctx context.Context, ticker string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Symbol{}).Where("ticker = ?", ticker).Count(&n).Error
	return n > 0, err
}

func (r *PostgresRegistry) List(ctx context.Context) ([]string, error) {
	var tickers []string
	err := r.db.WithContext(ctx).Model(&models.Symbol{}).Order("ticker ASC").Pluck("ticker", &tickers).Error
	return tickers, err
}
