package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/options"
)

// OptionStore is the option-aware layer over a Backend. It owns key
// construction and the nested strike map; it never retries.
type OptionStore struct {
	backend Backend
	logger  *logrus.Logger
}

// NewOptionStore wraps backend.
func NewOptionStore(backend Backend, logger *logrus.Logger) *OptionStore {
	return &OptionStore{backend: backend, logger: logger}
}

func recordKey(symbol, date string, typ options.OptionType) (string, error) {
	if !options.ValidTicker(symbol) || !options.ValidDate(date) || (typ != options.Call && typ != options.Put) {
		return "", fmt.Errorf("%w: %s/%s/%s", ErrInvalidKey, symbol, date, typ)
	}
	return options.BuildKey(symbol, date, typ), nil
}

func validStrikeKey(strikeKey string) bool {
	_, err := options.ParseStrikeKey(strikeKey)
	return err == nil
}

// UpsertStrike sets record[strikeKey] = quote, creating the record if needed.
// The whole record is read and written back as one unit.
func (s *OptionStore) UpsertStrike(ctx context.Context, symbol, date string, typ options.OptionType, strikeKey string, quote options.StrikeQuote) error {
	key, err := recordKey(symbol, date, typ)
	if err != nil {
		return err
	}
	if !validStrikeKey(strikeKey) {
		return fmt.Errorf("%w: strike %q", ErrInvalidKey, strikeKey)
	}

	err = s.backend.Update(ctx, symbol, key, func(current options.OptionRecord) (options.OptionRecord, error) {
		if current == nil {
			current = make(options.OptionRecord, 1)
		}
		current[strikeKey] = quote
		return current, nil
	})
	if err != nil {
		return &StorageError{Op: "upsert", Symbol: symbol, Key: key, Err: err}
	}
	return nil
}

// GetOptionRecord returns the record for (symbol, date, type).
func (s *OptionStore) GetOptionRecord(ctx context.Context, symbol, date string, typ options.OptionType) (options.OptionRecord, bool, error) {
	key, err := recordKey(symbol, date, typ)
	if err != nil {
		return nil, false, err
	}
	return s.getByKey(ctx, symbol, key)
}

func (s *OptionStore) getByKey(ctx context.Context, symbol, key string) (options.OptionRecord, bool, error) {
	rec, err := s.backend.Get(ctx, symbol, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "get", Symbol: symbol, Key: key, Err: err}
	}
	return rec, true, nil
}

// DeleteStrike removes one strike. A record left empty is deleted entirely.
func (s *OptionStore) DeleteStrike(ctx context.Context, symbol, date string, typ options.OptionType, strikeKey string) (bool, error) {
	key, err := recordKey(symbol, date, typ)
	if err != nil {
		return false, err
	}
	n, err := s.DeleteStrikesIf(ctx, symbol, key, func(sk string, _ options.StrikeQuote) bool {
		return sk == strikeKey
	})
	return n > 0, err
}

// DeleteStrikesIf removes every strike of one record for which match
// returns true. match sees the stored quote inside the atomic update, so a
// strike rewritten since the caller last read it is judged on its new value.
func (s *OptionStore) DeleteStrikesIf(ctx context.Context, symbol, key string, match func(strikeKey string, q options.StrikeQuote) bool) (int, error) {
	deleted := 0
	err := s.backend.Update(ctx, symbol, key, func(current options.OptionRecord) (options.OptionRecord, error) {
		deleted = 0
		for sk, q := range current {
			if match(sk, q) {
				delete(current, sk)
				deleted++
			}
		}
		if deleted == 0 {
			return nil, errNoChange
		}
		return current, nil
	})
	if errors.Is(err, errNoChange) {
		return 0, nil
	}
	if err != nil {
		return 0, &StorageError{Op: "delete", Symbol: symbol, Key: key, Err: err}
	}
	return deleted, nil
}

// DeleteRecord removes a whole record key.
func (s *OptionStore) DeleteRecord(ctx context.Context, symbol, key string) (bool, error) {
	ok, err := s.backend.Delete(ctx, symbol, key)
	if err != nil {
		return false, &StorageError{Op: "delete", Symbol: symbol, Key: key, Err: err}
	}
	return ok, nil
}

// ListKeys returns the sorted record keys belonging to symbol. Keys whose
// embedded ticker differs from symbol are ignored.
func (s *OptionStore) ListKeys(ctx context.Context, symbol string) ([]string, error) {
	keys, err := s.backend.Keys(ctx, symbol)
	if err != nil {
		return nil, &StorageError{Op: "keys", Symbol: symbol, Err: err}
	}

	out := keys[:0]
	for _, k := range keys {
		parsed, err := options.ParseKey(k)
		if err != nil || parsed.Ticker != symbol {
			s.logger.Debugf("Skipping foreign key %s under %s", k, symbol)
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Records loads every record of symbol keyed by record key.
func (s *OptionStore) Records(ctx context.Context, symbol string) (map[string]options.OptionRecord, error) {
	keys, err := s.ListKeys(ctx, symbol)
	if err != nil {
		return nil, err
	}

	out := make(map[string]options.OptionRecord, len(keys))
	for _, k := range keys {
		rec, ok, err := s.getByKey(ctx, symbol, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = rec
		}
	}
	return out, nil
}

// Latest returns the quote with the greatest last_update.
// It is a linear scan: O(total strikes) for the symbol.
func (s *OptionStore) Latest(ctx context.Context, symbol string) (options.StrikeQuote, bool, error) {
	records, err := s.Records(ctx, symbol)
	if err != nil {
		return options.StrikeQuote{}, false, err
	}

	var (
		best     options.StrikeQuote
		bestTime time.Time
		found    bool
	)
	for _, rec := range records {
		for _, q := range rec {
			ts, err := time.Parse(options.TimestampLayout, q.LastUpdate)
			if err != nil {
				continue
			}
			if !found || ts.After(bestTime) {
				best, bestTime, found = q, ts, true
			}
		}
	}
	return best, found, nil
}

// CountStrikes returns the number of stored strikes for symbol.
func (s *OptionStore) CountStrikes(ctx context.Context, symbol string) (int, error) {
	records, err := s.Records(ctx, symbol)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		n += len(rec)
	}
	return n, nil
}

// Ping checks the backend.
func (s *OptionStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
