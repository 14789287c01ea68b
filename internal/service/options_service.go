// Package service holds the use cases behind the HTTP API: read queries over
// the option store and the admin operations over the pipeline.
package service

import (
	"context"
	"sort"
	"strings"

	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/storage"
)

// OptionQuery is one read request. Empty fields are not set.
type OptionQuery struct {
	Symbol         string
	Date           string
	Strike         string
	Field          string
	Type           string
	ExcludeBidZero bool
}

type OptionsService struct {
	registry storage.SymbolRegistry
	store    *storage.OptionStore
}

func NewOptionsService(registry storage.SymbolRegistry, store *storage.OptionStore) *OptionsService {
	return &OptionsService{
		registry: registry,
		store:    store,
	}
}

// normalizeSymbol upper-cases a letters-only ticker.
func normalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if !options.ValidTicker(symbol) {
		return "", newError(CodeInvalidSymbol, "Invalid symbol: %s", raw)
	}
	return symbol, nil
}

func (s *OptionsService) requireSymbol(ctx context.Context, raw string) (string, error) {
	symbol, err := normalizeSymbol(raw)
	if err != nil {
		return "", err
	}
	ok, err := s.registry.Exists(ctx, symbol)
	if err != nil {
		return "", internalError(err)
	}
	if !ok {
		return "", newError(CodeStockNotFound, "Stock %s not found", symbol)
	}
	return symbol, nil
}

type validatedQuery struct {
	symbol    string
	date      string
	strikeKey string
	field     string
	types     []options.OptionType
}

func (s *OptionsService) validate(ctx context.Context, q OptionQuery) (validatedQuery, error) {
	v := validatedQuery{
		date:  q.Date,
		field: q.Field,
		types: []options.OptionType{options.Call, options.Put},
	}

	if _, err := normalizeSymbol(q.Symbol); err != nil {
		return v, err
	}
	if q.Date != "" && !options.ValidDate(q.Date) {
		return v, newError(CodeInvalidDate, "Invalid date: %s (expected YYMMDD)", q.Date)
	}
	if q.Strike != "" {
		key, err := options.FormatStrikeKeyString(q.Strike)
		if err != nil {
			return v, newError(CodeInvalidStrike, "Invalid strike price: %s", q.Strike)
		}
		v.strikeKey = key
	}
	if q.Field != "" && !options.IsFieldName(q.Field) {
		return v, newError(CodeInvalidField, "Invalid field: %s", q.Field)
	}
	if q.Type != "" {
		t, err := options.ParseOptionType(q.Type)
		if err != nil {
			return v, newError(CodeInvalidOptionType, "Invalid option type: %s (expected put or call)", q.Type)
		}
		v.types = []options.OptionType{t}
	}

	symbol, err := s.requireSymbol(ctx, q.Symbol)
	if err != nil {
		return v, err
	}
	v.symbol = symbol
	return v, nil
}

// Query answers a read request. The result shape depends on which filters
// are set:
//
//	no date       map[key]OptionRecord for every stored key
//	date          map[key]OptionRecord for that expiration
//	date, strike  the StrikeQuote at that strike, or one field of it
//
// A strike without a date is ignored.
func (s *OptionsService) Query(ctx context.Context, q OptionQuery) (any, error) {
	v, err := s.validate(ctx, q)
	if err != nil {
		return nil, err
	}

	if v.date != "" && v.strikeKey != "" {
		return s.strike(ctx, v, q)
	}

	records, err := s.store.Records(ctx, v.symbol)
	if err != nil {
		return nil, internalError(err)
	}

	selected := make(map[string]options.OptionRecord, len(records))
	for key, rec := range records {
		parsed, err := options.ParseKey(key)
		if err != nil {
			continue
		}
		if v.date != "" && parsed.Date != v.date {
			continue
		}
		if !containsType(v.types, parsed.Type) {
			continue
		}
		selected[key] = rec
	}
	if v.date != "" && len(selected) == 0 {
		return nil, newError(CodeNoOptionsFound, "No options found for date %s", v.date)
	}

	if q.ExcludeBidZero {
		selected = ExcludeBidZero(selected)
	}
	return selected, nil
}

func (s *OptionsService) strike(ctx context.Context, v validatedQuery, q OptionQuery) (any, error) {
	for _, t := range v.types {
		rec, ok, err := s.store.GetOptionRecord(ctx, v.symbol, v.date, t)
		if err != nil {
			return nil, internalError(err)
		}
		if !ok {
			continue
		}
		quote, ok := rec[v.strikeKey]
		if !ok || (q.ExcludeBidZero && quote.Bid == 0) {
			continue
		}

		if v.field == "" {
			return quote, nil
		}
		value, ok := quote.Field(v.field)
		if !ok {
			return nil, newError(CodeFieldNotFound, "Field %s not found in option data", v.field)
		}
		return value, nil
	}
	return nil, newError(CodeOptionNotFound, "Option not found for date %s and strike %s", v.date, q.Strike)
}

func containsType(types []options.OptionType, t options.OptionType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// ExcludeBidZero drops every strike whose bid is exactly 0, and every
// record left empty by that.
func ExcludeBidZero(records map[string]options.OptionRecord) map[string]options.OptionRecord {
	out := make(map[string]options.OptionRecord, len(records))
	for key, rec := range records {
		kept := make(options.OptionRecord, len(rec))
		for strike, q := range rec {
			if q.Bid == 0 {
				continue
			}
			kept[strike] = q
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out
}

// Latest returns the most recently synced quote of symbol.
func (s *OptionsService) Latest(ctx context.Context, raw string) (options.StrikeQuote, error) {
	symbol, err := s.requireSymbol(ctx, raw)
	if err != nil {
		return options.StrikeQuote{}, err
	}
	q, ok, err := s.store.Latest(ctx, symbol)
	if err != nil {
		return options.StrikeQuote{}, internalError(err)
	}
	if !ok {
		return options.StrikeQuote{}, newError(CodeNoOptionsFound, "No options found for %s", symbol)
	}
	return q, nil
}

// Expirations lists the distinct stored expirations of symbol as YYMMDD,
// ascending.
func (s *OptionsService) Expirations(ctx context.Context, raw string) ([]string, error) {
	symbol, err := s.requireSymbol(ctx, raw)
	if err != nil {
		return nil, err
	}
	keys, err := s.store.ListKeys(ctx, symbol)
	if err != nil {
		return nil, internalError(err)
	}

	seen := make(map[string]struct{}, len(keys))
	dates := []string{}
	for _, k := range keys {
		parsed, err := options.ParseKey(k)
		if err != nil {
			continue
		}
		if _, dup := seen[parsed.Date]; dup {
			continue
		}
		seen[parsed.Date] = struct{}{}
		dates = append(dates, parsed.Date)
	}
	sort.Strings(dates)
	return dates, nil
}
