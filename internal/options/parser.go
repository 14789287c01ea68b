package options

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var codePattern = regexp.MustCompile(`^([A-Z]+)(\d{6})([CP])(\d+)$`)

// RecordParseError rejects one vendor option entry.
type RecordParseError struct {
	Option string
	Reason string
}

func (e *RecordParseError) Error() string {
	if e.Option == "" {
		return "invalid option entry: " + e.Reason
	}
	return fmt.Sprintf("invalid option %s: %s", e.Option, e.Reason)
}

// ParsedOption is a vendor entry resolved to its storage coordinates.
type ParsedOption struct {
	Ticker    string
	Date      string
	Type      OptionType
	StrikeKey string
	Quote     StrikeQuote
}

// Key returns the OptionRecord key the quote belongs to.
func (p ParsedOption) Key() string {
	return BuildKey(p.Ticker, p.Date, p.Type)
}

// Parser turns raw CBOE option entries into ParsedOptions.
type Parser struct {
	now func() time.Time
}

// NewParser returns a parser stamping last_update with now. Nil means time.Now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

// Parse decodes one entry. The vendor option code is authoritative for the
// ticker, expiration, type and strike. The entry must also carry its
// expiration date; every other field is optional.
func (p *Parser) Parse(raw json.RawMessage, snapshot string) (ParsedOption, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ParsedOption{}, &RecordParseError{Reason: "entry is not a JSON object"}
	}

	code, ok := stringField(fields, "option")
	if !ok || code == "" {
		return ParsedOption{}, &RecordParseError{Reason: "missing option code"}
	}

	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return ParsedOption{}, &RecordParseError{Option: code, Reason: "code does not match TICKER+YYMMDD+C|P+STRIKE"}
	}
	strikeKey, err := normalizeStrikeDigits(m[4])
	if err != nil {
		return ParsedOption{}, &RecordParseError{Option: code, Reason: err.Error()}
	}

	date, ok := stringField(fields, "expiration", "date")
	if !ok || date == "" {
		return ParsedOption{}, &RecordParseError{Option: code, Reason: "missing expiration date"}
	}

	tick, ok := stringField(fields, "tick")
	if !ok || tick == "" {
		tick = DefaultTick
	}

	var lastTradeTime *string
	if v, ok := stringField(fields, "lastTradeTime", "last_trade_time"); ok && v != "" {
		lastTradeTime = &v
	}

	quote := StrikeQuote{
		LastUpdate:     p.now().Format(TimestampLayout),
		CBOETimestamp:  snapshot,
		Date:           date,
		Option:         code,
		Bid:            floatField(fields, "bid"),
		BidSize:        intField(fields, "bidSize", "bid_size"),
		Ask:            floatField(fields, "ask"),
		AskSize:        intField(fields, "askSize", "ask_size"),
		IV:             floatField(fields, "iv"),
		OpenInterest:   intField(fields, "openInterest", "open_interest"),
		Volume:         intField(fields, "volume"),
		Delta:          floatField(fields, "delta"),
		Gamma:          floatField(fields, "gamma"),
		Vega:           floatField(fields, "vega"),
		Theta:          floatField(fields, "theta"),
		Rho:            floatField(fields, "rho"),
		Theo:           floatField(fields, "theo"),
		Change:         floatField(fields, "change"),
		Open:           floatField(fields, "open"),
		High:           floatField(fields, "high"),
		Low:            floatField(fields, "low"),
		Tick:           tick,
		LastTradePrice: floatField(fields, "lastTradePrice", "last_trade_price"),
		LastTradeTime:  lastTradeTime,
		PercentChange:  floatField(fields, "percentChange", "percent_change"),
		PrevDayClose:   floatField(fields, "prevDayClose", "prev_day_close"),
	}

	return ParsedOption{
		Ticker:    m[1],
		Date:      m[2],
		Type:      OptionType(m[3]),
		StrikeKey: strikeKey,
		Quote:     quote,
	}, nil
}

// lookup returns the first non-null value among names.
func lookup(fields map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		v, ok := fields[name]
		if ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]json.RawMessage, names ...string) (string, bool) {
	v, ok := lookup(fields, names...)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	// numbers and booleans keep their literal text
	if v[0] != '{' && v[0] != '[' {
		return string(v), true
	}
	return "", false
}

// floatField accepts JSON numbers and numeric strings; anything else is 0.
func floatField(fields map[string]json.RawMessage, names ...string) float64 {
	v, ok := lookup(fields, names...)
	if !ok {
		return 0
	}
	text := string(v)
	if v[0] == '"' {
		if err := json.Unmarshal(v, &text); err != nil {
			return 0
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func intField(fields map[string]json.RawMessage, names ...string) int64 {
	return int64(floatField(fields, names...))
}
