// Package options holds the normalized option-chain model and the helpers
// that turn vendor option codes into storage keys.
package options

import "fmt"

// TimestampLayout is the layout of StrikeQuote.LastUpdate.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultTick is stored when the vendor omits the tick direction.
const DefaultTick = "no_change"

// OptionType is the contract side encoded in storage keys.
type OptionType string

const (
	Call OptionType = "C"
	Put  OptionType = "P"
)

// ParseOptionType accepts "C", "P", "call" and "put" in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch s {
	case "C", "c", "call", "CALL", "Call":
		return Call, nil
	case "P", "p", "put", "PUT", "Put":
		return Put, nil
	}
	return "", fmt.Errorf("invalid option type %q", s)
}

// StrikeQuote is one contract's quote as stored under its strike key.
type StrikeQuote struct {
	LastUpdate     string  `json:"last_update"`
	CBOETimestamp  string  `json:"cboe_timestamp"`
	Date           string  `json:"date"`
	Option         string  `json:"option"`
	Bid            float64 `json:"bid"`
	BidSize        int64   `json:"bid_size"`
	Ask            float64 `json:"ask"`
	AskSize        int64   `json:"ask_size"`
	IV             float64 `json:"iv"`
	OpenInterest   int64   `json:"open_interest"`
	Volume         int64   `json:"volume"`
	Delta          float64 `json:"delta"`
	Gamma          float64 `json:"gamma"`
	Vega           float64 `json:"vega"`
	Theta          float64 `json:"theta"`
	Rho            float64 `json:"rho"`
	Theo           float64 `json:"theo"`
	Change         float64 `json:"change"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Tick           string  `json:"tick"`
	LastTradePrice float64 `json:"last_trade_price"`
	LastTradeTime  *string `json:"last_trade_time"`
	PercentChange  float64 `json:"percent_change"`
	PrevDayClose   float64 `json:"prev_day_close"`
}

// OptionRecord maps strike keys to quotes for one (symbol, expiration, type).
type OptionRecord map[string]StrikeQuote

// FieldNames lists every StrikeQuote field addressable by name.
var FieldNames = []string{
	"last_update", "cboe_timestamp", "date", "option",
	"bid", "bid_size", "ask", "ask_size", "iv", "open_interest", "volume",
	"delta", "gamma", "vega", "theta", "rho", "theo",
	"change", "open", "high", "low", "tick",
	"last_trade_price", "last_trade_time", "percent_change", "prev_day_close",
}

// IsFieldName reports whether name is one of FieldNames.
func IsFieldName(name string) bool {
	for _, f := range FieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// Field returns the value of the named field.
func (q StrikeQuote) Field(name string) (any, bool) {
	switch name {
	case "last_update":
		return q.LastUpdate, true
	case "cboe_timestamp":
		return q.CBOETimestamp, true
	case "date":
		return q.Date, true
	case "option":
		return q.Option, true
	case "bid":
		return q.Bid, true
	case "bid_size":
		return q.BidSize, true
	case "ask":
		return q.Ask, true
	case "ask_size":
		return q.AskSize, true
	case "iv":
		return q.IV, true
	case "open_interest":
		return q.OpenInterest, true
	case "volume":
		return q.Volume, true
	case "delta":
		return q.Delta, true
	case "gamma":
		return q.Gamma, true
	case "vega":
		return q.Vega, true
	case "theta":
		return q.Theta, true
	case "rho":
		return q.Rho, true
	case "theo":
		return q.Theo, true
	case "change":
		return q.Change, true
	case "open":
		return q.Open, true
	case "high":
		return q.High, true
	case "low":
		return q.Low, true
	case "tick":
		return q.Tick, true
	case "last_trade_price":
		return q.LastTradePrice, true
	case "last_trade_time":
		if q.LastTradeTime == nil {
			return nil, true
		}
		return *q.LastTradeTime, true
	case "percent_change":
		return q.PercentChange, true
	case "prev_day_close":
		return q.PrevDayClose, true
	}
	return nil, false
}
