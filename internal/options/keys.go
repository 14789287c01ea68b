package options

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the expiration layout embedded in keys and option codes.
const DateLayout = "060102"

// StrikeKeyWidth is the fixed length of a strike key.
const StrikeKeyWidth = 8

var (
	keyPattern    = regexp.MustCompile(`^([A-Z]+)(\d{6})([CP])$`)
	tickerPattern = regexp.MustCompile(`^[A-Z]+$`)
	datePattern   = regexp.MustCompile(`^\d{6}$`)
	strikePattern = regexp.MustCompile(`^\d{8}$`)

	hundred        = decimal.NewFromInt(100)
	maxStrikeUnits = decimal.NewFromInt(99999999)
)

// Key identifies one OptionRecord: {TICKER}{YYMMDD}{C|P}.
type Key struct {
	Ticker string
	Date   string
	Type   OptionType
}

func (k Key) String() string {
	return BuildKey(k.Ticker, k.Date, k.Type)
}

// Expiration parses the key date as midnight in loc.
func (k Key) Expiration(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, k.Date, loc)
}

// BuildKey joins the key components without validating them.
func BuildKey(ticker, date string, t OptionType) string {
	return ticker + date + string(t)
}

// ParseKey splits a storage key into its components.
func ParseKey(key string) (Key, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return Key{}, fmt.Errorf("invalid option key %q", key)
	}
	return Key{Ticker: m[1], Date: m[2], Type: OptionType(m[3])}, nil
}

// ValidTicker reports whether s is an uppercase ticker.
func ValidTicker(s string) bool { return tickerPattern.MatchString(s) }

// ValidDate reports whether s is a 6-digit YYMMDD string.
func ValidDate(s string) bool { return datePattern.MatchString(s) }

// FormatStrikeKey is the only strike formatter: price x 100, truncated,
// left-padded with zeros to 8 digits.
func FormatStrikeKey(price decimal.Decimal) (string, error) {
	if !price.IsPositive() {
		return "", fmt.Errorf("strike must be positive, got %s", price)
	}
	units := price.Mul(hundred).Truncate(0)
	if units.IsZero() {
		return "", fmt.Errorf("strike %s is below one cent", price)
	}
	if units.GreaterThan(maxStrikeUnits) {
		return "", fmt.Errorf("strike %s does not fit in %d digits", price, StrikeKeyWidth)
	}
	return fmt.Sprintf("%0*d", StrikeKeyWidth, units.IntPart()), nil
}

// FormatStrikeKeyString formats a decimal string such as "110.5".
func FormatStrikeKeyString(s string) (string, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("invalid strike %q: %w", s, err)
	}
	return FormatStrikeKey(d)
}

// FormatStrikeKeyFloat formats p using its shortest decimal representation,
// so 0.29 becomes "00000029" rather than "00000028".
func FormatStrikeKeyFloat(p float64) (string, error) {
	return FormatStrikeKey(decimal.NewFromFloat(p))
}

// ParseStrikeKey converts an 8-digit strike key back to a price.
func ParseStrikeKey(key string) (float64, error) {
	if !strikePattern.MatchString(key) {
		return 0, fmt.Errorf("invalid strike key %q", key)
	}
	d, err := decimal.NewFromString(key)
	if err != nil {
		return 0, err
	}
	f, _ := d.Div(hundred).Float64()
	return f, nil
}

// normalizeStrikeDigits left-pads vendor strike digits to the key width.
func normalizeStrikeDigits(digits string) (string, error) {
	if len(digits) > StrikeKeyWidth {
		return "", fmt.Errorf("strike digits %q exceed %d characters", digits, StrikeKeyWidth)
	}
	return strings.Repeat("0", StrikeKeyWidth-len(digits)) + digits, nil
}
