package cboe

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
)

// ChainResponse is the CBOE delayed-quotes document. Data stays raw so a
// malformed options array is reported by Validate rather than by decoding.
type ChainResponse struct {
	Timestamp *string         `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Data      json.RawMessage `json:"data"`
}

type chainData struct {
	Options json.RawMessage `json:"options"`
}

// Options returns the raw option entries.
func (r *ChainResponse) Options() ([]json.RawMessage, error) {
	if r == nil || len(r.Data) == 0 || bytes.Equal(bytes.TrimSpace(r.Data), []byte("null")) {
		return nil, &ValidationError{Reason: "missing data"}
	}

	var data chainData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, &ValidationError{Reason: "data is not an object"}
	}

	raw := bytes.TrimSpace(data.Options)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, &ValidationError{Reason: "data.options is not an array"}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	return entries, nil
}

// Validate reports whether data.options is an array.
func (r *ChainResponse) Validate() bool {
	_, err := r.Options()
	return err == nil
}

// SnapshotTime returns the vendor timestamp.
func (r *ChainResponse) SnapshotTime() (string, bool) {
	if r == nil || r.Timestamp == nil {
		return "", false
	}
	return *r.Timestamp, true
}

var expirationPattern = regexp.MustCompile(`^[A-Z]+(\d{6})[CP]\d+$`)

// ExpirationDates lists the distinct YYMMDD expirations found in the
// option codes, ascending. Entries that do not parse are skipped.
func (r *ChainResponse) ExpirationDates() []string {
	entries, err := r.Options()
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	for _, raw := range entries {
		var entry struct {
			Option string `json:"option"`
		}
		if json.Unmarshal(raw, &entry) != nil {
			continue
		}
		if m := expirationPattern.FindStringSubmatch(entry.Option); m != nil {
			seen[m[1]] = struct{}{}
		}
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
