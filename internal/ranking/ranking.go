// Package ranking detects the moment the "ranking" array of a streamed
// recommendation document is complete and turns it into placeholder entries.
package ranking

import (
	"encoding/json"
	"strconv"
	"strings"

	"cardrec/internal/extract"
)

const Key = "ranking"

// Entry is one ranked card. Only ID, DisplayName and IssuerName are required.
type Entry struct {
	ID           string
	DisplayName  string
	IssuerName   string
	Value        *float64
	RewardType   string
	RewardAmount *float64
	Category     string
}

// Accepted spellings per field. The first key present wins; the snake_case
// forms are what the backend prompt asks the model to produce.
var (
	idKeys           = []string{"id", "card_id"}
	displayNameKeys  = []string{"displayName", "card_name"}
	issuerNameKeys   = []string{"issuerName", "issuer"}
	valueKeys        = []string{"value"}
	rewardTypeKeys   = []string{"rewardType", "reward_type"}
	rewardAmountKeys = []string{"rewardAmount", "reward_amount"}
	categoryKeys     = []string{"category"}
)

// Extract succeeds only once the ranking array is syntactically closed, no
// matter how much of the surrounding document is still open. Elements
// missing a required field are dropped; zero usable elements is reported as
// not available.
func Extract(buf string) ([]Entry, bool) {
	region, closed, ok := extract.ArraySpan(buf, Key)
	if !ok || !closed {
		return nil, false
	}

	var elems []string
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(region), &raw); err == nil {
		for _, r := range raw {
			elems = append(elems, string(r))
		}
	} else {
		elems = extract.Objects(region)
	}

	entries := make([]Entry, 0, len(elems))
	for _, elem := range elems {
		if e, ok := parseEntry(elem); ok {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

func parseEntry(elem string) (Entry, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(elem), &fields); err != nil {
		fields = nil
	}
	lookup := func(keys []string) (any, bool) {
		for _, k := range keys {
			if v, ok := fields[k]; ok && v != nil {
				return v, true
			}
			if fields == nil {
				if s, ok := extract.String(elem, k); ok {
					return s, true
				}
			}
		}
		return nil, false
	}
	text := func(keys []string) string {
		v, ok := lookup(keys)
		if !ok {
			return ""
		}
		return asString(v)
	}
	number := func(keys []string) *float64 {
		v, ok := lookup(keys)
		if !ok {
			return nil
		}
		return asNumber(v)
	}

	e := Entry{
		ID:           text(idKeys),
		DisplayName:  text(displayNameKeys),
		IssuerName:   text(issuerNameKeys),
		Value:        number(valueKeys),
		RewardType:   text(rewardTypeKeys),
		RewardAmount: number(rewardAmountKeys),
		Category:     text(categoryKeys),
	}
	if e.ID == "" || e.DisplayName == "" || e.IssuerName == "" {
		return Entry{}, false
	}
	return e, true
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%")), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// Latch runs Extract until it succeeds once and never again afterwards.
// It is not safe for concurrent use; the aggregator owns it.
type Latch struct {
	fired bool
}

// Try returns the entries the first time buf yields a complete ranking.
// Every later call reports false without looking at buf.
func (l *Latch) Try(buf string) ([]Entry, bool) {
	if l.fired {
		return nil, false
	}
	entries, ok := Extract(buf)
	if !ok {
		return nil, false
	}
	l.fired = true
	return entries, true
}

func (l *Latch) Fired() bool {
	return l.fired
}
