// Package extract pulls named fields out of a JSON document that is still
// being generated. Every function works on the whole accumulated buffer and
// keeps no state between calls. A field that is not there yet is reported
// with ok == false, never as an error.
package extract

import (
	"encoding/json"
	"strings"
)

// String returns the value of the first `"name": "..."` pair in buf whose
// string is closed. A full decode of buf is preferred when buf is already a
// valid JSON object carrying name at the top level.
func String(buf, name string) (string, bool) {
	if top, ok := decodeTop(buf); ok {
		if raw, found := top[name]; found {
			var v string
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, true
			}
		}
	}
	i, ok := findValue(buf, name)
	if !ok || i >= len(buf) || buf[i] != '"' {
		return "", false
	}
	end, closed := skipString(buf, i)
	if !closed {
		return "", false
	}
	return unquote(buf[i:end])
}

// StringArray returns the string items of the first `"name": [...]` array in
// buf. When the array is not closed yet the complete items seen so far are
// returned; a trailing item cut mid-string is left out.
func StringArray(buf, name string) ([]string, bool) {
	if top, ok := decodeTop(buf); ok {
		if raw, found := top[name]; found {
			var v []string
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, true
			}
		}
	}
	region, closed, ok := ArraySpan(buf, name)
	if !ok {
		return nil, false
	}
	items := stringItems(region)
	if len(items) == 0 && !closed {
		return nil, false
	}
	return items, true
}

// ArraySpan returns the bracketed region of the first `"name": [` array in
// buf, from the opening bracket up to and including the matching closing
// bracket when closed is true, or to the end of buf otherwise.
func ArraySpan(buf, name string) (region string, closed bool, ok bool) {
	i, found := findValue(buf, name)
	if !found || i >= len(buf) || buf[i] != '[' {
		return "", false, false
	}
	end, closed := bracketSpan(buf, i)
	return buf[i:end], closed, true
}

// Objects splits an array region into its top-level object elements. The
// last element may be unterminated when the region is.
func Objects(region string) []string {
	var objs []string
	if region == "" || region[0] != '[' {
		return objs
	}
	for i := 1; i < len(region); i++ {
		switch region[i] {
		case '{':
			end, closed := braceSpan(region, i)
			objs = append(objs, region[i:end])
			if !closed {
				return objs
			}
			i = end - 1
		case '"':
			end, closed := skipString(region, i)
			if !closed {
				return objs
			}
			i = end - 1
		case '[':
			end, closed := bracketSpan(region, i)
			if !closed {
				return objs
			}
			i = end - 1
		case ']':
			return objs
		}
	}
	return objs
}

func decodeTop(buf string) (map[string]json.RawMessage, bool) {
	trimmed := strings.TrimSpace(buf)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return nil, false
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &top); err != nil {
		return nil, false
	}
	return top, true
}
