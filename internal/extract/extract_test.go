package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		name  string
		buf   string
		field string
		want  string
		ok    bool
	}{
		{"closed", `{"explanation": "Great for dining"`, "explanation", "Great for dining", true},
		{"no space", `{"explanation":"x"`, "explanation", "x", true},
		{"open string", `{"explanation": "Great for din`, "explanation", "", false},
		{"missing", `{"benefits": ["a"]`, "explanation", "", false},
		{"key only", `{"explanation"`, "explanation", "", false},
		{"colon only", `{"explanation": `, "explanation", "", false},
		{"escaped quote", `{"explanation": "say \"hi\" now"}`, "explanation", `say "hi" now`, true},
		{"escaped backslash", `{"explanation": "a\\b"`, "explanation", `a\b`, true},
		{"newline", `{"explanation": "line1\nline2"`, "explanation", "line1\nline2", true},
		{"unicode", `{"explanation": "caf\u00e9"`, "explanation", "café", true},
		{"surrogate pair", `{"explanation": "\ud83d\ude00 ok"`, "explanation", "😀 ok", true},
		{"split escape", `{"explanation": "abc\`, "explanation", "", false},
		{"split after escaped quote", `{"explanation": "abc\"`, "explanation", "", false},
		{"non string value", `{"explanation": 12, "x": "y"}`, "explanation", "", false},
		{"name inside value", `{"a": "\"explanation\": \"fake\"", "explanation": "real"`, "explanation", "real", true},
		{"value equal to name", `{"a": "explanation", "explanation": "real"`, "explanation", "real", true},
		{"first occurrence", `[{"explanation": "one"}, {"explanation": "two"}`, "explanation", "one", true},
		{"full document", `{"explanation": "a\tb"}`, "explanation", "a\tb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := String(tt.buf, tt.field)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("String() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStringArray(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want []string
		ok   bool
	}{
		{"closed", `"benefits": ["No fee", "Lounge access"], "x": 1`, []string{"No fee", "Lounge access"}, true},
		{"truncated item", `"benefits": ["No fee", "Travel insu`, []string{"No fee"}, true},
		{"truncated after comma", `"benefits": ["No fee", `, []string{"No fee"}, true},
		{"open bracket only", `"benefits": [`, nil, false},
		{"first item open", `"benefits": ["No f`, nil, false},
		{"not yet present", `"explanation": "x"`, nil, false},
		{"key without value", `"benefits": `, nil, false},
		{"empty closed", `"benefits": []`, []string{}, true},
		{"brackets in strings", `"benefits": ["[x]", "a]b"]`, []string{"[x]", "a]b"}, true},
		{"escapes", `"benefits": ["say \"hi\"", "a\nb"]`, []string{`say "hi"`, "a\nb"}, true},
		{"split escape item", `"benefits": ["ok", "bad\`, []string{"ok"}, true},
		{"nested values ignored", `"benefits": ["a", {"k": "v"}, ["b"], "c"]`, []string{"a", "c"}, true},
		{"not an array", `"benefits": "a"`, nil, false},
		{"full document", `{"benefits": ["a", "b"]}`, []string{"a", "b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StringArray(tt.buf, "benefits")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tt.ok, got)
			}
			if tt.ok && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("StringArray() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArraySpan(t *testing.T) {
	buf := `{"ranking": [{"id": "c1", "tags": ["a]"]}, {"id": "c2"}], "analysis": [{"explanation": "x"`

	region, closed, ok := ArraySpan(buf, "ranking")
	if !ok || !closed {
		t.Fatalf("ranking: ok=%v closed=%v", ok, closed)
	}
	if want := `[{"id": "c1", "tags": ["a]"]}, {"id": "c2"}]`; region != want {
		t.Fatalf("ranking region = %q, want %q", region, want)
	}

	region, closed, ok = ArraySpan(buf, "analysis")
	if !ok || closed {
		t.Fatalf("analysis: ok=%v closed=%v", ok, closed)
	}
	if want := `[{"explanation": "x"`; region != want {
		t.Fatalf("analysis region = %q, want %q", region, want)
	}

	if _, _, ok := ArraySpan(buf, "missing"); ok {
		t.Fatal("missing key reported as present")
	}
}

func TestObjects(t *testing.T) {
	region := `[{"a": "}"}, {"b": [1, 2]} , {"c": "open`
	got := Objects(region)
	want := []string{`{"a": "}"}`, `{"b": [1, 2]}`, `{"c": "open`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Objects() = %q, want %q", got, want)
	}

	if got := Objects(`[]`); len(got) != 0 {
		t.Fatalf("Objects([]) = %q", got)
	}
	if got := Objects(`["x", {"a": 1}]`); len(got) != 1 || got[0] != `{"a": 1}` {
		t.Fatalf("mixed array = %q", got)
	}
	if got := Objects(`{"a": 1}`); len(got) != 0 {
		t.Fatalf("non array region = %q", got)
	}
}

func TestExtractionIsIdempotent(t *testing.T) {
	buf := `{"ranking": [], "analysis": [{"explanation": "a", "benefits": ["x", "y`
	first, ok1 := String(buf, "explanation")
	second, ok2 := String(buf, "explanation")
	if first != second || ok1 != ok2 {
		t.Fatalf("String not idempotent: %q/%v vs %q/%v", first, ok1, second, ok2)
	}
	a1, _ := StringArray(buf, "benefits")
	a2, _ := StringArray(buf, "benefits")
	if !reflect.DeepEqual(a1, a2) {
		t.Fatalf("StringArray not idempotent: %q vs %q", a1, a2)
	}
}

func TestGrowingBufferNeverRegresses(t *testing.T) {
	doc := `{"analysis": [{"explanation": "Earns 4x \"points\" at restaurants\n", "benefits": ["No foreign fee", "Trip \\ delay"], "limitations": ["Annual fee"], "estimated_value": "$12"}]}`

	var prevExplanation string
	var prevBenefits []string
	for i := 1; i <= len(doc); i++ {
		buf := doc[:i]
		if v, ok := String(buf, "explanation"); ok {
			if v == "" || len(v) < len(prevExplanation) {
				t.Fatalf("explanation regressed at %d: %q -> %q", i, prevExplanation, v)
			}
			prevExplanation = v
		}
		if v, ok := StringArray(buf, "benefits"); ok {
			if len(v) < len(prevBenefits) {
				t.Fatalf("benefits shrank at %d: %q -> %q", i, prevBenefits, v)
			}
			for j := range prevBenefits {
				if v[j] != prevBenefits[j] {
					t.Fatalf("benefit %d changed at %d: %q -> %q", j, i, prevBenefits[j], v[j])
				}
			}
			prevBenefits = v
		}
	}
	if prevExplanation != "Earns 4x \"points\" at restaurants\n" {
		t.Fatalf("final explanation = %q", prevExplanation)
	}
	if want := []string{"No foreign fee", `Trip \ delay`}; !reflect.DeepEqual(prevBenefits, want) {
		t.Fatalf("final benefits = %q", prevBenefits)
	}
}

func TestSplitEscapeAtEveryBoundary(t *testing.T) {
	value := strings.Repeat(`a\"b\\c\n`, 3)
	doc := `"explanation": "` + value + `"`
	for i := 1; i < len(doc); i++ {
		got, ok := String(doc[:i], "explanation")
		if ok {
			t.Fatalf("open value reported at %d: %q", i, got)
		}
	}
	got, ok := String(doc, "explanation")
	if !ok || got != strings.Repeat("a\"b\\c\n", 3) {
		t.Fatalf("closed value = (%q, %v)", got, ok)
	}
}
