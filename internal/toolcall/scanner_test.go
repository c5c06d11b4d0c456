package toolcall

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNoMarkersNoDetections(t *testing.T) {
	texts := []string{
		"",
		"plain prose",
		"code: func main() { fmt.Println(\"{}\") }",
		`{"tool": "not quite"}`,
		`{"name":"calc_add","arguments":{"a":1}}`,
		"unbalanced {{{ braces }",
		`"tool_cal" "toolcall" tool_call without quotes`,
	}

	rng := rand.New(rand.NewSource(7))
	alphabet := []byte("ab {}\"\\:,\n\t[]tool_c")
	for i := 0; i < 200; i++ {
		n := rng.Intn(80)
		b := make([]byte, n)
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		texts = append(texts, string(b))
	}

	for _, text := range texts {
		if HasMarker(text) {
			continue
		}
		if got := DetectFinal(text); len(got) != 0 {
			t.Errorf("DetectFinal(%q) = %v, want none", text, got)
		}
		if got := Filter(text); got != text {
			t.Errorf("Filter(%q) = %q, want identity", text, got)
		}
	}
}

func TestNativeWithNestedBracesAtAnyOffset(t *testing.T) {
	args := map[string]any{
		"code":  "func f() { if x { return \"}\" } }",
		"regex": `\{[a-z]+\}`,
		"note":  "quote \" and brace { inside",
	}
	obj := map[string]any{
		"tool_call": map[string]any{
			"name":      "shell__run",
			"arguments": args,
		},
	}
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}
	payload := string(data)

	prose := "Here is some prose with {braces} and \"quotes\" before the call. "
	for offset := 0; offset <= len(prose); offset += 7 {
		text := prose[:offset] + payload + prose[offset:]
		dets := Detect(text)
		if len(dets) != 1 {
			t.Fatalf("offset %d: got %d detections", offset, len(dets))
		}
		d := dets[0]
		if text[d.Start:d.End] != payload {
			t.Fatalf("offset %d: span %q != payload", offset, text[d.Start:d.End])
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text[d.Start:d.End]), &parsed); err != nil {
			t.Fatalf("offset %d: span does not parse: %v", offset, err)
		}
		if diff := cmp.Diff(obj, parsed); diff != "" {
			t.Fatalf("offset %d: parsed mismatch (-want +got):\n%s", offset, diff)
		}
		if d.Name != "shell__run" || d.Dialect != DialectNative || d.Recovered {
			t.Fatalf("offset %d: unexpected detection %+v", offset, d)
		}
	}
}

func TestDetectIgnoresIncompleteMidStream(t *testing.T) {
	partial := `Sure. {"tool_call":{"name":"calc_add","arguments":{"a":2,`
	if got := Detect(partial); len(got) != 0 {
		t.Fatalf("expected no detections in partial text, got %v", got)
	}
	if got := DetectFinal(partial); len(got) != 0 {
		t.Fatalf("final scan should reject deeply truncated text, got %v", got)
	}
}

func TestRecoveryMissingOneBrace(t *testing.T) {
	text := `ok {"tool_call":{"name":"calc_add","arguments":{"a":2,"b":2}}`

	if got := Detect(text); len(got) != 0 {
		t.Fatalf("strict scan must not recover, got %v", got)
	}

	dets := DetectFinal(text)
	if len(dets) != 1 {
		t.Fatalf("expected one recovered detection, got %d", len(dets))
	}
	d := dets[0]
	if !d.Recovered {
		t.Error("expected Recovered")
	}
	if d.Name != "calc_add" {
		t.Errorf("name = %q", d.Name)
	}
	if d.Raw != text[3:] {
		t.Errorf("raw = %q", d.Raw)
	}
	if d.Canonical != d.Raw+"}" {
		t.Errorf("canonical = %q", d.Canonical)
	}
	if !json.Valid([]byte(d.Canonical)) {
		t.Errorf("canonical not valid json: %q", d.Canonical)
	}
}

func TestRecoveryRejectsTwoMissingBraces(t *testing.T) {
	text := `{"tool_call":{"name":"calc_add","arguments":{"a":2,"b":2}`
	if got := DetectFinal(text); len(got) != 0 {
		t.Fatalf("expected rejection, got %v", got)
	}
}

func TestRecoveryRequiresName(t *testing.T) {
	text := `{"tool_call":{"arguments":{"a":2}}`
	if got := DetectFinal(text); len(got) != 0 {
		t.Fatalf("expected rejection without name, got %v", got)
	}
}

func TestAlternateDialectCanonicalized(t *testing.T) {
	text := `calling {"tool_calls":[{"function":{"name":"calc_add","arguments":"{\"a\": 2, \"b\": 3}"}},{"function":{"name":"calc_sub","arguments":"{}"}}]} now`

	dets := DetectFinal(text)
	if len(dets) != 1 {
		t.Fatalf("expected one detection, got %d", len(dets))
	}
	d := dets[0]
	if d.Dialect != DialectAlternate {
		t.Errorf("dialect = %s", d.Dialect)
	}
	if d.Dropped != 1 {
		t.Errorf("dropped = %d", d.Dropped)
	}
	if string(d.Arguments) != `{"a":2,"b":3}` {
		t.Errorf("arguments = %s", d.Arguments)
	}
	want := `{"tool_call":{"name":"calc_add","arguments":{"a":2,"b":3}}}`
	if d.Canonical != want {
		t.Errorf("canonical = %s, want %s", d.Canonical, want)
	}
	if !strings.HasPrefix(d.ID, "call_") {
		t.Errorf("expected generated id, got %q", d.ID)
	}
}

func TestNativeIDPreserved(t *testing.T) {
	dets := Detect(`{"tool_call":{"name":"x_y","arguments":{},"id":"abc"}}`)
	if len(dets) != 1 || dets[0].ID != "abc" {
		t.Fatalf("unexpected detections %+v", dets)
	}
}

func TestMultipleCallsInOrder(t *testing.T) {
	text := `a {"tool_call":{"name":"one_a","arguments":{}}} b {"tool_call":{"name":"two_b","arguments":{"s":"}"}}} c`
	dets := Detect(text)
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].Name != "one_a" || dets[1].Name != "two_b" {
		t.Fatalf("wrong order: %s, %s", dets[0].Name, dets[1].Name)
	}
	if dets[0].End > dets[1].Start {
		t.Fatal("spans overlap")
	}
}

func TestInvalidCandidateSkipped(t *testing.T) {
	text := `{"tool_call": "not an object"} then {"tool_call":{"name":"ok_x"}}`
	dets := Detect(text)
	if len(dets) != 1 || dets[0].Name != "ok_x" {
		t.Fatalf("unexpected detections %+v", dets)
	}
	if string(dets[0].Arguments) != "{}" {
		t.Errorf("missing arguments should default to {}, got %s", dets[0].Arguments)
	}
}

func TestMarkerAfterOtherKeys(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		tool    string
		args    string
		dialect Dialect
	}{
		{
			name:    "alternate after role",
			payload: `{"role":"assistant","tool_calls":[{"function":{"name":"calc_add","arguments":"{\"a\":1}"}}]}`,
			tool:    "calc_add",
			args:    `{"a":1}`,
			dialect: DialectAlternate,
		},
		{
			name:    "native after type",
			payload: `{"type":"function","tool_call":{"name":"x_y","arguments":{}}}`,
			tool:    "x_y",
			args:    `{}`,
			dialect: DialectNative,
		},
		{
			name:    "native with whitespace",
			payload: "{\n  \"id\": \"c1\",\n  \"tool_call\": {\"name\": \"x_y\"}\n}",
			tool:    "x_y",
			args:    `{}`,
			dialect: DialectNative,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "Let me check. " + tt.payload + " Done."
			dets := Detect(text)
			if len(dets) != 1 {
				t.Fatalf("got %d detections, want 1", len(dets))
			}
			d := dets[0]
			if d.Raw != tt.payload {
				t.Errorf("raw = %q, want %q", d.Raw, tt.payload)
			}
			if d.Name != tt.tool {
				t.Errorf("name = %q, want %q", d.Name, tt.tool)
			}
			if string(d.Arguments) != tt.args {
				t.Errorf("arguments = %s, want %s", d.Arguments, tt.args)
			}
			if d.Dialect != tt.dialect {
				t.Errorf("dialect = %s, want %s", d.Dialect, tt.dialect)
			}
			if got := Filter(text); got != "Let me check. Done." {
				t.Errorf("Filter = %q", got)
			}
		})
	}
}

func TestMarkerAsValueIsNotACall(t *testing.T) {
	text := `The field {"kind": "tool_call", "n": 1} is metadata.`
	if got := Detect(text); len(got) != 0 {
		t.Fatalf("expected no detections, got %+v", got)
	}
}

func TestSplitQualifiedName(t *testing.T) {
	tests := []struct {
		in           string
		server, tool string
	}{
		{"calc_add", "calc", "add"},
		{"calc__add_numbers", "calc", "add_numbers"},
		{"fs__read_file", "fs", "read_file"},
		{"plain", "", "plain"},
		{"_leading", "", "_leading"},
	}
	for _, tt := range tests {
		s, tool := SplitQualifiedName(tt.in)
		if s != tt.server || tool != tt.tool {
			t.Errorf("SplitQualifiedName(%q) = %q, %q; want %q, %q", tt.in, s, tool, tt.server, tt.tool)
		}
	}
}
