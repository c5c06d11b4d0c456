package conversation

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAnswerCoalescesText(t *testing.T) {
	var a Answer
	a.AppendText("Hel")
	a.AppendText("lo")
	a.AppendToolCall(`{"tool_call":{"name":"x"}}`, "call_1")
	a.AppendText("after")
	a.AppendText(" tool")

	want := Answer{
		Text("Hello"),
		ToolCall(`{"tool_call":{"name":"x"}}`, "call_1"),
		Text("after tool"),
	}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Fatalf("answer mismatch (-want +got):\n%s", diff)
	}
}

func TestAnswerToolComponentsNeverMerge(t *testing.T) {
	var a Answer
	a.AppendToolCall("a", "1")
	a.AppendToolCall("b", "2")
	a.AppendToolResult("r1", "1")
	a.AppendToolResult("r2", "2")
	if len(a) != 4 {
		t.Fatalf("expected 4 components, got %d", len(a))
	}
}

func TestRecordToolCallCutsStreamedPayload(t *testing.T) {
	raw := `{"tool_call":{"name":"calc_add","arguments":{"a":2,"b":2}}}`

	tests := []struct {
		name    string
		streams string
		want    Answer
	}{
		{
			name:    "payload only",
			streams: raw,
			want:    Answer{ToolCall(raw, "call_1")},
		},
		{
			name:    "payload after prose",
			streams: "Let me add those.\n\n" + raw,
			want:    Answer{Text("Let me add those."), ToolCall(raw, "call_1")},
		},
		{
			name:    "payload not streamed",
			streams: "nothing here",
			want:    Answer{Text("nothing here"), ToolCall(raw, "call_1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Answer
			a.AppendText(tt.streams)
			a.RecordToolCall(raw, raw, "call_1")
			if diff := cmp.Diff(tt.want, a); diff != "" {
				t.Errorf("answer mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTextOnlyFoldIsIdempotent(t *testing.T) {
	a := Answer{
		Text("intro "),
		ToolCall(`{"tool_call":{"name":"x","arguments":{}}}`, "c1"),
		ToolResult("42", "c1"),
		Text("the answer is 42"),
	}
	once := a.TextOnly()
	twice := Answer{Text(once)}.TextOnly()
	if once != twice {
		t.Fatalf("fold not idempotent: %q vs %q", once, twice)
	}
	if once != "intro the answer is 42" {
		t.Fatalf("unexpected fold %q", once)
	}
}

func TestFullTextIncludesToolBlocks(t *testing.T) {
	a := Answer{
		Text("checking"),
		ToolCall(`{"tool_call":{"name":"x"}}`, "c1"),
		ToolResult("ok", "c1"),
		Text("done"),
	}
	got := a.FullText()
	for _, want := range []string{"checking\n", `{"tool_call":{"name":"x"}}`, "```\nok\n```\n", "done"} {
		if !strings.Contains(got, want) {
			t.Errorf("FullText missing %q in %q", want, got)
		}
	}
}

func TestBeginRejectsConcurrentTurns(t *testing.T) {
	s := New()
	idx, err := s.Begin("first")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := s.Begin("second"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	s.Finish(idx)
	if _, err := s.Begin("second"); err != nil {
		t.Fatalf("Begin after Finish: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 pairs, got %d", s.Len())
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := New()
	idx, _ := s.Begin("q")
	_ = s.AppendText(idx, "partial")

	snap := s.Snapshot()
	_ = s.AppendText(idx, " more")

	if got := snap.Answer(idx).TextOnly(); got != "partial" {
		t.Fatalf("snapshot changed: %q", got)
	}
	if _, ok := snap.StreamingIndex(); !ok {
		t.Fatal("snapshot lost streaming index")
	}
}

func TestAppendOutOfRange(t *testing.T) {
	s := New()
	if err := s.AppendText(0, "x"); err == nil {
		t.Fatal("expected error for empty state")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := New()
	i0, _ := s.Begin("what is 2+2")
	_ = s.AppendText(i0, "4")
	s.Finish(i0)

	i1, _ := s.Begin("add them with the tool")
	_ = s.AppendText(i1, "Sure.\n")
	_ = s.Apply(i1, ToolCall(`{"tool_call":{"name":"calc_add","arguments":{"a":2,"b":2}}}`, "call_abc"))
	_ = s.Apply(i1, ToolResult("4", "call_abc"))
	_ = s.AppendText(i1, "The sum is 4 with \"quotes\" and unicode ✅")

	data, err := Serialize(s)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !Equal(s, got) {
		t.Fatalf("round trip mismatch:\n%s", data)
	}

	again, err := Serialize(got)
	if err != nil {
		t.Fatalf("Serialize again: %v", err)
	}
	if string(again) != string(data) {
		t.Fatalf("serialized form not stable:\n%s\n%s", data, again)
	}
}

func TestSerializedShape(t *testing.T) {
	s := New()
	idx, _ := s.Begin("q")
	_ = s.AppendText(idx, "a")
	s.Finish(idx)

	data, err := Serialize(s)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	want := `{"questions":["q"],"answers":[[{"type":"text","content":"a"}]],"streaming_index":null}`
	if string(data) != want {
		t.Fatalf("got %s\nwant %s", data, want)
	}
}

func TestDeserializeRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"mismatched lengths": `{"questions":["a","b"],"answers":[[]],"streaming_index":null}`,
		"bad index":          `{"questions":["a"],"answers":[[]],"streaming_index":3}`,
		"unknown type":       `{"questions":["a"],"answers":[[{"type":"image","content":"x"}]],"streaming_index":null}`,
		"tool call no id":    `{"questions":["a"],"answers":[[{"type":"tool_call","content":"x"}]],"streaming_index":null}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Deserialize([]byte(data)); err == nil {
				t.Fatalf("expected error for %s", data)
			}
		})
	}
}

func TestHistoryCopies(t *testing.T) {
	s := New()
	i0, _ := s.Begin("one")
	_ = s.AppendText(i0, "1")
	s.Finish(i0)
	i1, _ := s.Begin("two")

	h := s.History(i1)
	if len(h) != 1 || h[0].Question != "one" {
		t.Fatalf("unexpected history %+v", h)
	}
	h[0].Answer[0].Content = "mutated"
	if s.Answer(i0).TextOnly() != "1" {
		t.Fatal("history shares storage with state")
	}
}

func TestTurnStateTerminal(t *testing.T) {
	for _, st := range []TurnState{TurnDone, TurnError, TurnStopped} {
		if !st.Terminal() || st.Busy() {
			t.Errorf("%s should be terminal", st)
		}
	}
	for _, st := range []TurnState{TurnStreaming, TurnToolDetected, TurnExecutingTools, TurnContinuing} {
		if st.Terminal() || !st.Busy() {
			t.Errorf("%s should be busy", st)
		}
	}
	if TurnIdle.Busy() {
		t.Error("idle should not be busy")
	}
}
