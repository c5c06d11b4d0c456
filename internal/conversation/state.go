package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTurnInProgress is returned by Begin while another answer is streaming.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// State is the authoritative record of one conversation: questions paired
// positionally with answers, plus the index of the answer being streamed.
//
// State is not safe for concurrent use. It is owned by the consumer loop;
// other goroutines work on snapshots.
type State struct {
	questions []string
	answers   []Answer
	streaming *int
}

// New returns an empty conversation.
func New() *State {
	return &State{questions: []string{}, answers: []Answer{}}
}

// Len returns the number of question/answer pairs.
func (s *State) Len() int { return len(s.questions) }

// Question returns the question at index i.
func (s *State) Question(i int) string { return s.questions[i] }

// Answer returns a copy of the answer at index i.
func (s *State) Answer(i int) Answer { return s.answers[i].Clone() }

// StreamingIndex returns the answer currently streaming.
func (s *State) StreamingIndex() (int, bool) {
	if s.streaming == nil {
		return 0, false
	}
	return *s.streaming, true
}

// Begin appends a new question with an empty answer and marks it streaming.
func (s *State) Begin(question string) (int, error) {
	if s.streaming != nil {
		return 0, ErrTurnInProgress
	}
	s.questions = append(s.questions, question)
	s.answers = append(s.answers, Answer{})
	idx := len(s.questions) - 1
	s.streaming = &idx
	return idx, nil
}

// Finish clears the streaming marker if it points at index.
func (s *State) Finish(index int) {
	if s.streaming != nil && *s.streaming == index {
		s.streaming = nil
	}
}

// AppendText extends the answer at index.
func (s *State) AppendText(index int, text string) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.answers[index].AppendText(text)
	return nil
}

// Apply appends a component to the answer at index.
func (s *State) Apply(index int, c Component) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.answers[index].Apply(c)
	return nil
}

// RecordToolCall records a tool call at index, cutting its raw text from
// the streamed prose.
func (s *State) RecordToolCall(index int, raw string, c Component) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.answers[index].RecordToolCall(raw, c.Content, c.ID)
	return nil
}

func (s *State) check(index int) error {
	if index < 0 || index >= len(s.answers) {
		return fmt.Errorf("answer index %d out of range (have %d)", index, len(s.answers))
	}
	return nil
}

// Snapshot returns a deep copy that shares nothing with s.
func (s *State) Snapshot() *State {
	out := &State{
		questions: append([]string{}, s.questions...),
		answers:   make([]Answer, len(s.answers)),
	}
	for i, a := range s.answers {
		out.answers[i] = a.Clone()
	}
	if s.streaming != nil {
		idx := *s.streaming
		out.streaming = &idx
	}
	return out
}

// Pair is one question with its answer.
type Pair struct {
	Question string
	Answer   Answer
}

// History returns copies of the pairs before upTo.
func (s *State) History(upTo int) []Pair {
	if upTo > len(s.questions) {
		upTo = len(s.questions)
	}
	pairs := make([]Pair, 0, upTo)
	for i := 0; i < upTo; i++ {
		pairs = append(pairs, Pair{Question: s.questions[i], Answer: s.answers[i].Clone()})
	}
	return pairs
}

// Validate checks structural invariants.
func (s *State) Validate() error {
	if len(s.questions) != len(s.answers) {
		return fmt.Errorf("have %d questions but %d answers", len(s.questions), len(s.answers))
	}
	if s.streaming != nil && (*s.streaming < 0 || *s.streaming >= len(s.answers)) {
		return fmt.Errorf("streaming index %d out of range", *s.streaming)
	}
	for i, a := range s.answers {
		for j, c := range a {
			if err := c.validate(); err != nil {
				return fmt.Errorf("answer %d component %d: %w", i, j, err)
			}
		}
	}
	return nil
}

type stateJSON struct {
	Questions      []string      `json:"questions"`
	Answers        [][]Component `json:"answers"`
	StreamingIndex *int          `json:"streaming_index"`
}

// MarshalJSON encodes the state in its durable form.
func (s *State) MarshalJSON() ([]byte, error) {
	w := stateJSON{
		Questions:      s.questions,
		Answers:        make([][]Component, len(s.answers)),
		StreamingIndex: s.streaming,
	}
	if w.Questions == nil {
		w.Questions = []string{}
	}
	for i, a := range s.answers {
		w.Answers[i] = a
		if w.Answers[i] == nil {
			w.Answers[i] = []Component{}
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the durable form and validates it.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	next := State{questions: w.Questions, answers: make([]Answer, len(w.Answers)), streaming: w.StreamingIndex}
	if next.questions == nil {
		next.questions = []string{}
	}
	for i, a := range w.Answers {
		next.answers[i] = Answer(a)
		if next.answers[i] == nil {
			next.answers[i] = Answer{}
		}
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid conversation state: %w", err)
	}
	*s = next
	return nil
}

// Serialize returns the durable JSON form.
func Serialize(s *State) ([]byte, error) {
	return json.Marshal(s)
}

// Deserialize reconstructs a state from Serialize output.
func Deserialize(data []byte) (*State, error) {
	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Equal reports whether two states hold identical content.
func Equal(a, b *State) bool {
	if len(a.questions) != len(b.questions) || len(a.answers) != len(b.answers) {
		return false
	}
	if (a.streaming == nil) != (b.streaming == nil) {
		return false
	}
	if a.streaming != nil && *a.streaming != *b.streaming {
		return false
	}
	for i := range a.questions {
		if a.questions[i] != b.questions[i] {
			return false
		}
	}
	for i := range a.answers {
		if len(a.answers[i]) != len(b.answers[i]) {
			return false
		}
		for j := range a.answers[i] {
			if a.answers[i][j] != b.answers[i][j] {
				return false
			}
		}
	}
	return true
}
