package toolcall

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Detection is one tool call found in a text buffer.
type Detection struct {
	Call

	// Start and End bound Raw inside the scanned text (End exclusive).
	Start int
	End   int
	// Raw is the text exactly as generated.
	Raw string
	// Canonical is the payload in the native dialect. Recovered native
	// calls carry the repaired text.
	Canonical string
	Dialect   Dialect
	Recovered bool
}

// Scanner finds tool-call objects embedded in free-form text.
type Scanner struct {
	log zerolog.Logger
}

// NewScanner creates a scanner that reports skipped candidates to log.
func NewScanner(log zerolog.Logger) *Scanner {
	return &Scanner{log: log.With().Str("component", "toolcall").Logger()}
}

var defaultScanner = NewScanner(zerolog.Nop())

// Detect runs a strict scan with a silent scanner.
func Detect(text string) []Detection { return defaultScanner.Detect(text) }

// DetectFinal runs a final scan with a silent scanner.
func DetectFinal(text string) []Detection { return defaultScanner.DetectFinal(text) }

// Filter removes tool calls from text with a silent scanner.
func Filter(text string) string { return defaultScanner.Filter(text) }

// Detect returns every complete, valid tool call in text. Unterminated
// objects are ignored since more text may still arrive.
func (s *Scanner) Detect(text string) []Detection {
	return s.scan(text, false)
}

// DetectFinal is Detect for a buffer that will not grow any further: an
// object missing exactly its last closing brace is repaired when the result
// parses and names a tool.
func (s *Scanner) DetectFinal(text string) []Detection {
	return s.scan(text, true)
}

type candidate struct {
	start   int
	dialect *dialect
}

func (s *Scanner) scan(text string, final bool) []Detection {
	if !HasMarker(text) {
		return nil
	}

	enclosing := enclosingObjects(text)
	var cands []candidate
	for i := range dialects {
		d := &dialects[i]
		for off := 0; off < len(text); {
			j := strings.Index(text[off:], d.marker)
			if j < 0 {
				break
			}
			m := off + j
			start := objectStart(text, m)
			if start >= 0 {
				cands = append(cands, candidate{start: start, dialect: d})
			}
			if outer, ok := enclosing[m]; ok && outer != start {
				cands = append(cands, candidate{start: outer, dialect: d})
			}
			off = m + len(d.marker)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].start < cands[j].start })

	var out []Detection
	next := 0
	for _, c := range cands {
		if c.start < next {
			continue
		}
		det, ok := s.try(text, c, final)
		if !ok {
			continue
		}
		out = append(out, det)
		next = det.End
	}
	return out
}

func (s *Scanner) try(text string, c candidate, final bool) (Detection, bool) {
	end, depth, lastOne := walkObject(text, c.start)

	var raw, obj string
	recovered := false
	switch {
	case end >= 0:
		raw = text[c.start:end]
		obj = raw
	case final && depth == 1 && lastOne >= 0:
		raw = text[c.start : lastOne+1]
		obj = raw + "}"
		recovered = true
	default:
		return Detection{}, false
	}

	call, err := c.dialect.convert([]byte(obj))
	if err != nil {
		s.log.Debug().
			Err(err).
			Str("dialect", string(c.dialect.name)).
			Int("offset", c.start).
			Bool("recovery", recovered).
			Msg("skipping tool call candidate")
		return Detection{}, false
	}
	if call.Dropped > 0 {
		s.log.Warn().
			Str("tool", call.Name).
			Int("dropped", call.Dropped).
			Msg("only the first entry of tool_calls is executed")
	}
	if recovered {
		s.log.Debug().Str("tool", call.Name).Msg("recovered tool call missing a closing brace")
	}

	det := Detection{
		Start:     c.start,
		End:       c.start + len(raw),
		Raw:       raw,
		Dialect:   c.dialect.name,
		Recovered: recovered,
	}
	if c.dialect.name == DialectNative {
		det.Canonical = obj
	} else {
		det.Canonical = call.Canonical()
	}
	if call.ID == "" {
		call.ID = NewID()
	}
	det.Call = call
	return det, true
}

// objectStart returns the index of the '{' that opens the object whose
// first key is the marker at m, or -1.
func objectStart(text string, m int) int {
	i := m - 1
	for i >= 0 && isSpace(text[i]) {
		i--
	}
	if i >= 0 && text[i] == '{' {
		return i
	}
	return -1
}

// enclosingObjects maps the offset of every string literal that opens
// inside an object to the '{' of the innermost object around it. This finds
// markers that are not the first key. Quotes in prose outside any object are
// ignored.
func enclosingObjects(text string) map[int]int {
	out := make(map[int]int)
	var open []int
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '{':
			open = append(open, i)
		case '}':
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		case '"':
			if len(open) > 0 {
				out[i] = open[len(open)-1]
				inString = true
			}
		}
	}
	return out
}

// ObjectEnd returns the exclusive end of the object opened by the '{' at
// start, or -1 while it is still open.
func ObjectEnd(text string, start int) int {
	end, _, _ := walkObject(text, start)
	return end
}

// walkObject scans from the '{' at start, honoring string literals and
// escapes. It returns the exclusive end offset when the depth returns to
// zero. Otherwise end is -1, depth is the depth at end of text and lastOne
// is the offset of the last '}' that brought the depth back to one.
func walkObject(text string, start int) (end, depth, lastOne int) {
	lastOne = -1
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, 0, lastOne
			}
			if depth == 1 {
				lastOne = i
			}
		}
	}
	return -1, depth, lastOne
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// NewID returns a fresh tool call correlation id.
func NewID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// SplitQualifiedName splits a tool name into host server and tool. The
// first "__" separates them when present, otherwise the first "_".
func SplitQualifiedName(name string) (server, tool string) {
	if i := strings.Index(name, "__"); i > 0 {
		return name[:i], name[i+2:]
	}
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
