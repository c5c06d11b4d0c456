package toolcall

import "strings"

// Filter removes every tool call in text together with at most one adjacent
// blank line on each side. Text without markers is returned unchanged.
func (s *Scanner) Filter(text string) string {
	if !HasMarker(text) {
		return text
	}
	dets := s.DetectFinal(text)
	if len(dets) == 0 {
		return text
	}

	var sb strings.Builder
	prev := 0
	for _, d := range dets {
		from, to := expandSpan(text, d.Start, d.End)
		if from < prev {
			from = prev
		}
		sb.WriteString(text[prev:from])
		prev = to
	}
	sb.WriteString(text[prev:])
	return sb.String()
}

func expandSpan(text string, start, end int) (int, int) {
	to := skipHSpace(text, end)
	if to < len(text) && text[to] != '\n' {
		return start, to
	}
	if to < len(text) {
		to++
		if j := blankLineEnd(text, to); j >= 0 {
			return start, j
		}
	}

	from := start
	lineStart := from
	for lineStart > 0 && (text[lineStart-1] == ' ' || text[lineStart-1] == '\t') {
		lineStart--
	}
	if lineStart > 0 && text[lineStart-1] != '\n' {
		return from, to
	}
	if strings.HasSuffix(text[:lineStart], "\n\n") {
		from = lineStart - 1
	}
	return from, to
}

func skipHSpace(text string, i int) int {
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\r') {
		i++
	}
	return i
}

// blankLineEnd returns the offset after a whitespace-only line starting at
// i, or -1.
func blankLineEnd(text string, i int) int {
	j := skipHSpace(text, i)
	if j < len(text) && text[j] == '\n' {
		return j + 1
	}
	return -1
}
