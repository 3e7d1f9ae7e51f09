package handlers

import (
	"strings"
	"unicode"
)

// DefaultPartitionTokens is the target chunk size, grounded on the teacher's
// engine/ingest.DefaultChunkSize.
const DefaultPartitionTokens = 512

// DefaultPartitionOverlap is the token overlap between adjacent partitions,
// grounded on the teacher's engine/ingest.DefaultOverlap.
const DefaultPartitionOverlap = 50

// TokenCounter approximates or measures the token cost of a string.
type TokenCounter func(string) int

// wordCounter is the fallback TokenCounter used when no generator's exact
// counter is available: teacher's engine/ingest.wordCount approximation.
func wordCounter(s string) int { return len(strings.Fields(s)) }

// partitionText splits text into chunks of at most maxTokens, falling back
// through paragraph, sentence, clause, word, and finally rune boundaries —
// whichever separator produces pieces small enough to pack — then
// re-groups pieces into chunks with overlapTokens of trailing context
// carried into the next chunk.
func partitionText(text string, maxTokens, overlapTokens int, count TokenCounter) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultPartitionTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if count == nil {
		count = wordCounter
	}

	paragraphs := splitParagraphs(text)
	var units []string
	for _, p := range paragraphs {
		units = append(units, fitUnit(p, maxTokens, count)...)
	}
	return packUnits(units, maxTokens, overlapTokens, count)
}

// fitUnit recursively splits a unit of text until every piece fits within
// maxTokens, trying paragraph (already done by the caller), sentence,
// clause, word, then rune boundaries in order.
func fitUnit(unit string, maxTokens int, count TokenCounter) []string {
	if count(unit) <= maxTokens || len(unit) == 0 {
		return []string{unit}
	}

	for _, splitter := range []func(string) []string{splitSentences, splitClauses, splitWords} {
		pieces := splitter(unit)
		if len(pieces) > 1 {
			var out []string
			for _, p := range pieces {
				out = append(out, fitUnit(p, maxTokens, count)...)
			}
			return out
		}
	}

	// Last resort: hard split on runes.
	return splitRunes(unit, maxTokens)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}

// splitSentences is the teacher's engine/ingest.splitSentences, generalized
// to return whole sentences regardless of punctuation density.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// splitClauses breaks a sentence on commas and semicolons.
func splitClauses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitWords(s string) []string {
	return strings.Fields(s)
}

// splitRunes hard-splits text into maxTokens-rune pieces; used only when no
// semantic separator can shrink a unit further (e.g. one very long word).
func splitRunes(s string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += maxTokens {
		end := i + maxTokens
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// packUnits greedily packs small units into chunks up to maxTokens, carrying
// the trailing overlapTokens worth of units into the next chunk so adjacent
// partitions share context.
func packUnits(units []string, maxTokens, overlapTokens int, count TokenCounter) []string {
	if len(units) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(units) {
		var buf strings.Builder
		tokens := 0
		end := start
		for end < len(units) {
			t := count(units[end])
			if tokens > 0 && tokens+t > maxTokens {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(units[end])
			tokens += t
			end++
		}
		if end == start {
			// A single unit exceeds maxTokens on its own; take it whole to
			// guarantee forward progress.
			buf.WriteString(units[end])
			end++
		}
		chunks = append(chunks, buf.String())

		overlap := 0
		newStart := end
		for newStart > start && overlap < overlapTokens {
			newStart--
			overlap += count(units[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}
