package handlers

import (
	"strings"
	"testing"
)

func TestPartitionTextRespectsParagraphBoundaries(t *testing.T) {
	text := "para one sentence.\n\npara two sentence."
	parts := partitionText(text, 100, 0, wordCounter)
	if len(parts) != 1 {
		t.Fatalf("expected both short paragraphs to fit in one chunk, got %d: %v", len(parts), parts)
	}
}

func TestPartitionTextSplitsOversizedText(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("word ")
	}
	parts := partitionText(sb.String(), 50, 0, wordCounter)
	if len(parts) < 2 {
		t.Fatalf("expected multiple chunks for 200 words at 50/chunk, got %d", len(parts))
	}
	for _, p := range parts {
		if wordCounter(p) > 50 {
			t.Errorf("chunk exceeds maxTokens: %d words", wordCounter(p))
		}
	}
}

func TestPartitionTextOverlapCarriesContext(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("word ")
	}
	noOverlap := partitionText(sb.String(), 30, 0, wordCounter)
	withOverlap := partitionText(sb.String(), 30, 10, wordCounter)
	if len(withOverlap) < len(noOverlap) {
		t.Errorf("overlap should not produce fewer chunks: overlap=%d plain=%d", len(withOverlap), len(noOverlap))
	}
}

func TestFitUnitHardSplitsSingleOversizedWord(t *testing.T) {
	oneGiantWord := strings.Repeat("x", 500)
	runeCounter := func(s string) int { return len([]rune(s)) }
	pieces := fitUnit(oneGiantWord, 50, runeCounter)
	if len(pieces) < 2 {
		t.Fatalf("expected rune-level fallback to split a single oversized word, got %d pieces", len(pieces))
	}
	for _, p := range pieces {
		if runeCounter(p) > 50 {
			t.Errorf("piece exceeds maxTokens: %d runes", runeCounter(p))
		}
	}
}
