package decoders

import (
	"bufio"
	"io"
	"strings"
)

// PlainTextDecoder extracts paragraphs from text/plain content, splitting on
// blank lines.
type PlainTextDecoder struct{}

func (PlainTextDecoder) Supports(mime string) bool {
	return mime == "text/plain"
}

func (PlainTextDecoder) Decode(r io.Reader) (FileContent, error) {
	sections, err := paragraphSections(r)
	if err != nil {
		return FileContent{}, err
	}
	return FileContent{Mime: "text/plain", Sections: sections}, nil
}

// paragraphSections splits r into paragraphs on blank lines, numbering each
// as its own "page" (there is no real pagination concept for flat text).
func paragraphSections(r io.Reader) ([]Section, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sections []Section
	var b strings.Builder
	page := 0

	flush := func() {
		text := strings.TrimSpace(b.String())
		if text != "" {
			sections = append(sections, Section{Page: page, Text: text, CompleteSentence: endsSentence(text)})
			page++
		}
		b.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}

func endsSentence(text string) bool {
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}

var _ Decoder = PlainTextDecoder{}
