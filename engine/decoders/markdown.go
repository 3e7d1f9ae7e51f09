package decoders

import "io"

// MarkdownDecoder extracts paragraphs from text/markdown content. It does
// not strip markdown syntax — headings and list markers stay in the text,
// since the partitioner and embeddings treat them as ordinary tokens.
type MarkdownDecoder struct{}

func (MarkdownDecoder) Supports(mime string) bool {
	return mime == "text/markdown"
}

func (MarkdownDecoder) Decode(r io.Reader) (FileContent, error) {
	sections, err := paragraphSections(r)
	if err != nil {
		return FileContent{}, err
	}
	return FileContent{Mime: "text/markdown", Sections: sections}, nil
}

var _ Decoder = MarkdownDecoder{}
