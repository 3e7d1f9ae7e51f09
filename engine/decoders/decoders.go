// Package decoders implements the content-decoder collaborator: mime
// dispatch from raw file bytes to extracted text sections.
package decoders

import (
	"io"

	"github.com/microsoft/kernel-memory/engine/domain"
)

// Section is one extracted unit of text: a page/slide/row plus whether it
// ends on a complete sentence (the partitioner uses this to avoid splitting
// mid-sentence across section boundaries).
type Section struct {
	Page             int
	Text             string
	CompleteSentence bool
}

// FileContent is the output of a successful decode.
type FileContent struct {
	Mime     string
	Sections []Section
}

// Decoder recognizes and extracts text for one or more mime types.
type Decoder interface {
	Supports(mime string) bool
	Decode(r io.Reader) (FileContent, error)
}

// Registry dispatches to the first registered Decoder that supports a mime.
type Registry struct {
	decoders []Decoder
}

func NewRegistry(decoders ...Decoder) *Registry {
	return &Registry{decoders: decoders}
}

// Decode extracts text from r per mime, or a Permanent "unsupported_mime"
// error if no registered decoder recognizes it.
func (r *Registry) Decode(mime string, reader io.Reader) (FileContent, error) {
	for _, d := range r.decoders {
		if d.Supports(mime) {
			content, err := d.Decode(reader)
			if err != nil {
				return FileContent{}, domain.NewError(domain.KindPermanentIO, "decode "+mime, err)
			}
			return content, nil
		}
	}
	return FileContent{}, domain.NewError(domain.KindPermanentIO, "unsupported_mime", domain.ErrUnsupportedMime)
}
