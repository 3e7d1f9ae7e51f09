package handlers

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// encodeVector serializes a []float32 as a flat little-endian byte blob so
// it can round-trip through the blob store between gen_embeddings and
// save_embeddings without a JSON/text dependency in the hot path.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("handlers: vector blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// generatorNameFromVectorBlob recovers the generator name gen_embeddings
// encoded into a vector blob's name, of the form "<partition>.vec.<name>".
func generatorNameFromVectorBlob(name string) string {
	idx := strings.LastIndex(name, ".vec.")
	if idx < 0 {
		return name
	}
	return name[idx+len(".vec."):]
}
