// Package chunker splits extracted text into fixed-width chunks.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// DefaultSize is the chunk width used when none is configured.
const DefaultSize = 1800

// Split cuts text into consecutive chunks of at most size characters.
// Characters are Unicode code points; an invalid UTF-8 byte counts as one.
// There is no overlap and no word-boundary handling, so concatenating the
// result always reproduces text exactly. Empty text yields no chunks.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if text == "" {
		return nil
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for i := 0; i < len(text); {
		_, width := utf8.DecodeRuneInString(text[i:])
		i += width
		count++
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

// Hash returns the hex SHA-256 of a chunk.
func Hash(chunk string) string {
	sum := sha256.Sum256([]byte(chunk))
	return hex.EncodeToString(sum[:])
}

// ModelHash is Hash keyed by the embedding model identity, so a row embedded
// by one model never matches a chunk about to be embedded by another.
// An empty model gives the same result as Hash.
func ModelHash(model, chunk string) string {
	if model == "" {
		return Hash(chunk)
	}
	return Hash(model + "\x00" + chunk)
}
