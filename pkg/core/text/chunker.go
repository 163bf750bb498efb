// Package text provides the prompt chunkers used to break an input into
// fragments before it is handed to the swarm.
//
// The functions in this package are Unicode-aware: they operate on runes and
// on whitespace-separated words, never on raw bytes.
package text

import (
	"math/rand"
	"strings"
)

// Chunk represents a single piece of text produced by a chunker.
// It includes the content and its sequential position within the original text.
type Chunk struct {
	Content     string
	ChunkNumber int
}

// FixedSizeChunker splits text into fixed-size chunks with a specified overlap.
//
// This function operates on runes rather than bytes to correctly handle multi-byte
// Unicode characters (e.g., emojis, accented letters), preventing them from being
// split. With a chunkSize of 100 and an overlapSize of 20 the function advances
// by 80 runes for each new chunk.
func FixedSizeChunker(text string, chunkSize, overlapSize int) []Chunk {
	if chunkSize <= 0 || overlapSize < 0 || overlapSize >= chunkSize {
		// If the parameters are invalid, return the entire text as a single chunk.
		return []Chunk{{Content: text, ChunkNumber: 0}}
	}

	var chunks []Chunk
	runes := []rune(text)
	length := len(runes)

	if length == 0 {
		return chunks
	}

	chunkNum := 0
	for i := 0; i < length; i += (chunkSize - overlapSize) {
		end := i + chunkSize
		if end > length {
			end = length
		}

		chunks = append(chunks, Chunk{
			Content:     string(runes[i:end]),
			ChunkNumber: chunkNum,
		})

		chunkNum++
	}

	return chunks
}

// WordChunker groups the whitespace-separated words of text into chunks of
// wordsPerChunk words. Words are re-joined with a single space.
func WordChunker(text string, wordsPerChunk int) []Chunk {
	if wordsPerChunk <= 0 {
		wordsPerChunk = 1
	}
	words := strings.Fields(text)

	var chunks []Chunk
	for i := 0; i < len(words); i += wordsPerChunk {
		end := min(i+wordsPerChunk, len(words))
		chunks = append(chunks, Chunk{
			Content:     strings.Join(words[i:end], " "),
			ChunkNumber: len(chunks),
		})
	}
	return chunks
}

// IrregularChunker cuts text into chunks of 1 to maxWords words, the size of
// each chunk drawn from rng. The same seed always yields the same chunks.
func IrregularChunker(text string, maxWords int, rng *rand.Rand) []Chunk {
	if maxWords <= 0 {
		maxWords = 3
	}
	words := strings.Fields(text)

	var chunks []Chunk
	for i := 0; i < len(words); {
		end := min(i+rng.Intn(maxWords)+1, len(words))
		chunks = append(chunks, Chunk{
			Content:     strings.Join(words[i:end], " "),
			ChunkNumber: len(chunks),
		})
		i = end
	}
	return chunks
}
