package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strconv"
)

// ChunkType classifies the content shape of a chunk.
type ChunkType string

// Chunk types inferred from content.
const (
	ChunkParagraph ChunkType = "paragraph"
	ChunkSection   ChunkType = "section"
	ChunkCode      ChunkType = "code"
	ChunkList      ChunkType = "list"
	ChunkTable     ChunkType = "table"
)

// Valid reports whether t is a known chunk type.
func (t ChunkType) Valid() bool {
	switch t {
	case ChunkParagraph, ChunkSection, ChunkCode, ChunkList, ChunkTable:
		return true
	}
	return false
}

// Reserved metadata keys stamped onto every stored vector.
const (
	MetaChunkID        = "chunk_id"
	MetaSourceFile     = "source_file"
	MetaSourceLocation = "source_location"
	MetaChunkType      = "chunk_type"
	MetaModel          = "model"
	MetaProvider       = "provider"
	MetaText           = "text"
	// MetaSourceRevision identifies the ingest run that produced a point.
	// Points of a source with another revision are stale.
	MetaSourceRevision = "source_revision"
)

// chunkIDLen is the number of hex characters kept from the content hash.
const chunkIDLen = 32

// Chunk is an immutable unit of retrievable text with provenance.
type Chunk struct {
	id             string
	text           string
	sourceFile     string
	sourceLocation string
	chunkType      ChunkType
	metadata       map[string]string
}

// NewChunk creates a Chunk and derives its id from source file and text.
// Identical content from the same source always yields the same id.
func NewChunk(
	sourceFile, sourceLocation, text string,
	chunkType ChunkType, metadata map[string]string,
) Chunk {
	if !chunkType.Valid() {
		chunkType = ChunkParagraph
	}
	return Chunk{
		id:             ChunkID(sourceFile, text, 0),
		text:           text,
		sourceFile:     sourceFile,
		sourceLocation: sourceLocation,
		chunkType:      chunkType,
		metadata:       maps.Clone(metadata),
	}
}

// WithOccurrence returns a copy of c identified as the n-th repeat of its text
// within the source. n = 0 is the first occurrence and keeps the id unchanged.
func (c Chunk) WithOccurrence(n int) Chunk {
	c.id = ChunkID(c.sourceFile, c.text, n)
	return c
}

// ChunkID returns the stable content hash used as a chunk identifier.
// occurrence counts earlier chunks of the same source with identical text.
func ChunkID(sourceFile, text string, occurrence int) string {
	h := sha256.New()
	h.Write([]byte(sourceFile))
	h.Write([]byte{0})
	h.Write([]byte(text))
	if occurrence > 0 {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(occurrence)))
	}
	return hex.EncodeToString(h.Sum(nil))[:chunkIDLen]
}

// ID returns the content-derived identifier.
func (c Chunk) ID() string { return c.id }

// Text returns the chunk text.
func (c Chunk) Text() string { return c.text }

// SourceFile returns the originating file path.
func (c Chunk) SourceFile() string { return c.sourceFile }

// SourceLocation returns the position descriptor inside the source.
func (c Chunk) SourceLocation() string { return c.sourceLocation }

// Type returns the inferred chunk type.
func (c Chunk) Type() ChunkType { return c.chunkType }

// Metadata returns a copy of the chunk metadata.
func (c Chunk) Metadata() map[string]string { return maps.Clone(c.metadata) }

// Payload returns the chunk metadata merged with the reserved provenance keys.
// Reserved keys win over user metadata with the same name.
func (c Chunk) Payload() map[string]string {
	p := make(map[string]string, len(c.metadata)+4)
	maps.Copy(p, c.metadata)
	p[MetaChunkID] = c.id
	p[MetaSourceFile] = c.sourceFile
	p[MetaSourceLocation] = c.sourceLocation
	p[MetaChunkType] = string(c.chunkType)
	return p
}
