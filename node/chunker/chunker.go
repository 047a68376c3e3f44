package chunker

import (
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/build"
)

var log = logging.Logger("chunker")

// Strategy names a splitting algorithm.
type Strategy string

const (
	// Sliding is a fixed character window advancing by size-overlap.
	Sliding Strategy = "sliding"
	// Sentence groups whole sentences up to size characters.
	Sentence Strategy = "sentence"
	// Recursive splits on paragraph, line and sentence breaks before
	// slicing what is still too long.
	Recursive Strategy = "recursive"
)

var aliases = map[string]Strategy{
	"sliding":   Sliding,
	"words":     Sliding,
	"sentence":  Sentence,
	"sentences": Sentence,
	"recursive": Recursive,
}

// ParseStrategy resolves a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	s, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", xerrors.Errorf("unknown chunk strategy: %q", name)
	}
	return s, nil
}

// Chunker is configured once and then splits any number of documents.
type Chunker struct {
	strategy Strategy
	size     int
	overlap  int
}

// New validates the configuration and returns a Chunker.
func New(strategy string, size, overlap int) (*Chunker, error) {
	s, err := ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, xerrors.Errorf("size must be > 0, got %d", size)
	}
	if s == Sliding && (overlap < 0 || overlap >= size) {
		return nil, xerrors.Errorf("overlap must be >= 0 and < size, got %d (size %d)", overlap, size)
	}

	return &Chunker{strategy: s, size: size, overlap: overlap}, nil
}

// Strategy returns the configured strategy.
func (c *Chunker) Strategy() Strategy {
	return c.strategy
}

// Split cuts text with the configured strategy. Offsets count characters.
func (c *Chunker) Split(text string) []types.Chunk {
	r := []rune(text)
	switch c.strategy {
	case Sliding:
		return SlidingWindow(r, c.size, c.overlap)
	case Sentence:
		return Sentences(r, c.size)
	default:
		return RecursiveSplit(r, c.size)
	}
}

// ChunkPayload turns one document into per-chunk messages sharing the
// document's source and metadata. Blank documents produce nothing.
func (c *Chunker) ChunkPayload(msg *types.TextMessage) []types.ChunkMessage {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	chunks := c.Split(text)
	docID := types.DocID(msg.Source, text)

	out := make([]types.ChunkMessage, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, types.ChunkMessage{
			Schema:   build.SchemaVersion,
			Source:   msg.Source,
			Metadata: msg.Metadata,
			DocID:    docID,
			Chunk:    ch,
		})
	}
	log.Debugf("%s: %d chunk(s) with strategy %s", docID, len(out), c.strategy)
	return out
}

func newChunk(r []rune, index, start, end int) types.Chunk {
	return types.Chunk{
		Index:    index,
		Start:    start,
		End:      end,
		NumChars: end - start,
		Text:     string(r[start:end]),
	}
}
