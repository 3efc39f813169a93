package services

import (
	"strings"
	"unicode/utf8"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/utils"
)

// Chunk is one embedding-sized slice of a transcript. Sequence starts
// at 0 and is stable for a given transcript and chunker config.
type Chunk struct {
	Sequence   int
	Text       string
	TokenCount int
}

// ChunkerService splits transcripts into overlapping token-bounded
// chunks. Chunking is deterministic: the same transcript always yields
// the same chunks, which is what makes re-embedding on retry safe.
type ChunkerService interface {
	Chunk(text string) []Chunk
	EstimateTokens(text string) int
}

type chunkerService struct {
	log           *logger.Logger
	chunkTokens   int
	overlapTokens int
}

func NewChunkerService(baseLog *logger.Logger) ChunkerService {
	log := baseLog.With("service", "ChunkerService")

	chunkTokens := utils.GetEnvAsInt("CHUNK_TOKENS", 3000, log)
	overlapTokens := utils.GetEnvAsInt("CHUNK_OVERLAP_TOKENS", 300, log)
	if chunkTokens <= 0 {
		chunkTokens = 3000
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= chunkTokens {
		overlapTokens = chunkTokens / 10
	}

	return &chunkerService{
		log:           log,
		chunkTokens:   chunkTokens,
		overlapTokens: overlapTokens,
	}
}

// EstimateTokens approximates token count as ceil(runes/4). The
// heuristic overestimates for dense English text, which keeps chunks
// comfortably under embedding limits.
func (s *chunkerService) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func (s *chunkerService) Chunk(text string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []Chunk{}
	}

	runes := []rune(trimmed)
	chunkRunes := s.chunkTokens * 4
	overlapRunes := s.overlapTokens * 4
	step := chunkRunes - overlapRunes

	out := []Chunk{}
	seq := 0
	for start := 0; start < len(runes); start += step {
		end := start + chunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, Chunk{
				Sequence:   seq,
				Text:       piece,
				TokenCount: s.EstimateTokens(piece),
			})
			seq++
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
