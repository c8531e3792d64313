package core

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"luxeconcierge.com/lead-intake/internal/store"
	"luxeconcierge.com/lead-intake/internal/utils"
)

const (
	NumRelevantChunks   = 3   // Number of knowledge chunks placed in the prompt
	SimilarityThreshold = 0.7 // Minimum similarity for a chunk to count as relevant
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeSource lists the knowledge chunks of one tenant.
type KnowledgeSource interface {
	GetKnowledgeChunks(ctx context.Context, tenantID string) ([]store.KnowledgeChunk, error)
}

// ContextBuilder selects the tenant knowledge most relevant to a visitor's
// message.
type ContextBuilder struct {
	knowledge KnowledgeSource
	embedder  Embedder
}

func NewContextBuilder(knowledge KnowledgeSource, embedder Embedder) *ContextBuilder {
	return &ContextBuilder{knowledge: knowledge, embedder: embedder}
}

// Build returns up to NumRelevantChunks chunks separated by blank lines, or
// an empty string when nothing relevant is found or a lookup fails.
func (b *ContextBuilder) Build(ctx context.Context, tenantID, query string) string {
	if b == nil || b.knowledge == nil || b.embedder == nil || tenantID == "" || strings.TrimSpace(query) == "" {
		return ""
	}
	logger := logrus.WithField("tenant_id", tenantID)

	chunks, err := b.knowledge.GetKnowledgeChunks(ctx, tenantID)
	if err != nil {
		logger.WithError(err).Warn("Failed to load knowledge chunks, continuing without context")
		return ""
	}
	if len(chunks) == 0 {
		return ""
	}

	queryEmbedding, err := b.embedder.Embed(ctx, query)
	if err != nil {
		logger.WithError(err).Warn("Failed to embed query, continuing without context")
		return ""
	}

	best := utils.TopK(queryEmbedding, chunks, func(c store.KnowledgeChunk) []float32 { return c.Embedding },
		SimilarityThreshold, NumRelevantChunks)
	if len(best) == 0 {
		logger.WithField("threshold", SimilarityThreshold).Debug("No relevant knowledge chunks found")
		return ""
	}

	parts := make([]string, 0, len(best))
	for _, s := range best {
		parts = append(parts, s.Item.Content)
	}
	logger.WithField("chunks", len(parts)).Debug("Retrieved relevant knowledge chunks")
	return strings.Join(parts, "\n\n")
}
