package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"luxeconcierge.com/lead-intake/internal/store"
)

func TestContextBuilderPicksMostSimilarChunks(t *testing.T) {
	knowledge := &fakeKnowledge{chunks: map[string][]store.KnowledgeChunk{
		"aurora": {
			{ID: 1, Content: "unrelated", Embedding: []float32{0, 1, 0}},
			{ID: 2, Content: "second best", Embedding: []float32{0.9, 0.2, 0}},
			{ID: 3, Content: "best", Embedding: []float32{1, 0, 0}},
			{ID: 4, Content: "third", Embedding: []float32{0.8, 0.4, 0}},
			{ID: 5, Content: "fourth", Embedding: []float32{0.7, 0.5, 0}},
			{ID: 6, Content: "no embedding"},
		},
	}}
	b := NewContextBuilder(knowledge, &fakeEmbedder{})

	got := b.Build(context.Background(), "aurora", "When does the villa open?")
	assert.Equal(t, "best\n\nsecond best\n\nthird", got)
}

func TestContextBuilderDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	chunks := map[string][]store.KnowledgeChunk{"aurora": {{Content: "best", Embedding: []float32{1, 0, 0}}}}

	tests := []struct {
		name     string
		builder  *ContextBuilder
		tenantID string
	}{
		{"nil builder", nil, "aurora"},
		{"no tenant", NewContextBuilder(&fakeKnowledge{chunks: chunks}, &fakeEmbedder{}), ""},
		{"other tenant", NewContextBuilder(&fakeKnowledge{chunks: chunks}, &fakeEmbedder{}), "someone-else"},
		{"knowledge failure", NewContextBuilder(&fakeKnowledge{err: errBoom}, &fakeEmbedder{}), "aurora"},
		{"embedding failure", NewContextBuilder(&fakeKnowledge{chunks: chunks}, &fakeEmbedder{err: errBoom}), "aurora"},
		{"below threshold", NewContextBuilder(&fakeKnowledge{chunks: chunks},
			&fakeEmbedder{vectors: map[string][]float32{"query": {0, 1, 0}}}), "aurora"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, tt.builder.Build(ctx, tt.tenantID, "query"))
		})
	}
}
