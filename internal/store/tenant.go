package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Tenant customization methods

func (s *SQLiteStore) GetCustomization(ctx context.Context, tenantID string) (*TenantCustomization, error) {
	var voiceJSON, focusJSON, guardJSON string
	c := TenantCustomization{TenantID: tenantID}
	err := s.db.QueryRowContext(ctx,
		"SELECT brand_voice_json, business_focus_json, guardrails_json, updated_at FROM tenant_customizations WHERE tenant_id = ?", tenantID).
		Scan(&voiceJSON, &focusJSON, &guardJSON, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No customization for tenant
		}
		return nil, fmt.Errorf("failed to get customization: %w", err)
	}
	if err := json.Unmarshal([]byte(voiceJSON), &c.BrandVoice); err != nil {
		return nil, fmt.Errorf("failed to decode brand voice for tenant %s: %w", tenantID, err)
	}
	if err := json.Unmarshal([]byte(focusJSON), &c.BusinessFocus); err != nil {
		return nil, fmt.Errorf("failed to decode business focus for tenant %s: %w", tenantID, err)
	}
	if err := json.Unmarshal([]byte(guardJSON), &c.Guardrails); err != nil {
		return nil, fmt.Errorf("failed to decode guardrails for tenant %s: %w", tenantID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) UpsertCustomization(ctx context.Context, c *TenantCustomization) error {
	voice, err := json.Marshal(c.BrandVoice)
	if err != nil {
		return fmt.Errorf("failed to marshal brand voice: %w", err)
	}
	focus, err := json.Marshal(c.BusinessFocus)
	if err != nil {
		return fmt.Errorf("failed to marshal business focus: %w", err)
	}
	guard, err := json.Marshal(c.Guardrails)
	if err != nil {
		return fmt.Errorf("failed to marshal guardrails: %w", err)
	}
	c.UpdatedAt = s.now()

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO tenant_customizations (tenant_id, brand_voice_json, business_focus_json, guardrails_json, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (tenant_id) DO UPDATE SET
            brand_voice_json = excluded.brand_voice_json,
            business_focus_json = excluded.business_focus_json,
            guardrails_json = excluded.guardrails_json,
            updated_at = excluded.updated_at`,
		c.TenantID, string(voice), string(focus), string(guard), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert customization: %w", err)
	}
	return nil
}

// Knowledge chunk methods (tenant context retrieval)

func (s *SQLiteStore) createKnowledgeChunk(ctx context.Context, chunk *KnowledgeChunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	chunk.EmbeddingJSON = string(embeddingBytes)

	res, err := s.db.ExecContext(ctx, "INSERT INTO knowledge_chunks (tenant_id, content, embedding_json) VALUES (?, ?, ?)",
		chunk.TenantID, chunk.Content, chunk.EmbeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to execute knowledge_chunk insert: %w", err)
	}
	chunk.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetKnowledgeChunks(ctx context.Context, tenantID string) ([]KnowledgeChunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, tenant_id, content, embedding_json FROM knowledge_chunks WHERE tenant_id = ?", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []KnowledgeChunk
	for rows.Next() {
		var chunk KnowledgeChunk
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.TenantID, &chunk.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge_chunk row: %w", err)
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				logrus.WithFields(logrus.Fields{"chunk_id": chunk.ID, "tenant_id": tenantID}).
					WithError(err).Warn("failed to unmarshal chunk embedding, chunk will be skipped by retrieval")
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ClearKnowledgeChunks(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_chunks WHERE tenant_id = ?", tenantID); err != nil {
		return fmt.Errorf("failed to delete knowledge_chunks: %w", err)
	}
	return nil
}

// ParseKnowledgeTable extracts one chunk per row of a single-column Markdown
// table. The header row and separator row are skipped.
func ParseKnowledgeTable(content string) []string {
	var chunks []string
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if i == 0 && strings.Contains(trimmed, "|") {
			continue
		}
		if strings.Contains(trimmed, "|") && strings.Contains(trimmed, "---") {
			continue
		}
		if !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			continue
		}
		parts := strings.Split(trimmed, "|")
		if len(parts) < 3 {
			continue
		}
		if cell := strings.TrimSpace(parts[1]); cell != "" {
			chunks = append(chunks, cell)
		}
	}
	return chunks
}

// IngestKnowledgeFromFile replaces a tenant's knowledge chunks with the rows
// of a Markdown table file, embedding each row with embedder.
func (s *SQLiteStore) IngestKnowledgeFromFile(ctx context.Context, filePath, tenantID string, embedder func(context.Context, string) ([]float32, error)) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge file %s: %w", filePath, err)
	}

	rawChunks := ParseKnowledgeTable(string(contentBytes))
	if len(rawChunks) == 0 {
		logrus.WithField("file", filePath).Warn("no chunks found, expected a single-column Markdown table")
		return 0, nil
	}

	if err := s.ClearKnowledgeChunks(ctx, tenantID); err != nil {
		return 0, fmt.Errorf("failed to clear existing knowledge chunks: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{"tenant_id": tenantID, "total": len(rawChunks)})
	log.Info("embedding knowledge chunks")

	ticker := time.NewTicker(40 * time.Millisecond) // stay under the embedding rate limit (1500/min)
	defer ticker.Stop()

	count := 0
	for i, rawChunk := range rawChunks {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case <-ticker.C:
		}

		embedding, err := embedder(ctx, rawChunk)
		if err != nil {
			log.WithError(err).WithField("chunk", i+1).Warn("failed to embed chunk, skipping")
			continue
		}

		chunk := KnowledgeChunk{TenantID: tenantID, Content: rawChunk, Embedding: embedding}
		if err := s.createKnowledgeChunk(ctx, &chunk); err != nil {
			log.WithError(err).WithField("chunk", i+1).Warn("failed to store chunk, skipping")
			continue
		}
		count++
	}
	log.WithField("ingested", count).Info("knowledge ingestion complete")
	return count, nil
}
