package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned by mutating calls whose target row does not exist.
var ErrNotFound = errors.New("store: not found")

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS leads (
        id TEXT PRIMARY KEY, -- UUID
        tenant_id TEXT NOT NULL DEFAULT '',
        source TEXT NOT NULL,
        contact_name TEXT,
        email TEXT,
        phone TEXT,
        business_name TEXT,
        category TEXT,
        location TEXT,
        website TEXT,
        notes TEXT,
        score INTEGER CHECK (score IS NULL OR (score >= 0 AND score <= 100)),
        priority TEXT CHECK (priority IS NULL OR priority IN ('HOT', 'WARM', 'COLD')),
        stage TEXT NOT NULL DEFAULT 'new',
        intent_timing TEXT,
        assigned_to TEXT,
        invited_at DATETIME,
        priority_overridden BOOLEAN NOT NULL DEFAULT FALSE,
        deal_probability INTEGER NOT NULL DEFAULT 5,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID or client supplied
        tenant_id TEXT NOT NULL DEFAULT '',
        kind TEXT NOT NULL,
        lead_id TEXT,
        metadata TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (lead_id) REFERENCES leads (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS tenant_customizations (
        tenant_id TEXT PRIMARY KEY,
        brand_voice_json TEXT NOT NULL DEFAULT '{}',
        business_focus_json TEXT NOT NULL DEFAULT '{}',
        guardrails_json TEXT NOT NULL DEFAULT '{}',
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS knowledge_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        tenant_id TEXT NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    );
    CREATE INDEX IF NOT EXISTS idx_knowledge_tenant ON knowledge_chunks (tenant_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods

func (s *SQLiteStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := s.now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, tenant_id, kind, lead_id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		conv.ID, conv.TenantID, conv.Kind, conv.LeadID, conv.Metadata, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var leadID, metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, tenant_id, kind, lead_id, metadata, created_at, updated_at FROM conversations WHERE id = ?", id).
		Scan(&conv.ID, &conv.TenantID, &conv.Kind, &leadID, &metadata, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv.LeadID = stringPtr(leadID)
	conv.Metadata = stringPtr(metadata)
	return &conv, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET metadata = COALESCE(?, metadata), updated_at = ? WHERE id = ?",
		patch.Metadata, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// LinkLead sets the conversation's lead_id if it is still unset and returns
// the lead id the conversation is linked to afterwards. A conversation that
// is already linked keeps its original lead.
func (s *SQLiteStore) LinkLead(ctx context.Context, conversationID, leadID string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET lead_id = ?, updated_at = ? WHERE id = ? AND lead_id IS NULL",
		leadID, s.now(), conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to link lead: %w", err)
	}

	var linked sql.NullString
	err = s.db.QueryRowContext(ctx, "SELECT lead_id FROM conversations WHERE id = ?", conversationID).Scan(&linked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read linked lead: %w", err)
	}
	if !linked.Valid {
		return "", fmt.Errorf("conversation %s has no lead after link", conversationID)
	}
	return linked.String, nil
}

// Message methods

// InsertMessages appends messages to a conversation in the given order.
func (s *SQLiteStore) InsertMessages(ctx context.Context, conversationID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for i := range msgs {
		msgs[i].ID = uuid.NewString()
		msgs[i].ConversationID = conversationID
		msgs[i].CreatedAt = now
		if _, err := stmt.ExecContext(ctx, msgs[i].ID, conversationID, msgs[i].Role, msgs[i].Content, msgs[i].CreatedAt); err != nil {
			return fmt.Errorf("failed to execute message insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// GetMessages returns up to limit messages of a conversation, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := "SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// nullable maps an empty string to NULL.
func nullable(v *string) interface{} {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
