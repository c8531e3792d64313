package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const leadColumns = `id, tenant_id, source, contact_name, email, phone, business_name, category, location, website, notes,
        score, priority, stage, intent_timing, assigned_to, invited_at, priority_overridden, deal_probability, created_at, updated_at`

func (s *SQLiteStore) InsertLead(ctx context.Context, lead *Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Stage == "" {
		lead.Stage = "new"
	}
	now := s.now()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO leads ("+leadColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		lead.ID, lead.TenantID, lead.Source,
		nullable(lead.ContactName), nullable(lead.Email), nullable(lead.Phone), nullable(lead.BusinessName),
		nullable(lead.Category), nullable(lead.Location), nullable(lead.Website), nullable(lead.Notes),
		lead.Score, nullable(lead.Priority), lead.Stage, nullable(lead.IntentTiming), nullable(lead.AssignedTo),
		lead.InvitedAt, lead.PriorityOverridden, lead.DealProbability, lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+leadColumns+" FROM leads WHERE id = ?", id)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

// UpdateLead applies the non-nil fields of patch and bumps updated_at.
func (s *SQLiteStore) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	var sets []string
	var args []interface{}

	text := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, nullable(v))
		}
	}
	text("contact_name", patch.ContactName)
	text("email", patch.Email)
	text("phone", patch.Phone)
	text("business_name", patch.BusinessName)
	text("category", patch.Category)
	text("location", patch.Location)
	text("website", patch.Website)
	text("notes", patch.Notes)
	text("priority", patch.Priority)
	text("intent_timing", patch.IntentTiming)
	text("assigned_to", patch.AssignedTo)

	if patch.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *patch.Score)
	}
	if patch.Stage != nil {
		sets = append(sets, "stage = ?")
		args = append(args, *patch.Stage)
	}
	if patch.InvitedAt != nil {
		sets = append(sets, "invited_at = ?")
		args = append(args, *patch.InvitedAt)
	}
	if patch.PriorityOverridden != nil {
		sets = append(sets, "priority_overridden = ?")
		args = append(args, *patch.PriorityOverridden)
	}
	if patch.DealProbability != nil {
		sets = append(sets, "deal_probability = ?")
		args = append(args, *patch.DealProbability)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	res, err := s.db.ExecContext(ctx, "UPDATE leads SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetDealProbability stores a recalculated deal probability. The value is
// derived from the other columns, so updated_at is left alone and staleness
// keeps counting from the last real change.
func (s *SQLiteStore) SetDealProbability(ctx context.Context, id string, probability int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE leads SET deal_probability = ? WHERE id = ?", probability, id)
	if err != nil {
		return fmt.Errorf("failed to set deal probability: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var lead Lead
	var contactName, email, phone, businessName, category, location, website, notes sql.NullString
	var priority, intentTiming, assignedTo sql.NullString
	var score sql.NullInt64
	var invitedAt sql.NullTime

	err := row.Scan(&lead.ID, &lead.TenantID, &lead.Source,
		&contactName, &email, &phone, &businessName, &category, &location, &website, &notes,
		&score, &priority, &lead.Stage, &intentTiming, &assignedTo, &invitedAt,
		&lead.PriorityOverridden, &lead.DealProbability, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return nil, err
	}

	lead.ContactName = stringPtr(contactName)
	lead.Email = stringPtr(email)
	lead.Phone = stringPtr(phone)
	lead.BusinessName = stringPtr(businessName)
	lead.Category = stringPtr(category)
	lead.Location = stringPtr(location)
	lead.Website = stringPtr(website)
	lead.Notes = stringPtr(notes)
	lead.Priority = stringPtr(priority)
	lead.IntentTiming = stringPtr(intentTiming)
	lead.AssignedTo = stringPtr(assignedTo)
	if score.Valid {
		v := int(score.Int64)
		lead.Score = &v
	}
	if invitedAt.Valid {
		v := invitedAt.Time
		lead.InvitedAt = &v
	}
	return &lead, nil
}
