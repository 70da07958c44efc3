package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/surveyline-labs/surveyline-go/internal/repo"
)

// UIDStore persists contact-identity entries. Allocation relies on the unique
// (table_name, raw_contact_id) constraint so two concurrent runs can never
// assign two different uids to the same contact.
type UIDStore struct {
	db DB
}

const (
	insertUIDQuery = `INSERT INTO contact_uids (
		table_name,
		raw_contact_id,
		uid
	) VALUES ($1,$2,$3)
	ON CONFLICT (table_name, raw_contact_id) DO NOTHING
	RETURNING uid`

	selectUIDQuery = `SELECT uid FROM contact_uids
	 WHERE table_name = $1 AND raw_contact_id = $2`

	selectEntriesQuery = `SELECT table_name, raw_contact_id, uid, created_at
	 FROM contact_uids
	 WHERE table_name = $1
	 ORDER BY created_at`
)

func NewUIDStore(db DB) *UIDStore {
	if db == nil {
		return nil
	}
	return &UIDStore{db: db}
}

func (s *UIDStore) Allocate(ctx context.Context, tableName, rawContactID, candidateUID string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("uid store not initialized")
	}
	tableName = strings.TrimSpace(tableName)
	rawContactID = strings.TrimSpace(rawContactID)
	candidateUID = strings.TrimSpace(candidateUID)
	if tableName == "" {
		return "", false, fmt.Errorf("table name is required")
	}
	if rawContactID == "" {
		return "", false, fmt.Errorf("raw contact id is required")
	}
	if candidateUID == "" {
		return "", false, fmt.Errorf("candidate uid is required")
	}

	var uid string
	err := s.db.QueryRowContext(ctx, insertUIDQuery, tableName, rawContactID, candidateUID).Scan(&uid)
	if err == nil {
		return uid, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("insert uid: %w", err)
	}

	// Insert conflicted: another writer won the race. Entries are never
	// deleted, so the existing uid must be readable.
	err = s.db.QueryRowContext(ctx, selectUIDQuery, tableName, rawContactID).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("uid for %q vanished after allocation race", rawContactID)
	}
	if err != nil {
		return "", false, fmt.Errorf("select uid: %w", err)
	}
	return uid, false, nil
}

func (s *UIDStore) GetUID(ctx context.Context, tableName, rawContactID string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("uid store not initialized")
	}
	tableName = strings.TrimSpace(tableName)
	rawContactID = strings.TrimSpace(rawContactID)
	if tableName == "" {
		return "", fmt.Errorf("table name is required")
	}
	if rawContactID == "" {
		return "", fmt.Errorf("raw contact id is required")
	}
	var uid string
	if err := s.db.QueryRowContext(ctx, selectUIDQuery, tableName, rawContactID).Scan(&uid); err != nil {
		return "", handleNotFound(err)
	}
	return uid, nil
}

func (s *UIDStore) ListEntries(ctx context.Context, tableName string) ([]repo.UIDEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("uid store not initialized")
	}
	tableName = strings.TrimSpace(tableName)
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	rows, err := s.db.QueryContext(ctx, selectEntriesQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("list uid entries: %w", err)
	}
	defer rows.Close()

	entries := make([]repo.UIDEntry, 0)
	for rows.Next() {
		var entry repo.UIDEntry
		if err := rows.Scan(&entry.TableName, &entry.RawContactID, &entry.UID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan uid entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list uid entries: %w", err)
	}
	return entries, nil
}
