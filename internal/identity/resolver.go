// Package identity maps platform contact identifiers to stable opaque uids.
// The backing table is injected; the resolver never reaches for global state.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/surveyline-labs/surveyline-go/internal/repo"
)

// IdentityConflictError reports that two allocations raced for one raw
// contact id and the table ended up unreadable for it. The current run is
// fatal when this happens; the table itself stays consistent.
type IdentityConflictError struct {
	TableName    string
	RawContactID string
	Err          error
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict for contact in table %q: %v", e.TableName, e.Err)
}

func (e *IdentityConflictError) Unwrap() error { return e.Err }

// Resolver resolves raw contact identifiers to uids.
type Resolver interface {
	Resolve(ctx context.Context, rawContactID string) (string, error)
	ResolveBatch(ctx context.Context, rawContactIDs []string) (map[string]string, error)
	RawContactIDs(ctx context.Context, uids []string) (map[string]string, error)
}

// TableResolver allocates uids lazily against a persisted keyed table. A uid,
// once assigned, never changes.
type TableResolver struct {
	tableName string
	uidPrefix string
	store     repo.UIDRepository
	newUID    func() string
}

func NewTableResolver(store repo.UIDRepository, tableName, uidPrefix string) (*TableResolver, error) {
	if store == nil {
		return nil, errors.New("uid repository is required")
	}
	tableName = strings.TrimSpace(tableName)
	uidPrefix = strings.TrimSpace(uidPrefix)
	if tableName == "" {
		return nil, errors.New("table name is required")
	}
	if uidPrefix == "" {
		return nil, errors.New("uid prefix is required")
	}
	return &TableResolver{
		tableName: tableName,
		uidPrefix: uidPrefix,
		store:     store,
		newUID:    uuid.NewString,
	}, nil
}

// Resolve returns the uid for a raw contact id, allocating one on first
// observation. Allocation is atomic in the repository, so concurrent runs
// agree on the winner.
func (r *TableResolver) Resolve(ctx context.Context, rawContactID string) (string, error) {
	if r == nil || r.store == nil {
		return "", errors.New("resolver not initialized")
	}
	rawContactID = strings.TrimSpace(rawContactID)
	if rawContactID == "" {
		return "", errors.New("raw contact id is required")
	}

	existing, err := r.store.GetUID(ctx, r.tableName, rawContactID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("lookup uid: %w", err)
	}

	candidate := r.uidPrefix + r.newUID()
	uid, _, err := r.store.Allocate(ctx, r.tableName, rawContactID, candidate)
	if err != nil {
		return "", &IdentityConflictError{TableName: r.tableName, RawContactID: rawContactID, Err: err}
	}
	return uid, nil
}

// ResolveBatch resolves many ids, deduplicating the input.
func (r *TableResolver) ResolveBatch(ctx context.Context, rawContactIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(rawContactIDs))
	for _, id := range rawContactIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, done := out[id]; done {
			continue
		}
		uid, err := r.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = uid
	}
	return out, nil
}

// RawContactIDs reverse-resolves uids back to raw contact ids with a single
// table read. uids with no entry are left out of the result rather than
// erroring, since old datasets can reference uids from a different table
// generation.
func (r *TableResolver) RawContactIDs(ctx context.Context, uids []string) (map[string]string, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("resolver not initialized")
	}
	entries, err := r.store.ListEntries(ctx, r.tableName)
	if err != nil {
		return nil, fmt.Errorf("reverse lookup: %w", err)
	}
	rawByUID := make(map[string]string, len(entries))
	for _, entry := range entries {
		rawByUID[entry.UID] = entry.RawContactID
	}

	out := make(map[string]string, len(uids))
	for _, uid := range uids {
		uid = strings.TrimSpace(uid)
		if uid == "" {
			continue
		}
		if raw, ok := rawByUID[uid]; ok {
			out[uid] = raw
		}
	}
	return out, nil
}
