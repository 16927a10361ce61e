package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLGroupRepository handles database operations for groups
type SQLGroupRepository struct {
	db *DB
}

var _ GroupRepository = (*SQLGroupRepository)(nil)

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB) *SQLGroupRepository {
	return &SQLGroupRepository{db: db}
}

// GetByExternalID retrieves a group by the platform's community identifier
func (r *SQLGroupRepository) GetByExternalID(externalID string) (*Group, error) {
	return r.scanGroup(r.db.QueryRow(`
		SELECT id, dgroup_name, dgroup_id, created_at
		FROM groups
		WHERE dgroup_id = ?
	`, externalID))
}

// GetByID retrieves a group by its internal id
func (r *SQLGroupRepository) GetByID(id int64) (*Group, error) {
	return r.scanGroup(r.db.QueryRow(`
		SELECT id, dgroup_name, dgroup_id, created_at
		FROM groups
		WHERE id = ?
	`, id))
}

// Save inserts a new group. A duplicate external id fails with
// ErrConstraintViolation.
func (r *SQLGroupRepository) Save(name, externalID string) (*Group, error) {
	now := time.Now()
	res, err := r.db.Exec(`
		INSERT INTO groups (dgroup_name, dgroup_id, created_at)
		VALUES (?, ?, ?)
	`, name, externalID, now.Unix())
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("group %s already exists: %w", externalID, ErrConstraintViolation)
		}
		return nil, fmt.Errorf("failed to save group: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get group id: %w", err)
	}

	return &Group{ID: id, Name: name, ExternalID: externalID, CreatedAt: now}, nil
}

// GetCount returns the total number of groups
func (r *SQLGroupRepository) GetCount() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM groups").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get group count: %w", err)
	}
	return count, nil
}

func (r *SQLGroupRepository) scanGroup(row *sql.Row) (*Group, error) {
	var group Group
	var createdAt int64
	err := row.Scan(&group.ID, &group.Name, &group.ExternalID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan group row: %w", err)
	}
	group.CreatedAt = time.Unix(createdAt, 0)
	return &group, nil
}
