package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLAdvertRepository handles database operations for adverts
type SQLAdvertRepository struct {
	db *DB
}

var _ AdvertRepository = (*SQLAdvertRepository)(nil)

// NewAdvertRepository creates a new advert repository
func NewAdvertRepository(db *DB) *SQLAdvertRepository {
	return &SQLAdvertRepository{db: db}
}

const advertColumns = "id, fullname, permalink, group_id, found_at, updated_at, posted_at"

// GetByFullname retrieves the advert recorded for a submission
func (r *SQLAdvertRepository) GetByFullname(fullname string) (*Advert, error) {
	advert, err := scanAdvert(r.db.QueryRow(`
		SELECT `+advertColumns+`
		FROM adverts
		WHERE fullname = ?
	`, fullname))
	if err != nil {
		return nil, fmt.Errorf("failed to get advert by fullname: %w", err)
	}
	return advert, nil
}

// GetByGroup retrieves every advert recorded for a group
func (r *SQLAdvertRepository) GetByGroup(groupID int64) ([]Advert, error) {
	rows, err := r.db.Query(`
		SELECT `+advertColumns+`
		FROM adverts
		WHERE group_id = ?
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get adverts by group: %w", err)
	}
	defer rows.Close()

	return collectAdverts(rows)
}

// Save records that a submission advertised a group. The fullname is unique
// for all time; a duplicate fails with ErrConstraintViolation.
func (r *SQLAdvertRepository) Save(fullname, permalink string, groupID int64, postedAt time.Time) (*Advert, error) {
	now := time.Now()
	res, err := r.db.Exec(`
		INSERT INTO adverts (fullname, permalink, group_id, found_at, updated_at, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fullname, permalink, groupID, now.Unix(), now.Unix(), postedAt.Unix())
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("advert %s already recorded: %w", fullname, ErrConstraintViolation)
		}
		return nil, fmt.Errorf("failed to save advert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get advert id: %w", err)
	}

	return &Advert{
		ID:        id,
		Fullname:  fullname,
		Permalink: permalink,
		GroupID:   groupID,
		FoundAt:   now,
		UpdatedAt: now,
		PostedAt:  postedAt,
	}, nil
}

// Touch sets the advert's updated_at to now
func (r *SQLAdvertRepository) Touch(id int64) error {
	if _, err := r.db.Exec(`UPDATE adverts SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to touch advert: %w", err)
	}
	return nil
}

// Delete removes the advert with the given id
func (r *SQLAdvertRepository) Delete(id int64) error {
	if _, err := r.db.Exec(`DELETE FROM adverts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete advert: %w", err)
	}
	return nil
}

// Prune deletes every advert whose posted_at is older than maxAge, then
// every group left with no adverts. Returns the number of rows deleted from
// each table.
func (r *SQLAdvertRepository) Prune(maxAge time.Duration) (int64, int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	res, err := r.db.Exec(`DELETE FROM adverts WHERE posted_at < ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune adverts: %w", err)
	}
	adverts, _ := res.RowsAffected()

	res, err = r.db.Exec(`DELETE FROM groups WHERE id NOT IN (SELECT group_id FROM adverts)`)
	if err != nil {
		return adverts, 0, fmt.Errorf("failed to prune groups: %w", err)
	}
	groups, _ := res.RowsAffected()

	return adverts, groups, nil
}

// GetCount returns the total number of adverts
func (r *SQLAdvertRepository) GetCount() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM adverts").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get advert count: %w", err)
	}
	return count, nil
}

// GetRecent returns the most recently updated adverts, newest first
func (r *SQLAdvertRepository) GetRecent(limit int) ([]Advert, error) {
	rows, err := r.db.Query(`
		SELECT `+advertColumns+`
		FROM adverts
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent adverts: %w", err)
	}
	defer rows.Close()

	return collectAdverts(rows)
}

func scanAdvert(row *sql.Row) (*Advert, error) {
	var advert Advert
	var foundAt, updatedAt, postedAt int64
	err := row.Scan(&advert.ID, &advert.Fullname, &advert.Permalink, &advert.GroupID,
		&foundAt, &updatedAt, &postedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	advert.FoundAt = time.Unix(foundAt, 0)
	advert.UpdatedAt = time.Unix(updatedAt, 0)
	advert.PostedAt = time.Unix(postedAt, 0)
	return &advert, nil
}

func collectAdverts(rows *sql.Rows) ([]Advert, error) {
	var adverts []Advert
	for rows.Next() {
		var advert Advert
		var foundAt, updatedAt, postedAt int64
		err := rows.Scan(&advert.ID, &advert.Fullname, &advert.Permalink, &advert.GroupID,
			&foundAt, &updatedAt, &postedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advert row: %w", err)
		}
		advert.FoundAt = time.Unix(foundAt, 0)
		advert.UpdatedAt = time.Unix(updatedAt, 0)
		advert.PostedAt = time.Unix(postedAt, 0)
		adverts = append(adverts, advert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating advert rows: %w", err)
	}

	return adverts, nil
}
