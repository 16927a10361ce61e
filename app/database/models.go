package database

import (
	"time"
)

// Group is the internal record of one external community, keyed by the
// platform's stable identifier. Created the first time a valid advert for it
// is seen, never updated, deleted only via pruning.
type Group struct {
	ID         int64
	Name       string // Display name; may contain unprintable characters
	ExternalID string // The platform's stable community id (dgroup_id)
	CreatedAt  time.Time
}

// Advert records that one submission advertised one group at one point in
// time. PostedAt is the submission's own creation time, authoritative for
// cooldown math, and immutable once set.
type Advert struct {
	ID        int64
	Fullname  string // Platform-unique submission identifier (e.g. t3_asdf)
	Permalink string
	GroupID   int64
	FoundAt   time.Time
	UpdatedAt time.Time
	PostedAt  time.Time
}
