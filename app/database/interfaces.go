package database

import (
	"time"
)

type GroupRepository interface {
	GetByExternalID(externalID string) (*Group, error)
	GetByID(id int64) (*Group, error)
	Save(name, externalID string) (*Group, error)
	GetCount() (int, error)
}

type AdvertRepository interface {
	GetByFullname(fullname string) (*Advert, error)
	GetByGroup(groupID int64) ([]Advert, error)
	Save(fullname, permalink string, groupID int64, postedAt time.Time) (*Advert, error)
	Touch(id int64) error
	Delete(id int64) error
	Prune(maxAge time.Duration) (adverts int64, groups int64, err error)
	GetCount() (int, error)
	GetRecent(limit int) ([]Advert, error)
}
