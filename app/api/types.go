package api

import (
	"time"

	"github.com/discordservers/advert-sentry/app/database"
)

type Handler struct {
	groupRepo  database.GroupRepository
	advertRepo database.AdvertRepository
	version    string
	startedAt  time.Time
}
