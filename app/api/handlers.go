package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/discordservers/advert-sentry/app/database"
)

func NewHandler(groupRepo database.GroupRepository, advertRepo database.AdvertRepository, version string) *Handler {
	return &Handler{
		groupRepo:  groupRepo,
		advertRepo: advertRepo,
		version:    version,
		startedAt:  time.Now(),
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
		"uptime":    time.Since(h.startedAt).Truncate(time.Second).String(),
	}

	if groupCount, err := h.groupRepo.GetCount(); err == nil {
		health["groups"] = groupCount
	}
	if advertCount, err := h.advertRepo.GetCount(); err == nil {
		health["adverts"] = advertCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	groupCount, err := h.groupRepo.GetCount()
	if err != nil {
		slog.Error("Database error", "operation", "group_count", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	advertCount, err := h.advertRepo.GetCount()
	if err != nil {
		slog.Error("Database error", "operation", "advert_count", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups":  groupCount,
		"adverts": advertCount,
	})
}

func (h *Handler) APIListAdverts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}

	adverts, err := h.advertRepo.GetRecent(limit)
	if err != nil {
		slog.Error("Database error", "operation", "recent_adverts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	out := make([]map[string]interface{}, 0, len(adverts))
	for _, a := range adverts {
		entry := map[string]interface{}{
			"fullname":   a.Fullname,
			"permalink":  a.Permalink,
			"found_at":   a.FoundAt,
			"updated_at": a.UpdatedAt,
			"posted_at":  a.PostedAt,
		}
		if group, err := h.groupRepo.GetByID(a.GroupID); err == nil && group != nil {
			entry["group_name"] = group.Name
			entry["group_external_id"] = group.ExternalID
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"adverts": out,
		"total":   len(out),
	})
}
