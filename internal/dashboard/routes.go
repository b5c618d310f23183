package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/models"
)

// defaultListLimit caps list endpoints unless a smaller limit is requested.
const defaultListLimit = 50

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, store *db.Store) {
	router.GET("/healthz", handleHealthz(store))

	api := router.Group("/api")
	api.GET("/masters", handleMasters(store))
	api.GET("/schedulers", handleSchedulers(store))
	api.GET("/changes", handleChanges(store))
	api.GET("/buildsets", handleBuildsets(store))
	api.GET("/buildsets/:id", handleBuildsetDetail(store))
}

func handleHealthz(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleMasters(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		masters, err := store.ActiveMasters()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]gin.H, 0, len(masters))
		for _, m := range masters {
			rows = append(rows, gin.H{
				"id":            m.ID,
				"name":          m.Name,
				"identity":      m.Identity,
				"last_activity": m.LastActivity,
			})
		}
		c.JSON(http.StatusOK, gin.H{"masters": rows})
	}
}

func handleSchedulers(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := SchedulerSummary(store)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"schedulers": rows})
	}
}

func handleChanges(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		changes, err := store.RecentChanges(listLimit(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]gin.H, 0, len(changes))
		for _, ch := range changes {
			branch := interface{}(nil)
			if ch.Branch.Valid {
				branch = ch.Branch.String
			}
			rows = append(rows, gin.H{
				"id":         ch.ID,
				"author":     ch.Author,
				"revision":   ch.Revision,
				"branch":     branch,
				"codebase":   ch.Codebase,
				"repository": ch.Repository,
				"project":    ch.Project,
				"category":   ch.Category,
				"comments":   ch.Comments,
				"when":       ch.When,
				"files":      ch.Files,
			})
		}
		c.JSON(http.StatusOK, gin.H{"changes": rows})
	}
}

func handleBuildsets(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sets, err := store.RecentBuildsets(listLimit(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]gin.H, 0, len(sets))
		for _, bs := range sets {
			rows = append(rows, buildsetRow(bs))
		}
		c.JSON(http.StatusOK, gin.H{"buildsets": rows})
	}
}

func handleBuildsetDetail(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buildset id"})
			return
		}
		bs, err := store.GetBuildset(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		stamps, err := store.SourceStampsForBuildset(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		row := buildsetRow(*bs)
		ssRows := make([]gin.H, 0, len(stamps))
		for _, ss := range stamps {
			branch := interface{}(nil)
			if ss.Branch.Valid {
				branch = ss.Branch.String
			}
			revision := interface{}(nil)
			if ss.Revision.Valid {
				revision = ss.Revision.String
			}
			ssRows = append(ssRows, gin.H{
				"codebase":   ss.Codebase,
				"repository": ss.Repository,
				"branch":     branch,
				"revision":   revision,
				"project":    ss.Project,
				"has_patch":  ss.PatchID != nil,
			})
		}
		row["sourcestamps"] = ssRows
		c.JSON(http.StatusOK, row)
	}
}

func buildsetRow(bs models.Buildset) gin.H {
	externalID := interface{}(nil)
	if bs.ExternalIDString.Valid {
		externalID = bs.ExternalIDString.String
	}
	return gin.H{
		"id":          bs.ID,
		"reason":      bs.Reason,
		"complete":    bs.Complete,
		"results":     bs.Results,
		"priority":    bs.Priority,
		"external_id": externalID,
		"created_at":  bs.CreatedAt,
	}
}

func listLimit(c *gin.Context) int {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < defaultListLimit {
			limit = n
		}
	}
	return limit
}
