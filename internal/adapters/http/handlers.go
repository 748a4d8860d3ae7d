package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rebenew/musync/internal/core"
	"github.com/rebenew/musync/internal/domain"
	"github.com/rebenew/musync/internal/registry"
)

// registerRoomRoutes mounts the §6.2 REST admin surface. It is a thin
// adapter over RoomRegistry/Room: no independent state, no business
// logic beyond request decoding and response encoding.
func registerRoomRoutes(api *gin.RouterGroup, reg *registry.Registry) {
	rooms := api.Group("/rooms")

	rooms.POST("", func(c *gin.Context) {
		var body struct {
			HostID string `json:"hostId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hostId is required"})
			return
		}
		roomID := domain.RoomID(uuid.NewString())
		if _, err := reg.Create(roomID, domain.SenderID(body.HostID)); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, registry.ErrInvalidID) {
				status = http.StatusBadRequest
			} else if errors.Is(err, registry.ErrRoomExists) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"roomId": string(roomID)})
	})

	rooms.GET("", func(c *gin.Context) {
		snaps := reg.IterSnapshot()
		out := make([]gin.H, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, snapshotSummary(s))
		}
		c.JSON(http.StatusOK, gin.H{"rooms": out})
	})

	rooms.GET("/:id", func(c *gin.Context) {
		room, ok := reg.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, snapshotSummary(room.Snapshot()))
	})

	rooms.DELETE("/:id", func(c *gin.Context) {
		callerID := c.Query("callerId")
		if callerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "callerId is required"})
			return
		}
		if ok := reg.Delete(domain.RoomID(c.Param("id")), domain.SenderID(callerID)); !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	rooms.GET("/:id/playlist", func(c *gin.Context) {
		room, ok := reg.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		snap := room.Snapshot()
		c.JSON(http.StatusOK, gin.H{"tracks": snap.Queue, "nowPlayingIndex": snap.NowPlayingIndex})
	})

	rooms.GET("/:id/playback", func(c *gin.Context) {
		room, ok := reg.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		snap := room.Snapshot()
		body := gin.H{
			"state":           snap.State.String(),
			"nowPlayingIndex": snap.NowPlayingIndex,
			"positionMs":      snap.PositionMs,
		}
		if track, ok := snap.CurrentTrack(); ok {
			body["currentTrack"] = track
		}
		c.JSON(http.StatusOK, body)
	})

	rooms.PATCH("/:id/settings", func(c *gin.Context) {
		room, ok := reg.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		var body struct {
			CallerID             string `json:"callerId" binding:"required"`
			AllowGuestsControl   *bool  `json:"allowGuestsControl"`
			AllowGuestsEditQueue *bool  `json:"allowGuestsEditQueue"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "callerId is required"})
			return
		}
		ok2, rsn := room.UpdateSettings(domain.SenderID(body.CallerID), body.AllowGuestsControl, body.AllowGuestsEditQueue)
		if !ok2 {
			c.JSON(http.StatusForbidden, gin.H{"error": string(rsn)})
			return
		}
		c.JSON(http.StatusOK, snapshotSummary(room.Snapshot()))
	})
}

func snapshotSummary(s core.Snapshot) gin.H {
	return gin.H{
		"roomId":               string(s.RoomID),
		"hostId":                string(s.HostID),
		"state":                s.State.String(),
		"allowGuestsControl":   s.AllowGuestsControl,
		"allowGuestsEditQueue": s.AllowGuestsEditQueue,
		"memberCount":          s.MemberCount,
		"nowPlayingIndex":      s.NowPlayingIndex,
		"createdAt":            s.CreatedAtMs,
	}
}
