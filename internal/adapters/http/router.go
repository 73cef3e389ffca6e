// Package http exposes the local control API the UI layer drives the call
// core with.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ankur-the-analyst/nexis/internal/call"
	"github.com/ankur-the-analyst/nexis/internal/config"
	"github.com/ankur-the-analyst/nexis/internal/core"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, mgr *call.Manager) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("NexisSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api/call")

	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Snapshot())
	})

	api.POST("/start", func(c *gin.Context) {
		var req struct {
			RecipientID  domain.UserID   `json:"recipient_id"`
			RecipientIDs []domain.UserID `json:"recipient_ids"`
			Video        bool            `json:"video"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ids := req.RecipientIDs
		if req.RecipientID != "" {
			ids = append(ids, req.RecipientID)
		}
		if len(ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing recipient"})
			return
		}
		if err := mgr.StartGroupCall(ids, req.Video); err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ringing"})
	})

	api.POST("/accept", func(c *gin.Context) {
		if err := mgr.AcceptIncomingCall(); err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	})

	api.POST("/reject", func(c *gin.Context) {
		if err := mgr.RejectIncomingCall(); err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	})

	api.POST("/add", func(c *gin.Context) {
		var req struct {
			RecipientID domain.UserID `json:"recipient_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.RecipientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing recipient_id"})
			return
		}
		if err := mgr.AddToCall(req.RecipientID); err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "invited"})
	})

	api.POST("/hangup", func(c *gin.Context) {
		if err := mgr.EndCall(); err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "hung_up"})
	})

	api.POST("/toggle-audio", func(c *gin.Context) {
		muted, err := mgr.ToggleTrack("audio")
		if err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"muted": muted})
	})

	api.POST("/toggle-video", func(c *gin.Context) {
		disabled, err := mgr.ToggleTrack("video")
		if err != nil {
			callError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"disabled": disabled})
	})

	return r
}

func callError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNoActiveCall), errors.Is(err, core.ErrNoPendingInvite):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrMediaUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
