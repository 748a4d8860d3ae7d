// Package http wires the gin.Engine: the WebSocket upgrade route that
// hands off to the gateway, and the REST admin surface over the
// RoomRegistry, following the teacher's SetupRouter/ClientTokenMiddleware
// pattern.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rebenew/musync/internal/config"
	"github.com/rebenew/musync/internal/gateway"
	"github.com/rebenew/musync/internal/registry"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware stamps a stable opaque browser identity onto
// every request, reused across reconnects via a cookie. This is not
// authentication — sender ids are still opaque to the core.
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

// SetupRouter builds the gin.Engine exposing the WebSocket endpoint and
// the §6.2 REST admin surface.
func SetupRouter(ctx context.Context, cfg *config.Config, reg *registry.Registry, gw *gateway.Gateway) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("musyncSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")
	registerRoomRoutes(api, reg)

	api.GET("/ws/sync", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws sync endpoint hit")
		gw.ServeWS(ctx, c)
	})

	return r
}
