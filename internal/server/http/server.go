// Package httpserver exposes the sharing and visibility operations over HTTP.
package httpserver

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cryptvault/internal/service"
)

// Server wires the propagation engine into gin handlers.
type Server struct {
	engine  *service.Engine
	signKey []byte
	log     *zap.Logger
}

// New constructs an HTTP server with injected dependencies.
func New(engine *service.Engine, signKey []byte, log *zap.Logger) *Server {
	return &Server{engine: engine, signKey: signKey, log: log}
}

// Router builds the gin engine with middleware and all API routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(Recover(s.log), Logging(s.log))

	api := r.Group("/api", Auth(s.signKey))

	items := api.Group("/items")
	items.POST("", s.createItem)
	items.GET("/:id/envelope", s.getEnvelope)
	items.PATCH("/:id", s.renameItem)
	items.POST("/:id/trash", s.trashSubtree)
	items.POST("/:id/restore", s.restoreSubtree)
	items.DELETE("/:id", s.permanentDelete)

	shares := api.Group("/shares")
	shares.POST("", s.share)
	shares.GET("/item/:id", s.listGrantsFor)
	shares.GET("/by-me", s.listSharedByMe)
	shares.GET("/with-me", s.listVisible)
	shares.GET("/trash", s.listTrash)
	shares.GET("/hidden", s.listHidden)
	shares.POST("/:id/trash", s.recipientTrash)
	shares.POST("/:id/restore", s.recipientRestore)
	shares.DELETE("/:id/purge", s.recipientPurge)
	shares.POST("/:id/hide", s.hideForever)
	shares.POST("/unhide", s.unhide)
	shares.DELETE("/:id/recipients/:recipient", s.unshare)
	shares.DELETE("/:id", s.unshareAll)

	return r
}
