package knowledgerouter

import (
	"github.com/gin-gonic/gin"

	"github.com/compozy/policyrag/engine/infra/server/middleware/size"
)

// Register mounts the policy question answering routes on the API group.
func Register(api *gin.RouterGroup, svc Service, opts Options, maxUploadBytes int64) {
	h := newHandlers(svc, opts)
	api.GET("/", h.root)
	api.POST("/upload", size.BodySizeLimiter(maxUploadBytes), h.upload)
	api.POST("/query", h.query)
	api.GET("/documents", h.listDocuments)
	api.DELETE("/documents", h.deleteDocuments)
	api.POST("/reconcile", h.reconcile)
}
