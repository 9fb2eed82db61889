package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutes(t *testing.T) {
	t.Run("Should build default paths", func(t *testing.T) {
		SetBase("")
		assert.Equal(t, "/api/v0", Base())
		assert.Equal(t, "/api/v0/upload", Upload())
		assert.Equal(t, "/api/v0/query", Query())
		assert.Equal(t, "/api/v0/documents", Documents())
		assert.Equal(t, "/api/v0/reconcile", Reconcile())
		assert.Equal(t, "/api/v0/health", Health())
	})
	t.Run("Should normalize custom base", func(t *testing.T) {
		t.Cleanup(func() { SetBase("") })
		SetBase("api/v1/")
		assert.Equal(t, "/api/v1", Base())
		assert.Equal(t, "/api/v1/query", Query())
	})
}
