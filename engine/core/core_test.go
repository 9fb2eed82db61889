package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMap(t *testing.T) {
	t.Run("Should clone without aliasing", func(t *testing.T) {
		src := map[string]any{"page_number": 1}
		dst := CloneMap(src)
		dst["page_number"] = 2
		assert.Equal(t, 1, src["page_number"])
	})
	t.Run("Should keep nil as nil", func(t *testing.T) {
		assert.Nil(t, CloneMap[string, any](nil))
	})
}
