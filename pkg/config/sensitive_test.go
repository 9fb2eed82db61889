package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact non-empty values when printed", func(t *testing.T) {
		s := SensitiveString("gemini-key")
		assert.Equal(t, "[REDACTED]", s.String())
		assert.Equal(t, "gemini-key", s.Value())
	})
	t.Run("Should keep empty values empty", func(t *testing.T) {
		assert.Equal(t, "", SensitiveString("").String())
	})
	t.Run("Should marshal as redacted JSON", func(t *testing.T) {
		payload := struct {
			Key  SensitiveString `json:"key"`
			Name string          `json:"name"`
		}{Key: "secret", Name: "llm"}
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"[REDACTED]","name":"llm"}`, string(data))
	})
	t.Run("Should unmarshal raw values", func(t *testing.T) {
		var s SensitiveString
		require.NoError(t, json.Unmarshal([]byte(`"raw-secret"`), &s))
		assert.Equal(t, "raw-secret", s.Value())
	})
}
