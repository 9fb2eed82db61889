package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	knowledgerouter "github.com/compozy/policyrag/engine/infra/server/router/knowledge"
	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/uc"
	"github.com/compozy/policyrag/pkg/config"
	"github.com/compozy/policyrag/pkg/logger"
)

func runRoot(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer, error) {
	t.Helper()
	root := RootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{"--env-file="}, args...))
	err := root.ExecuteContext(context.Background())
	return root, out, err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policyrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should load the YAML file and attach the config to the command context", func(t *testing.T) {
		path := writeConfig(t, "knowledge:\n  namespace: plans-2026\n")
		root, _, err := runRoot(t, "reset", "--config", path)
		require.ErrorIs(t, err, errResetNotConfirmed)
		cmd, _, findErr := root.Find([]string{"reset"})
		require.NoError(t, findErr)
		cfg := config.FromContext(cmd.Context())
		require.NotNil(t, cfg)
		assert.Equal(t, "plans-2026", cfg.Knowledge.Namespace)
	})
	t.Run("Should let explicit flags override the config file", func(t *testing.T) {
		path := writeConfig(t, "knowledge:\n  namespace: from-file\nvector_db:\n  provider: memory\n")
		root, _, err := runRoot(t, "reset", "--config", path, "--namespace", "from-flag", "--vector-db", "chromem")
		require.ErrorIs(t, err, errResetNotConfirmed)
		cmd, _, findErr := root.Find([]string{"reset"})
		require.NoError(t, findErr)
		cfg := config.FromContext(cmd.Context())
		assert.Equal(t, "from-flag", cfg.Knowledge.Namespace)
		assert.Equal(t, "chromem", cfg.VectorDB.Provider)
	})
	t.Run("Should fail when the config file does not exist", func(t *testing.T) {
		_, _, err := runRoot(t, "reset", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, errResetNotConfirmed)
	})
	t.Run("Should reject env files outside the working directory", func(t *testing.T) {
		root := RootCmd()
		root.SetArgs([]string{"--env-file", "../../outside.env", "documents"})
		root.SetOut(&bytes.Buffer{})
		err := root.ExecuteContext(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside the working directory")
	})
}

func TestAskCmd(t *testing.T) {
	t.Run("Should reject a non-positive top-k", func(t *testing.T) {
		_, _, err := runRoot(t, "ask", "what is covered?", "--top-k", "0")
		require.Error(t, err)
	})
}

func TestDetectMode(t *testing.T) {
	t.Run("Should honour an explicit format flag", func(t *testing.T) {
		root := RootCmd()
		require.NoError(t, root.PersistentFlags().Set("format", "tui"))
		assert.Equal(t, ModeTUI, DetectMode(root))
		require.NoError(t, root.PersistentFlags().Set("format", "JSON"))
		assert.Equal(t, ModeJSON, DetectMode(root))
	})
	t.Run("Should fall back to JSON when stdout is not a terminal", func(t *testing.T) {
		// go test pipes stdout
		assert.Equal(t, ModeJSON, DetectMode(RootCmd()))
	})
}

func TestPrinter(t *testing.T) {
	uploaded := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	docs := []knowledge.Document{{
		ID:          "doc-1",
		Filename:    "gold-plan.pdf",
		UploadDate:  uploaded,
		NumPages:    12,
		Status:      knowledge.StatusCompleted,
		ChunksCount: 40,
	}}

	t.Run("Should print documents as JSON", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := &printer{out: out, mode: ModeJSON}
		require.NoError(t, p.documents(docs))
		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		require.Len(t, decoded, 1)
		assert.Equal(t, "gold-plan.pdf", decoded[0]["filename"])
		assert.EqualValues(t, 40, decoded[0]["chunks_count"])
	})
	t.Run("Should print citations in terminal mode", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := &printer{out: out, mode: ModeTUI}
		require.NoError(t, p.answer(&knowledge.AnswerResult{
			Answer:   "Physiotherapy is covered up to 20 sessions [Page 4].",
			Grounded: true,
			Citations: []knowledge.Citation{
				{PageNumber: 4, ChunkID: "c1", TextSnippet: "up to 20 sessions", RelevanceScore: 0.91},
			},
		}))
		assert.Contains(t, out.String(), "Physiotherapy is covered")
		assert.Contains(t, out.String(), "page 4")
		assert.Contains(t, out.String(), "up to 20 sessions")
		assert.NotContains(t, out.String(), "grounded answer")
	})
	t.Run("Should flag ungrounded answers in terminal mode", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := &printer{out: out, mode: ModeTUI}
		require.NoError(t, p.answer(&knowledge.AnswerResult{Answer: "No information found."}))
		assert.Contains(t, out.String(), "did not support a grounded answer")
	})
	t.Run("Should point to reconcile when an upload left gaps", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := &printer{out: out, mode: ModeTUI}
		require.NoError(t, p.upload(knowledgerouter.UploadResponse{
			Message:   "Successfully processed 1 documents",
			Documents: docs,
			Gaps: []knowledgerouter.GapDTO{
				{DocumentID: "doc-1", Filename: "gold-plan.pdf", ChunkIDs: []string{"a", "b"}, Reason: "db down"},
			},
		}))
		assert.Contains(t, out.String(), "2 vectors indexed without a metadata record (db down)")
	})
	t.Run("Should report reset counts", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := &printer{out: out, mode: ModeJSON}
		require.NoError(t, p.reset(&uc.ResetOutput{Documents: 3, Vectors: 120}))
		var decoded knowledgerouter.DeleteResponse
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, 3, decoded.Deleted)
		assert.Equal(t, 120, decoded.Vectors)
		assert.Equal(t, "Deleted 3 documents from database and cleared vector store", decoded.Message)
	})
}

func TestOutputError(t *testing.T) {
	t.Run("Should include the error kind in JSON mode", func(t *testing.T) {
		root := RootCmd()
		buf := &bytes.Buffer{}
		root.SetErr(buf)
		require.NoError(t, root.PersistentFlags().Set("format", "json"))
		err := fmt.Errorf("ask: %w", knowledge.NewEmbeddingError("embed query", errors.New("quota exceeded")))
		OutputError(root, err)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
		assert.Equal(t, string(knowledge.KindEmbedding), payload["kind"])
		assert.Contains(t, payload["error"], "quota exceeded")
	})
	t.Run("Should do nothing for a nil error", func(t *testing.T) {
		root := RootCmd()
		buf := &bytes.Buffer{}
		root.SetErr(buf)
		OutputError(root, nil)
		assert.Empty(t, buf.String())
	})
}

// syncBuffer lets the reload goroutine log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

func TestWatchConfig(t *testing.T) {
	t.Run("Should apply a new log level from an edited config file", func(t *testing.T) {
		path := writeConfig(t, "runtime:\n  log_level: error\n")
		manager := config.NewManager(config.NewService(config.WithEnviron(func() []string { return nil })))
		_, err := manager.Load(t.Context(), config.NewYAMLProvider(path))
		require.NoError(t, err)
		t.Cleanup(func() { _ = manager.Close(context.Background()) })
		buf := &syncBuffer{}
		log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: buf, TimeFormat: "15:04:05"})
		ctx := logger.ContextWithLogger(t.Context(), log)
		require.NoError(t, watchConfig(ctx, manager))

		require.NoError(t, os.WriteFile(path, []byte("runtime:\n  log_level: debug\n"), 0o600))
		require.Eventually(t, func() bool {
			return manager.Get().Runtime.LogLevel == "debug"
		}, 2*time.Second, 20*time.Millisecond)
		require.Eventually(t, func() bool {
			log.Debug("debug line after reload")
			return buf.Contains("debug line after reload")
		}, 2*time.Second, 20*time.Millisecond)
	})
}
