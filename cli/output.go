package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	knowledgerouter "github.com/compozy/policyrag/engine/infra/server/router/knowledge"
	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
	"github.com/compozy/policyrag/engine/knowledge/uc"
)

type Mode string

// Output format constants
const (
	ModeJSON Mode = "json"
	ModeTUI  Mode = "tui"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// DetectMode honours --format, then falls back to JSON when stdout is not a
// terminal.
func DetectMode(cmd *cobra.Command) Mode {
	if f := cmd.Flag("format"); f != nil {
		switch strings.ToLower(f.Value.String()) {
		case string(ModeJSON):
			return ModeJSON
		case string(ModeTUI):
			return ModeTUI
		}
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return ModeJSON
	}
	return ModeTUI
}

type printer struct {
	out  io.Writer
	mode Mode
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), mode: DetectMode(cmd)}
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) answer(result *knowledge.AnswerResult) error {
	if p.mode == ModeJSON {
		return p.json(result)
	}
	fmt.Fprintln(p.out, titleStyle.Render("Answer"))
	fmt.Fprintln(p.out, result.Answer)
	if !result.Grounded {
		fmt.Fprintln(p.out, warnStyle.Render("The policy excerpts did not support a grounded answer."))
	}
	if len(result.Citations) == 0 {
		return nil
	}
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, titleStyle.Render("Citations"))
	for i, c := range result.Citations {
		fmt.Fprintf(p.out, "%d. page %d  %s\n", i+1, c.PageNumber, mutedStyle.Render(fmt.Sprintf("score %.3f", c.RelevanceScore)))
		fmt.Fprintf(p.out, "   %s\n", c.TextSnippet)
	}
	return nil
}

func (p *printer) documents(docs []knowledge.Document) error {
	if p.mode == ModeJSON {
		return p.json(docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(p.out, mutedStyle.Render("No documents indexed."))
		return nil
	}
	fmt.Fprintln(p.out, titleStyle.Render(fmt.Sprintf("%d documents", len(docs))))
	for _, d := range docs {
		fmt.Fprintf(p.out, "%s  %s  pages=%d chunks=%d  %s\n",
			d.ID, d.Filename, d.NumPages, d.ChunksCount,
			mutedStyle.Render(string(d.Status)+" "+d.UploadDate.Format("2006-01-02 15:04")))
	}
	return nil
}

func (p *printer) upload(resp knowledgerouter.UploadResponse) error {
	if p.mode == ModeJSON {
		return p.json(resp)
	}
	fmt.Fprintln(p.out, successStyle.Render(resp.Message))
	for _, d := range resp.Documents {
		fmt.Fprintf(p.out, "  %s  %s  pages=%d chunks=%d\n", d.ID, d.Filename, d.NumPages, d.ChunksCount)
	}
	for _, g := range resp.Gaps {
		fmt.Fprintln(p.out, warnStyle.Render(fmt.Sprintf(
			"  %s: %d vectors indexed without a metadata record (%s); run reconcile",
			g.Filename, len(g.ChunkIDs), g.Reason)))
	}
	return nil
}

func (p *printer) reset(out *uc.ResetOutput) error {
	resp := knowledgerouter.DeleteResponse{
		Message: fmt.Sprintf("Deleted %d documents from database and cleared vector store", out.Documents),
		Deleted: out.Documents,
		Vectors: out.Vectors,
	}
	if p.mode == ModeJSON {
		return p.json(resp)
	}
	fmt.Fprintln(p.out, successStyle.Render(resp.Message))
	return nil
}

func (p *printer) reconcile(report *ingest.ReconcileReport) error {
	if p.mode == ModeJSON {
		return p.json(report)
	}
	fmt.Fprintf(p.out, "resolved=%d rolled_back=%d pending=%d\n",
		len(report.Resolved), len(report.RolledBack), len(report.Pending))
	return nil
}

// OutputError writes err to stderr in the detected mode.
func OutputError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	w := cmd.ErrOrStderr()
	if DetectMode(cmd) == ModeJSON {
		payload := map[string]string{"error": err.Error()}
		if kind, ok := knowledge.KindOf(err); ok {
			payload["kind"] = string(kind)
		}
		enc := json.NewEncoder(w)
		_ = enc.Encode(payload)
		return
	}
	fmt.Fprintln(w, errorStyle.Render("Error: ")+err.Error())
}
