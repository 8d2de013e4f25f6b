// Package report renders replicate summaries as Markdown and HTML.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/errors"
)

// Levels are the nominal levels at which rejection rates are tabulated
var Levels = []float64{0.01, 0.05, 0.1, 0.2}

// Markdown renders the run summary, the rejection-rate table and the
// null p-value deciles
func Markdown(s *selection.ReplicateSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Replicate run %s\n\n", s.RunID)
	fmt.Fprintf(&b, "- fingerprint: `%s`\n", core.Hash(s.Fingerprint).Short())
	fmt.Fprintf(&b, "- started: %s\n", s.StartedAt)
	fmt.Fprintf(&b, "- replicates: %d (%d targets skipped)\n", s.Replicates, s.Skipped)
	fmt.Fprintf(&b, "- null p-values: %d, mean %.4f, sd %.4f\n", len(s.Null), s.NullMean, s.NullStdDev)
	if s.Uniformity != nil {
		fmt.Fprintf(&b, "- uniformity: KS D %.4f, p %.4f\n", s.Uniformity.Statistic, s.Uniformity.PValue)
	}
	b.WriteString("\n## Rejection rates\n\n")
	b.WriteString("| level | null | alternative |\n|---|---|---|\n")
	for _, level := range Levels {
		fmt.Fprintf(&b, "| %.2f | %s | %s |\n", level, rate(s.Null, level), rate(s.Alternative, level))
	}

	if len(s.Null) > 0 {
		b.WriteString("\n## Null p-value deciles\n\n")
		b.WriteString("| percentile | p-value |\n|---|---|\n")
		for pct := 10.0; pct < 100; pct += 10 {
			v, err := stats.Percentile(stats.Float64Data(s.Null), pct)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "| %.0f | %.4f |\n", pct, v)
		}
	}

	if counts := skipReasons(s); len(counts) > 0 {
		b.WriteString("\n## Skipped targets\n\n")
		reasons := make([]string, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s: %d\n", r, counts[r])
		}
	}
	return b.String()
}

// HTML renders the Markdown report as a complete page
func HTML(s *selection.ReplicateSummary) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: "selinf run " + s.RunID.String(),
	})
	return markdown.ToHTML([]byte(Markdown(s)), p, renderer)
}

// Writer writes the report to a file, HTML for .html and .htm paths and
// Markdown otherwise
type Writer struct {
	path string
}

// NewWriter creates a report writer
func NewWriter(path string) *Writer { return &Writer{path: path} }

// WriteSummary renders and writes the report
func (w *Writer) WriteSummary(ctx context.Context, s *selection.ReplicateSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return errors.ExportError("report", fmt.Errorf("%w: nil summary", core.ErrInvalidInput))
	}
	var body []byte
	switch strings.ToLower(filepath.Ext(w.path)) {
	case ".html", ".htm":
		body = HTML(s)
	default:
		body = []byte(Markdown(s))
	}
	if err := os.WriteFile(w.path, body, 0o644); err != nil {
		return errors.ExportError("report", err)
	}
	return nil
}

func rate(ps []float64, level float64) string {
	if len(ps) == 0 {
		return "n/a"
	}
	n := 0
	for _, p := range ps {
		if p <= level {
			n++
		}
	}
	return fmt.Sprintf("%.3f", float64(n)/float64(len(ps)))
}

func skipReasons(s *selection.ReplicateSummary) map[string]int {
	counts := map[string]int{}
	for _, o := range s.Outcomes {
		for _, l := range o.Results {
			if l.Result == nil || l.Result.Usable() {
				continue
			}
			reason := string(l.Result.Reason)
			if reason == "" {
				reason = "unspecified"
			}
			counts[reason]++
		}
	}
	return counts
}
