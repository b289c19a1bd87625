// ABOUTME: Ledger report: status totals and per-lead answers as Markdown or HTML
// ABOUTME: Markdown is converted with goldmark and wrapped in a minimal html/template page

package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coven-leads/internal/store"
)

// Source is what a report reads from the ledger.
type Source interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]*store.LeadRecord, error)
	CountLeadsByStatus(ctx context.Context) (map[store.LeadStatus]int, error)
}

// statusOrder fixes the row order of the summary table.
var statusOrder = []store.LeadStatus{
	store.LeadStatusPendingConsent,
	store.LeadStatusActive,
	store.LeadStatusFollowUpSent,
	store.LeadStatusSecured,
	store.LeadStatusDeclined,
}

// Report is a point-in-time view of the ledger.
type Report struct {
	GeneratedAt time.Time
	Counts      map[store.LeadStatus]int
	Total       int
	Leads       []*store.LeadRecord
	Fields      []string // answer columns, in question order
}

// ConversionRate is the share of recorded leads that reached secured.
func (r *Report) ConversionRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Counts[store.LeadStatusSecured]) / float64(r.Total)
}

// Build reads the ledger. fields names the answer columns to show; limit caps
// the number of lead rows (0 uses the ledger default).
func Build(ctx context.Context, src Source, fields []string, limit int, now time.Time) (*Report, error) {
	counts, err := src.CountLeadsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting leads: %w", err)
	}
	leads, err := src.ListLeads(ctx, store.LeadFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return &Report{
		GeneratedAt: now.UTC(),
		Counts:      counts,
		Total:       total,
		Leads:       leads,
		Fields:      fields,
	}, nil
}

// Markdown renders the report as GitHub-flavored Markdown.
func (r *Report) Markdown() []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Lead report\n\nGenerated %s.\n\n", r.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Summary\n\n| Status | Leads |\n|---|---:|\n")
	for _, status := range statusOrder {
		fmt.Fprintf(&b, "| %s | %d |\n", status, r.Counts[status])
	}
	fmt.Fprintf(&b, "| **total** | **%d** |\n\n", r.Total)
	fmt.Fprintf(&b, "Conversion rate: **%.1f%%**\n\n", r.ConversionRate()*100)

	b.WriteString("## Leads\n\n")
	if len(r.Leads) == 0 {
		b.WriteString("_No leads recorded yet._\n")
		return []byte(b.String())
	}

	b.WriteString("| Lead | Name | Status | Updated |")
	for _, f := range r.Fields {
		fmt.Fprintf(&b, " %s |", cell(f))
	}
	b.WriteString("\n|---|---|---|---|")
	for range r.Fields {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	for _, l := range r.Leads {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |",
			codeCell(l.LeadID),
			cell(l.Name),
			l.Status,
			l.LastUpdated.UTC().Format("2006-01-02 15:04"))
		for _, f := range r.Fields {
			fmt.Fprintf(&b, " %s |", cell(l.Answers[f]))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// cell escapes text for a Markdown table cell.
// codeCell prepares s for a code span inside a table cell. Backslashes are
// literal in code spans, but the table splits on any unescaped pipe first.
func codeCell(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	for _, ch := range []string{"*", "_", "`", "[", "]", "<", ">"} {
		s = strings.ReplaceAll(s, ch, "\\"+ch)
	}
	return s
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>coven-leads report</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 72rem; color: #222; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: .3rem .6rem; text-align: left; }
th { background: #f4f4f4; }
code { font-size: .9em; }
</style>
</head>
<body>
{{.}}
</body>
</html>
`))

// HTML renders the report Markdown into a standalone HTML page.
func (r *Report) HTML() ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert(r.Markdown(), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var out bytes.Buffer
	// goldmark drops raw HTML by default, so the converted body is safe to embed.
	if err := page.Execute(&out, template.HTML(body.String())); err != nil {
		return nil, fmt.Errorf("rendering report page: %w", err)
	}
	return out.Bytes(), nil
}
