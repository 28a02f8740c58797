// Package report renders aggregate reports for the terminal and exports
// them as JSON documents.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Veraticus/tally-reconcile/internal/cli"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// Renderer formats reports with locale-aware digit grouping.
type Renderer struct {
	candidates *model.CandidateSet
	printer    *message.Printer
}

// NewRenderer creates a renderer printing numbers for tag.
func NewRenderer(candidates *model.CandidateSet, tag language.Tag) *Renderer {
	return &Renderer{candidates: candidates, printer: message.NewPrinter(tag)}
}

// Number formats n with thousands separators.
func (r *Renderer) Number(n int64) string {
	return r.printer.Sprintf("%d", n)
}

var (
	labelCol = lipgloss.NewStyle().Width(28)
	partyCol = lipgloss.NewStyle().Width(16)
	countCol = lipgloss.NewStyle().Width(14).Align(lipgloss.Right)
)

// Report renders the candidate totals followed by the run summary and every
// box or cell that needs attention.
func (r *Renderer) Report(rep *model.AggregateReport) string {
	var b strings.Builder

	b.WriteString(cli.FormatTitle("Final tally"))
	b.WriteString("\n")
	b.WriteString(cli.TableHeaderStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Top, labelCol.Render("Candidate"), partyCol.Render("Party"), countCol.Render("Votes")),
	))
	b.WriteString("\n")

	for _, id := range r.totalIDs(rep) {
		name, party := r.describe(id)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			labelCol.Render(fmt.Sprintf("%s %s", id, name)),
			partyCol.Render(party),
			countCol.Render(r.Number(rep.Totals[id])),
		))
		b.WriteString("\n")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		labelCol.Render("Invalid"), partyCol.Render(""), countCol.Render(r.Number(rep.InvalidTotal)),
	))
	b.WriteString("\n\n")

	summary := []string{
		fmt.Sprintf("Boxes processed:   %s of %s", r.Number(int64(rep.BoxesProcessed)), r.Number(int64(rep.BoxesExpected))),
		fmt.Sprintf("Discrepancies:     %s", r.Number(int64(rep.DiscrepancyCount))),
		fmt.Sprintf("Machine total:     %s", r.Number(rep.MachineTotal)),
		fmt.Sprintf("Human total:       %s", r.Number(rep.HumanTotal)),
		fmt.Sprintf("Strategy:          %s", rep.Strategy),
		fmt.Sprintf("Generated at:      %s", rep.GeneratedAt.Format("2006-01-02 15:04:05 MST")),
	}
	b.WriteString(cli.RenderBox(cli.ChartIcon+" Summary", strings.Join(summary, "\n")))
	b.WriteString("\n")

	if len(rep.ExcludedBoxes) > 0 {
		b.WriteString("\n")
		b.WriteString(cli.FormatError(fmt.Sprintf("%d boxes excluded from the totals:", len(rep.ExcludedBoxes))))
		b.WriteString("\n")
		for _, ex := range rep.ExcludedBoxes {
			fmt.Fprintf(&b, "  %s (page %d): %s\n", ex.BoxID, ex.PageNumber, ex.Reason)
		}
	}

	if len(rep.MissingVerifications) > 0 {
		b.WriteString("\n")
		b.WriteString(cli.FormatWarning(fmt.Sprintf("%d cells without human verification, machine count used:", len(rep.MissingVerifications))))
		b.WriteString("\n")
		for _, ref := range rep.MissingVerifications {
			fmt.Fprintf(&b, "  %s %s\n", ref.BoxID, ref.CandidateID)
		}
	}

	if len(rep.LowConfidenceBoxes) > 0 {
		b.WriteString("\n")
		b.WriteString(cli.FormatWarning("Low recognition confidence: " + strings.Join(rep.LowConfidenceBoxes, ", ")))
		b.WriteString("\n")
	}
	if len(rep.SignatureShortfalls) > 0 {
		b.WriteString("\n")
		b.WriteString(cli.FormatWarning("Missing committee signatures: " + strings.Join(rep.SignatureShortfalls, ", ")))
		b.WriteString("\n")
	}

	if rep.Complete() {
		b.WriteString("\n")
		b.WriteString(cli.FormatSuccess("Every expected box is included in the totals"))
		b.WriteString("\n")
	}

	return b.String()
}

// Tallies renders the resolved counts of one box.
func (r *Renderer) Tallies(tallies []model.ResolvedTally) string {
	var b strings.Builder
	for _, t := range tallies {
		source := string(t.Source)
		switch {
		case t.MissingVerification:
			source = cli.WarningStyle.Render(source + " (unverified)")
		case t.Discrepant:
			source = cli.InfoStyle.Render(source)
		}
		fmt.Fprintf(&b, "%-8s %10s  machine %s  human %s  %s\n",
			t.CandidateID, r.Number(t.FinalCount), r.Number(t.MachineCount), r.Number(t.HumanCount), source)
		if t.Note != "" {
			b.WriteString(cli.SubtleStyle.Render("         " + t.Note))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Trail renders audit entries one per line.
func (r *Renderer) Trail(entries []model.AuditEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%4d  %s  %-8s %-9s %s\n",
			e.Seq, e.Timestamp.Format("15:04:05.000"), e.BoxID, e.Stage, e.Detail)
	}
	return b.String()
}

// Candidates renders the configured candidate table.
func (r *Renderer) Candidates() string {
	var b strings.Builder
	for _, id := range r.candidates.IDs() {
		c, _ := r.candidates.Get(id)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			labelCol.Render(fmt.Sprintf("%s %s", id, c.Name)),
			partyCol.Render(c.Party),
		))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) totalIDs(rep *model.AggregateReport) []model.CandidateID {
	ids := make([]model.CandidateID, 0, len(rep.Totals))
	for id := range rep.Totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Renderer) describe(id model.CandidateID) (string, string) {
	if r.candidates == nil {
		return "", ""
	}
	c, ok := r.candidates.Get(id)
	if !ok {
		return "(unconfigured)", ""
	}
	return c.Name, c.Party
}
