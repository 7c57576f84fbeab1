package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	counselorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type exchange struct {
	question string
	answer   string
	sources  []string
}

// renderer turns the transcript into terminal text, rendering answers as
// markdown.
type renderer struct {
	markdown *glamour.TermRenderer
	width    int
}

func newRenderer(width int) *renderer {
	md, _ := glamour.NewTermRenderer(
		glamour.WithStylePath("dracula"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	return &renderer{markdown: md, width: width}
}

func (r *renderer) markdownText(content string) string {
	if r.markdown == nil {
		return content
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(out)
}

func (r *renderer) transcript(exchanges []exchange) string {
	if len(exchanges) == 0 {
		return "Ask about the job postings, e.g. \"Which companies are hiring data scientists?\""
	}

	parts := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		var sb strings.Builder
		sb.WriteString(userStyle.Render("You:") + " " + ex.question + "\n")
		sb.WriteString(counselorStyle.Render("Counselor:") + "\n")
		sb.WriteString(r.markdownText(ex.answer))
		if len(ex.sources) > 0 {
			sb.WriteString("\n" + sourceStyle.Render("Sources: "+strings.Join(ex.sources, "; ")))
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}
