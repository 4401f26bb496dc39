package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"embedwrap/internal/classify"
	"embedwrap/internal/media"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <url>...",
	Short: "Show how links would be classified",
	Args:  cobra.MinimumNArgs(1),
	RunE:  classifyRun,
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	kindStyles  = map[media.Kind]lipgloss.Style{
		media.Generic:             lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		media.DirectVideoFile:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		media.KnownVideoPlatform:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		media.LocalCrossReference: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	}
)

func classifyRun(cmd *cobra.Command, args []string) error {
	c, err := classify.New(cfg.ExtraMediaPatterns)
	if err != nil {
		return fmt.Errorf("building classifier: %w", err)
	}

	origin := pageURL()

	rows := [][]string{{"URL", "KIND", "PROVIDER", "ID", "RULE"}}
	kinds := []media.Kind{media.Generic}
	for _, raw := range args {
		cl := c.Classify(raw, origin)
		rows = append(rows, []string{raw, cl.Kind.String(), cl.Provider.String(), cl.ID, cl.Rule})
		kinds = append(kinds, cl.Kind)
	}

	fmt.Fprint(cmd.OutOrStdout(), renderTable(rows, kinds))
	return nil
}

// renderTable lays rows out in aligned columns; the first row is the header
// and kinds[i] colours the KIND cell of row i.
func renderTable(rows [][]string, kinds []media.Kind) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + 2)
			switch {
			case r == 0:
				cell = headerStyle.Render(cell)
			case i == 1:
				cell = kindStyles[kinds[r]].Render(cell)
			}
			cells[i] = style.Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
		b.WriteByte('\n')
	}
	return b.String()
}
