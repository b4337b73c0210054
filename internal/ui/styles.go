package ui

import "github.com/charmbracelet/lipgloss"

// Semantic palette. Adaptive so tables stay legible on light and dark
// terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// RenderAccent styles s as a highlight when color is enabled.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles s as a success.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles s as a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles s as a failure.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted styles s as secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderStatus colors a run or backfill status string by outcome.
func RenderStatus(status string) string {
	switch status {
	case "SUCCESS", "COMPLETED":
		return RenderPass(status)
	case "FAILED":
		return RenderFail(status)
	case "CANCELLED", "RUNNING", "PENDING":
		return RenderWarn(status)
	default:
		return status
	}
}

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}
