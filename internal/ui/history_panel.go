package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/sensor"
)

// HistoryView is what the history panel shows for one sensor.
type HistoryView struct {
	Name     string
	MAC      string
	Points   []history.Point
	Loading  bool
	Progress string
	Err      error
}

// RenderHistoryPanel renders the stored history of one sensor: summary
// figures, temperature and humidity sparklines over elapsed hours, and the
// most recent samples.
func RenderHistoryPanel(v HistoryView, unit sensor.TemperatureFormat, width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	title := StylePanelTitle.Render(fmt.Sprintf("HISTORY  %s  %s", v.Name, v.MAC))
	hint := StyleHelp.Render("[R] reload  [ESC]")
	titleLine := title + strings.Repeat(" ", max(0, innerW-lipgloss.Width(title)-lipgloss.Width(hint))) + hint
	sep := StyleSeparator.Render(strings.Repeat("-", innerW))

	lines := []string{titleLine, sep, ""}
	labelSty := lipgloss.NewStyle().Foreground(ColorMidGreen)
	valSty := lipgloss.NewStyle().Foreground(ColorMatrixGreen).Bold(true)

	switch {
	case v.Loading:
		progress := v.Progress
		if progress == "" {
			progress = "loading"
		}
		lines = append(lines, StyleHelp.Render("  "+progress+"..."))
	case v.Err != nil:
		lines = append(lines, StyleError.Render("  Failed to load history: "+v.Err.Error()))
	case len(v.Points) == 0:
		lines = append(lines, StyleHelp.Render("  No stored readings"))
	default:
		temps := make([]float64, len(v.Points))
		hums := make([]float64, len(v.Points))
		for i, p := range v.Points {
			temps[i] = p.Temperature
			hums[i] = p.Humidity
		}
		tMin, tMax := bounds(temps)
		hMin, hMax := bounds(hums)
		last := v.Points[len(v.Points)-1]

		lines = append(lines,
			labelSty.Render("  Records    ")+valSty.Render(fmt.Sprintf("%d", len(v.Points))),
			labelSty.Render("  Span       ")+valSty.Render(fmt.Sprintf("%.2f h", last.ElapsedHours())),
			labelSty.Render("  From       ")+valSty.Render(v.Points[0].CapturedAt.Local().Format("2006-01-02 15:04:05")),
			labelSty.Render("  To         ")+valSty.Render(last.CapturedAt.Local().Format("2006-01-02 15:04:05")),
			labelSty.Render("  Temp       ")+valSty.Render(fmt.Sprintf("%s .. %s  avg %s",
				formatTemperature(tMin, unit), formatTemperature(tMax, unit), formatTemperature(mean(temps), unit))),
			labelSty.Render("  Humidity   ")+valSty.Render(fmt.Sprintf("%.1f%% .. %.1f%%  avg %.1f%%", hMin, hMax, mean(hums))),
			"",
		)

		sparkW := min(innerW-4, config.HistoryBarWidth)
		lines = append(lines,
			labelSty.Render("  Temperature"),
			"  "+StyleTemperature.Render(renderSparkline(downsample(temps, sparkW), sparkW)),
			labelSty.Render("  Humidity"),
			"  "+StyleHumidity.Render(renderSparkline(downsample(hums, sparkW), sparkW)),
			"",
			StyleHelp.Render(fmt.Sprintf("  %10s  %12s  %10s", "HOURS", "TEMP", "HUMIDITY")),
		)

		room := height - 2 - len(lines)
		for i := len(v.Points) - 1; i >= 0 && room > 0; i-- {
			p := v.Points[i]
			lines = append(lines, StyleValue.Render(fmt.Sprintf("  %10.3f  %12s  %9.1f%%",
				p.ElapsedHours(), formatTemperature(p.Temperature, unit), p.Humidity)))
			room--
		}
	}

	for len(lines) < height-2 {
		lines = append(lines, "")
	}
	if len(lines) > height-2 {
		lines = lines[:max(0, height-2)]
	}

	return StylePanelActive.Width(width - 2).Height(height - 2).Render(strings.Join(lines, "\n"))
}

// downsample reduces values to at most n buckets by averaging.
func downsample(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		lo := i * len(values) / n
		hi := (i + 1) * len(values) / n
		out[i] = mean(values[lo:hi])
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
