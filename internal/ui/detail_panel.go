package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ble-sensors.klederson.com/internal/sensor"
)

// RenderDetailPanel renders every field of the selected sensor next to the
// list, with its signal strength and temperature trend.
func RenderDetailPanel(row *SensorRow, unit sensor.TemperatureFormat, width, height int, now time.Time) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	title := StylePanelTitle.Render("SENSOR DETAIL")
	hint := StyleHelp.Render("[ENTER] history")
	titleLine := title + strings.Repeat(" ", max(0, innerW-lipgloss.Width(title)-lipgloss.Width(hint))) + hint
	sep := StyleSeparator.Render(strings.Repeat("-", innerW))

	lines := []string{titleLine, sep, ""}

	if row == nil {
		lines = append(lines, StyleHelp.Render("  No sensor selected"))
		return StylePanelActive.Width(width - 2).Height(height - 2).Render(strings.Join(lines, "\n"))
	}

	r := row.Reading
	labelSty := lipgloss.NewStyle().Foreground(ColorMidGreen)
	valSty := lipgloss.NewStyle().Foreground(ColorMatrixGreen).Bold(true)

	statusVal := valSty.Render(row.Status.String())
	switch row.Status {
	case sensor.StatusOffline:
		statusVal = StyleOffline.Bold(true).Render(row.Status.String())
	case sensor.StatusLowBattery:
		statusVal = StyleLowBattery.Bold(true).Render(row.Status.String())
	}

	fields := []struct{ label, value string }{
		{"Name", valSty.Render(r.DisplayName())},
		{"MAC", valSty.Render(r.MAC)},
		{"Status", statusVal},
		{"Temp", valSty.Render(formatTemperature(r.Temperature, unit))},
		{"Humidity", valSty.Render(fmt.Sprintf("%.2f %%", r.Humidity))},
		{"Pressure", valSty.Render(formatPressure(r.Pressure))},
		{"Battery", valSty.Render(formatBattery(r.BatteryMV))},
		{"TX power", valSty.Render(fmt.Sprintf("%d dBm", r.TxPower))},
		{"Accel", valSty.Render(fmt.Sprintf("%d/%d/%d mG", r.Acceleration.X, r.Acceleration.Y, r.Acceleration.Z))},
		{"Movement", valSty.Render(fmt.Sprintf("%d", r.MovementCounter))},
		{"Sequence", valSty.Render(fmt.Sprintf("%d", r.SequenceNumber))},
		{"Format", valSty.Render(fmt.Sprintf("%d", r.DataFormat))},
		{"Last", valSty.Render(formatLastSeen(r.CapturedAt, now))},
	}

	for _, f := range fields {
		lines = append(lines, labelSty.Render(fmt.Sprintf("  %-10s", f.label))+f.value)
	}

	lines = append(lines, "")

	if r.RSSI != 0 {
		barWidth := innerW - 22
		if barWidth < 10 {
			barWidth = 10
		}
		bar := renderSignalBar(float64(r.RSSI), barWidth)
		lines = append(lines, labelSty.Render("  Signal ")+bar+valSty.Render(fmt.Sprintf(" %ddBm", r.RSSI)))
		lines = append(lines, "")
	}

	if len(row.Trend) > 0 {
		sparkW := innerW - 4
		if sparkW < 10 {
			sparkW = 10
		}
		minV, maxV := bounds(row.Trend)
		lines = append(lines, labelSty.Render(fmt.Sprintf("  Temperature trend (%s .. %s):",
			formatTemperature(minV, unit), formatTemperature(maxV, unit))))
		lines = append(lines, "  "+StyleTemperature.Render(renderSparkline(row.Trend, sparkW)))
	}

	for len(lines) < height-2 {
		lines = append(lines, "")
	}
	if len(lines) > height-2 {
		lines = lines[:max(0, height-2)]
	}

	content := strings.Join(lines, "\n")
	return StylePanelActive.Width(width - 2).Height(height - 2).Render(content)
}

func renderSignalBar(rssi float64, width int) string {
	// Map RSSI -100..-30 to 0..width filled bars
	ratio := (rssi + 100.0) / 70.0
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(math.Round(ratio * float64(width)))

	bar := strings.Repeat("|", filled) + strings.Repeat("-", width-filled)
	filledPart := lipgloss.NewStyle().Foreground(lipgloss.Color(signalColor(rssi))).Render(bar[:filled])
	emptyPart := lipgloss.NewStyle().Foreground(ColorDimGreen).Render(bar[filled:])
	return StyleHelp.Render("[") + filledPart + emptyPart + StyleHelp.Render("]")
}

func signalColor(rssi float64) string {
	switch {
	case rssi > -50:
		return "#00FF41"
	case rssi > -60:
		return "#00CC33"
	case rssi > -70:
		return "#00AA22"
	case rssi > -80:
		return "#008F11"
	default:
		return "#005511"
	}
}

func bounds(values []float64) (float64, float64) {
	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return minV, maxV
}

// renderSparkline draws the last width values scaled between their min and
// max. Ranges narrower than 0.1 are widened so sensor noise stays flat.
func renderSparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}

	chars := []byte{'_', '.', '-', '~', '^'}

	start := 0
	if len(values) > width {
		start = len(values) - width
	}
	values = values[start:]

	minV, maxV := bounds(values)
	rng := maxV - minV
	if rng < 0.1 {
		rng = 0.1
	}

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(chars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		sb.WriteByte(chars[idx])
	}

	return sb.String()
}

func formatLastSeen(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
