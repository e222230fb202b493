package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ble-sensors.klederson.com/internal/sensor"
)

// SensorRow is one line of the sensor list.
type SensorRow struct {
	Reading sensor.Reading
	Status  sensor.Status
	Trend   []float64 // recent temperatures, oldest first
}

// FilterState holds the current filter settings for the sensor list.
type FilterState struct {
	Search string // text search on name/MAC
	Active bool   // text input mode
}

// Matches reports whether r passes the text search.
func (f FilterState) Matches(r sensor.Reading) bool {
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(r.DisplayName()), q) || strings.Contains(r.MAC, q)
}

const (
	colName  = 16
	colTemp  = 9
	colHum   = 7
	colPress = 9
	colBatt  = 7
	colSeen  = 8
	// cursor + gaps between the fixed columns
	colFixed = 2 + colName + 1 + colTemp + 1 + colHum + 1 + colPress + 1 + colBatt + 1 + colSeen + 1
)

// RenderSensorList renders the sensor table panel with the cursor row
// highlighted and offline/low battery rows coloured. The header and filter
// bar stay fixed; only the rows scroll.
func RenderSensorList(rows []SensorRow, unit sensor.TemperatureFormat, width, height, cursorIndex int, filter FilterState, now time.Time) string {
	innerW := width - 4
	if innerW < colFixed {
		innerW = colFixed
	}

	title := StylePanelTitle.Render(fmt.Sprintf("SENSORS [%d]", len(rows)))
	separator := StyleSeparator.Render(strings.Repeat("-", innerW))
	header := StyleHelp.Render(truncRaw(fmt.Sprintf("  %-*s %*s %*s %*s %*s %*s %s",
		colName, "NAME",
		colTemp, "TEMP",
		colHum, "HUM",
		colPress, "PRESS",
		colBatt, "BATT",
		colSeen, "SEEN",
		"TREND"), innerW))
	headerLines := []string{title, renderFilterBar(filter), separator, header}
	headerCount := len(headerLines)

	innerH := height - 2
	if innerH < headerCount+1 {
		innerH = headerCount + 1
	}
	rowSpace := innerH - headerCount

	var rowLines []string
	if len(rows) == 0 {
		rowLines = append(rowLines, "")
		rowLines = append(rowLines, StyleHelp.Render(" No sensors..."))
		rowLines = append(rowLines, StyleHelp.Render(" Waiting for broadcasts"))
	} else {
		viewStart := 0
		if cursorIndex >= rowSpace {
			viewStart = cursorIndex - rowSpace + 1
		}
		for i := viewStart; i < len(rows) && len(rowLines) < rowSpace; i++ {
			rowLines = append(rowLines, renderSensorRow(rows[i], unit, innerW, i == cursorIndex, now))
		}
	}

	if len(rowLines) > rowSpace {
		rowLines = rowLines[:rowSpace]
	}
	for len(rowLines) < rowSpace {
		rowLines = append(rowLines, "")
	}

	all := make([]string, 0, innerH)
	all = append(all, headerLines...)
	all = append(all, rowLines...)

	content := strings.Join(all, "\n")
	rendered := StylePanelBorder.Width(width - 2).Height(innerH).Render(content)

	// lipgloss Height() only sets a minimum; it won't truncate overflow.
	return clampLines(rendered, height)
}

func renderSensorRow(row SensorRow, unit sensor.TemperatureFormat, maxW int, isCursor bool, now time.Time) string {
	r := row.Reading

	cursor := "  "
	if isCursor {
		cursor = "> "
	}

	trendW := maxW - colFixed
	trend := ""
	if trendW > 0 {
		trend = renderSparkline(row.Trend, trendW)
	}

	raw := fmt.Sprintf("%s%-*s %*s %*s %*s %*s %*s %s",
		cursor,
		colName, truncName(r.DisplayName(), colName),
		colTemp, formatTemperature(r.Temperature, unit),
		colHum, fmt.Sprintf("%.1f%%", r.Humidity),
		colPress, formatPressure(r.Pressure),
		colBatt, formatBattery(r.BatteryMV),
		colSeen, formatLastSeen(r.CapturedAt, now),
		trend)
	raw = truncRaw(raw, maxW)

	switch {
	case isCursor:
		return StyleCursorRow.Render(raw)
	case row.Status == sensor.StatusLowBattery:
		return StyleLowBattery.Render(raw)
	case row.Status == sensor.StatusOffline:
		return StyleOffline.Render(raw)
	}

	// Normal rows get per-column colours, so rebuild from the parts.
	return fmt.Sprintf("%s%s %s %s %s %s %s %s",
		cursor,
		StyleSensorName.Render(fmt.Sprintf("%-*s", colName, truncName(r.DisplayName(), colName))),
		StyleTemperature.Render(fmt.Sprintf("%*s", colTemp, formatTemperature(r.Temperature, unit))),
		StyleHumidity.Render(fmt.Sprintf("%*s", colHum, fmt.Sprintf("%.1f%%", r.Humidity))),
		StyleValue.Render(fmt.Sprintf("%*s", colPress, formatPressure(r.Pressure))),
		StyleValue.Render(fmt.Sprintf("%*s", colBatt, formatBattery(r.BatteryMV))),
		StyleHelp.Render(fmt.Sprintf("%*s", colSeen, formatLastSeen(r.CapturedAt, now))),
		lipgloss.NewStyle().Foreground(ColorGreen).Render(trend))
}

func formatTemperature(v float64, unit sensor.TemperatureFormat) string {
	return fmt.Sprintf("%.1f%s", v, unit.Suffix())
}

func formatPressure(hpa float64) string {
	if hpa == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1fhPa", hpa)
}

func formatBattery(mv int) string {
	if mv == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fV", float64(mv)/1000)
}

func truncName(s string, w int) string {
	r := []rune(s)
	if len(r) > w {
		return string(r[:w])
	}
	return s
}

// truncRaw pads or truncates a raw string to exactly w characters.
func truncRaw(s string, w int) string {
	r := []rune(s)
	if len(r) > w {
		return string(r[:w])
	}
	if len(r) < w {
		return s + strings.Repeat(" ", w-len(r))
	}
	return s
}

func clampLines(s string, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func renderFilterBar(f FilterState) string {
	switch {
	case f.Active:
		return " " + StyleMenuKey.Render("/"+f.Search+"_")
	case f.Search != "":
		return " " + StyleHelp.Render("/"+f.Search)
	default:
		return " " + StyleHelp.Render("[/] search")
	}
}
