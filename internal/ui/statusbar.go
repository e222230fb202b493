package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ble-sensors.klederson.com/internal/sensor"
)

// StatusCounts summarises the sensor list for the status bar.
type StatusCounts struct {
	Total      int
	Offline    int
	LowBattery int
}

// CountStatuses tallies rows by status.
func CountStatuses(rows []SensorRow) StatusCounts {
	c := StatusCounts{Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case sensor.StatusOffline:
			c.Offline++
		case sensor.StatusLowBattery:
			c.LowBattery++
		}
	}
	return c
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, live bool, counts StatusCounts, unit sensor.TemperatureFormat, note string) string {
	status := StyleStatusPaused.Render("[PAUSED]")
	if live {
		status = StyleStatusLive.Render("[LIVE]")
	}

	info := StyleStatusBar.Foreground(ColorGreen).Render(fmt.Sprintf(" Sensors: %d  Unit: %s ", counts.Total, unit.Suffix()))
	offline := fmt.Sprintf(" Offline: %d ", counts.Offline)
	if counts.Offline > 0 {
		offline = StyleStatusBar.Foreground(ColorError).Render(offline)
	} else {
		offline = StyleStatusBar.Foreground(ColorGreen).Render(offline)
	}
	lowBatt := fmt.Sprintf(" Low battery: %d ", counts.LowBattery)
	if counts.LowBattery > 0 {
		lowBatt = StyleStatusBar.Foreground(ColorWarning).Render(lowBatt)
	} else {
		lowBatt = StyleStatusBar.Foreground(ColorGreen).Render(lowBatt)
	}

	content := status + info + offline + lowBatt
	if note != "" {
		content += StyleStatusBar.Foreground(ColorMidGreen).Render(" " + note)
	}

	gap := width - lipgloss.Width(content)
	if gap < 0 {
		gap = 0
	}

	return StyleStatusBar.Width(width).Render(content + strings.Repeat(" ", gap))
}
