package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ble-sensors.klederson.com/internal/config"
)

// RenderMenuBar renders the top menu bar. source names the data source, e.g.
// "BLE" or "DEMO".
func RenderMenuBar(width int, source string, live bool) string {
	title := fmt.Sprintf(" %s v%s ", config.AppName, config.AppVersion)

	keys := []struct{ key, label string }{
		{"ENTER", "History"},
		{"P", "ause"},
		{"/", "Search"},
		{"Q", "uit"},
	}

	menu := ""
	for _, k := range keys {
		menu += "  " + StyleMenuKey.Render("["+k.key+"]") + StyleMenuLabel.Render(k.label)
	}

	status := StyleStatusPaused.Render("PAUSED")
	if live {
		status = StyleStatusLive.Render("LIVE")
	}

	sourceInfo := StyleMenuLabel.Render(fmt.Sprintf("Source: %s", source))

	left := StyleMenuKey.Render(title) + menu
	right := status + "  " + sourceInfo + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	return StyleMenuBar.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}
