package app

import (
	"time"

	"ble-sensors.klederson.com/internal/history"
)

// TickMsg triggers a redraw so ages and statuses stay current.
type TickMsg time.Time

// PollMsg triggers a check of the latest-reading table.
type PollMsg time.Time

// HistoryLoadedMsg carries the result of an asynchronous history query.
type HistoryLoadedMsg struct {
	MAC    string
	Points []history.Point
	Err    error
}
