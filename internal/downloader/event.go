package downloader

import "github.com/tinoosan/preload/internal/data"

// Event is one report from a strategy, as delivered by ChanReporter.
//
// Type indicates what kind of report it is. Complete and Failed are
// terminal; a strategy emits exactly one of them per Load.
type Event struct {
	Type     EventType
	Progress float64
	DataType data.Type
	Data     any
	Message  string
}

// EventType defines the set of reports strategies may emit.
type EventType string

const (
	EventProgress EventType = "Progress"
	EventComplete EventType = "Complete"
	EventFailed   EventType = "Failed"
)
