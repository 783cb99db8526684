package downloader

import "github.com/tinoosan/preload/internal/data"

// Reporter receives the outcome of a strategy's Load.
type Reporter interface {
	Progress(fraction float64)
	Complete(typ data.Type, payload any)
	Error(message string)
}

// ChanReporter writes reports to a channel as Events.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Progress(fraction float64) {
	r.report(Event{Type: EventProgress, Progress: fraction})
}

func (r *ChanReporter) Complete(typ data.Type, payload any) {
	r.report(Event{Type: EventComplete, DataType: typ, Data: payload})
}

func (r *ChanReporter) Error(message string) {
	r.report(Event{Type: EventFailed, Message: message})
}

func (r *ChanReporter) report(e Event) {
	if r == nil {
		return
	}
	r.ch <- e
}
