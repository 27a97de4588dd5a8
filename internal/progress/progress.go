// Package progress provides a unified interface for reporting file transfer
// progress across an interactive terminal and the internal event bus.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/ringbackup/sidecar/internal/events"
)

// Reporter is the interface for reporting progress on a single file transfer.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress implements Reporter using a terminal progress bar.
type CLIProgress struct {
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new terminal progress reporter.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{}
}

func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// BusProgress implements Reporter by publishing transfer progress onto the
// internal event bus, for a single remote key, so a status surface (or a
// metrics collector) can observe transfer progress without holding a direct
// reference to the transfer goroutine doing the work.
type BusProgress struct {
	bus       *events.Bus
	remoteKey string
	total     int64
}

// NewBusProgress creates a Reporter that reports progress for remoteKey onto bus.
func NewBusProgress(bus *events.Bus, remoteKey string) *BusProgress {
	return &BusProgress{bus: bus, remoteKey: remoteKey}
}

func (p *BusProgress) Start(total int64, description string) {
	p.total = total
	p.publish(0)
}

func (p *BusProgress) Update(current int64) {
	p.publish(current)
}

func (p *BusProgress) Finish() {
	p.publish(p.total)
}

func (p *BusProgress) Error(err error) {
	if err == nil || p.bus == nil {
		return
	}
	p.bus.Publish(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferFailed},
		RemoteKey: p.remoteKey,
		Error:     err,
	})
}

func (p *BusProgress) SetDescription(string) {}

func (p *BusProgress) publish(current int64) {
	if p.bus == nil {
		return
	}
	var fraction float64
	if p.total > 0 {
		fraction = float64(current) / float64(p.total)
	}
	p.bus.Publish(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferProgress},
		RemoteKey: p.remoteKey,
		Progress:  fraction,
	})
}

// NoOpProgress is a Reporter that does nothing.
type NoOpProgress struct{}

func NewNoOpProgress() *NoOpProgress { return &NoOpProgress{} }

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                                {}
func (p *NoOpProgress) Error(err error)                        {}
func (p *NoOpProgress) SetDescription(desc string)             {}

// ProgressReader wraps an io.Reader, reporting bytes read to a Reporter as
// the underlying transfer progresses.
type ProgressReader struct {
	reader   io.Reader
	reporter Reporter
	total    int64
	current  int64
}

// NewProgressReader wraps reader, reporting progress against total bytes.
func NewProgressReader(reader io.Reader, total int64, reporter Reporter) *ProgressReader {
	return &ProgressReader{reader: reader, reporter: reporter, total: total}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	return n, err
}
