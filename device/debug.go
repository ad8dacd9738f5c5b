package device

import (
	"log"
	"sync"
	"time"
)

// Debug is a stand-in link for dry runs with no device attached. Every
// write is logged and recorded, every read acknowledges.
type Debug struct {
	// Delay approximates a real controller's per-line pace.
	Delay time.Duration

	mx    sync.Mutex
	lines []string
}

func (d *Debug) WriteLine(line string) error {
	log.Printf("debug link: send: %s", line)
	if d.Delay > 0 {
		time.Sleep(d.Delay)
	}
	d.mx.Lock()
	d.lines = append(d.lines, line)
	d.mx.Unlock()
	return nil
}

func (d *Debug) ReadLine() (string, error) { return Ack, nil }

func (d *Debug) Close() error { return nil }

// Lines returns everything written so far.
func (d *Debug) Lines() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.lines...)
}
