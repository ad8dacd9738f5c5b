package main

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"strings"
	"sync"

	sse "github.com/alexandrevicenzi/go-sse"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
	"github.com/gisilves/ams-glue-dispenser-GUI/dispense"
)

// event is one frame of the daemon's outbound stream, shared by the SSE
// channel and the websocket hub.
type event struct {
	Type    string       `json:"type"`
	Message string       `json:"message,omitempty"`
	Point   *coord.Point `json:"point,omitempty"`
}

// eventBus implements dispense.Observer. It fans engine progress out to
// the log, the SSE stream, websocket clients and metrics, and bridges
// first-point confirmations back into the blocked run.
type eventBus struct {
	sse *sse.Server
	hub *wsHub
	met *metrics

	mx       sync.Mutex
	status   string
	position coord.Point
	lastErr  string
	pending  chan bool
}

func newEventBus(hub *wsHub, met *metrics) *eventBus {
	return &eventBus{
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
		hub: hub,
		met: met,
	}
}

func (b *eventBus) Status(msg string) {
	log.Println(msg)
	b.mx.Lock()
	b.status = msg
	if msg == dispense.StatusStarting {
		b.lastErr = ""
	}
	b.mx.Unlock()

	switch {
	case msg == dispense.StatusStarting:
		b.met.sending.Set(1)
	case msg == dispense.StatusStopped:
		b.met.sending.Set(0)
		b.met.runs.WithLabelValues(dispense.OutcomeStopped.String()).Inc()
	case strings.HasPrefix(msg, dispense.StatusSentPrefix):
		b.met.linesSent.Inc()
	}
	b.push(event{Type: "status", Message: msg})
}

func (b *eventBus) PointReached(p coord.Point) {
	b.mx.Lock()
	b.position = p
	b.mx.Unlock()
	b.met.points.Inc()
	b.push(event{Type: "point", Point: &p})
}

// ConfirmFirstPoint blocks the run until Resolve answers. The stop
// handler resolves with false, so an abandoned checkpoint cannot wedge
// the daemon.
func (b *eventBus) ConfirmFirstPoint() bool {
	ch := make(chan bool, 1)
	b.mx.Lock()
	b.pending = ch
	b.mx.Unlock()
	b.push(event{Type: "checkpoint"})

	return <-ch
}

// Resolve answers a pending first-point checkpoint. It reports whether
// one was waiting.
func (b *eventBus) Resolve(ok bool) bool {
	b.mx.Lock()
	ch := b.pending
	b.pending = nil
	b.mx.Unlock()
	if ch == nil {
		return false
	}
	ch <- ok
	return true
}

func (b *eventBus) Finished() {
	const msg = "Finished sending G-code."
	log.Println(msg)
	b.mx.Lock()
	b.status = msg
	b.mx.Unlock()
	b.met.sending.Set(0)
	b.met.runs.WithLabelValues(dispense.OutcomeCompleted.String()).Inc()
	b.push(event{Type: "finished", Message: msg})
}

func (b *eventBus) Failed(err error) {
	log.Printf("ERROR: transmission: %+v", err)
	b.mx.Lock()
	b.status = "Transmission failed"
	b.lastErr = err.Error()
	b.mx.Unlock()
	b.met.sending.Set(0)
	b.met.runs.WithLabelValues(dispense.OutcomeFailed.String()).Inc()
	b.met.deviceErrors.Inc()
	b.push(event{Type: "failed", Message: err.Error()})
}

// Snapshot returns the last status text, the last reached position, the
// pending-checkpoint flag and the last failure message.
func (b *eventBus) Snapshot() (status string, pos coord.Point, awaiting bool, lastErr string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.status, b.position, b.pending != nil, b.lastErr
}

func (b *eventBus) push(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}
	b.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
	b.hub.Broadcast(data)
}
