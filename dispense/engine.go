package dispense

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
	"github.com/gisilves/ams-glue-dispenser-GUI/device"
	"github.com/gisilves/ams-glue-dispenser-GUI/gcode"
)

var (
	ErrAlreadyRunning = errors.New("transmission already running")
	ErrNoPoints       = errors.New("no toolpath points loaded")
	ErrBadRange       = errors.New("invalid point range")
	ErrAckTimeout     = errors.New("timed out waiting for ok")
)

// Status texts emitted through the observer. Consumers key UI and metric
// transitions off these exact strings.
const (
	StatusStarting   = "Starting G-code transmission"
	StatusFirstPoint = "First point reached"
	StatusStopped    = "Transmission stopped"
	StatusSentPrefix = "Sent: "
)

// Observer receives run progress. Calls are made from the transmitting
// goroutine; implementations must not block longer than they have to,
// with ConfirmFirstPoint the deliberate exception.
type Observer interface {
	Status(msg string)
	PointReached(p coord.Point)
	// ConfirmFirstPoint blocks until the operator has inspected the
	// needle position at the first point. Returning false aborts the run.
	ConfirmFirstPoint() bool
	Finished()
	Failed(err error)
}

// Range selects a closed interval of toolpath points by index.
type Range struct {
	First int
	Last  int
}

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeStopped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeStopped:
		return "stopped"
	case OutcomeFailed:
		return "failed"
	}
	return "none"
}

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultAckTimeout   = 30 * time.Second
)

// Engine drives a device.Link through a parsed program, one line at a
// time, waiting for the controller's ok after each.
type Engine struct {
	link device.Link
	obs  Observer

	// PollInterval paces pause/ack polling.
	PollInterval time.Duration
	// AckTimeout bounds how long a single line may wait for its ok.
	AckTimeout time.Duration

	mx      sync.Mutex
	running bool
}

func New(link device.Link, obs Observer) *Engine {
	return &Engine{
		link:         link,
		obs:          obs,
		PollInterval: defaultPollInterval,
		AckTimeout:   defaultAckTimeout,
	}
}

func (e *Engine) Running() bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.running
}

// acquire marks the engine busy. It fails rather than blocks so callers
// can surface the conflict immediately.
func (e *Engine) acquire() error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	return nil
}

func (e *Engine) release() {
	e.mx.Lock()
	e.running = false
	e.mx.Unlock()
}

// Run transmits the points rng selects from prog, preceded by the
// program's init lines and a forced G90. It blocks until the run ends,
// reporting progress through the observer and taking control input from
// sess. A nil sess gets a private one, leaving pause and stop unreachable.
// OutcomeNone means the run was rejected before any I/O.
func (e *Engine) Run(prog *gcode.Program, rng Range, sess *Session) (Outcome, error) {
	if prog == nil || len(prog.Points) == 0 {
		return OutcomeNone, ErrNoPoints
	}
	if rng.First < 0 || rng.Last >= len(prog.Points) || rng.First > rng.Last {
		return OutcomeNone, fmt.Errorf("%w: %d..%d of %d", ErrBadRange, rng.First, rng.Last, len(prog.Points))
	}
	if sess == nil {
		sess = NewSession()
	}
	if err := e.acquire(); err != nil {
		return OutcomeNone, err
	}
	defer e.release()

	sess.begin()
	defer sess.end()

	outcome, err := e.transmit(prog, rng, sess)
	switch outcome {
	case OutcomeCompleted:
		e.obs.Finished()
	case OutcomeStopped:
		e.obs.Status(StatusStopped)
	case OutcomeFailed:
		e.obs.Failed(err)
	}
	return outcome, err
}

func (e *Engine) transmit(prog *gcode.Program, rng Range, sess *Session) (Outcome, error) {
	e.obs.Status(StatusStarting)

	init := make([]string, 0, len(prog.Init)+1)
	init = append(init, prog.Init...)
	init = append(init, "G90")
	if err := e.sendLines(sess, init); err != nil {
		return OutcomeFailed, err
	}

	for i := rng.First; i <= rng.Last; i++ {
		if !sess.Sending() {
			return OutcomeStopped, nil
		}
		pt := prog.Points[i]
		if err := e.sendLines(sess, []string{pt.MoveCommand()}); err != nil {
			return OutcomeFailed, err
		}
		if i == rng.First && !e.checkpoint(sess) {
			return OutcomeStopped, nil
		}
		if err := e.sendLines(sess, pt.GlueLines); err != nil {
			return OutcomeFailed, err
		}
		if sess.Sending() {
			e.obs.PointReached(pt.Pos)
		}
	}
	if !sess.Sending() {
		return OutcomeStopped, nil
	}
	return OutcomeCompleted, nil
}

// checkpoint holds at the first point until the operator signs off on
// the needle position. A decline stops the run before any glue lines go
// out.
func (e *Engine) checkpoint(sess *Session) bool {
	e.obs.Status(StatusFirstPoint)
	sess.Pause()
	if !e.obs.ConfirmFirstPoint() {
		sess.Stop()
		return false
	}
	sess.Resume()
	return sess.Sending()
}

func (e *Engine) sendLines(sess *Session, lines []string) error {
	for _, line := range lines {
		for {
			if !sess.Sending() {
				return nil
			}
			if !sess.Paused() {
				break
			}
			time.Sleep(e.PollInterval)
		}
		if err := e.link.WriteLine(line); err != nil {
			return fmt.Errorf("write %q: %w", line, err)
		}
		e.obs.Status(StatusSentPrefix + line)
		if err := e.awaitAck(time.Now().Add(e.AckTimeout)); err != nil {
			return fmt.Errorf("await ack of %q: %w", line, err)
		}
	}
	return nil
}

// awaitAck reads until the controller answers ok. Read timeouts are
// retried until the deadline; anything else is fatal.
func (e *Engine) awaitAck(deadline time.Time) error {
	for {
		resp, err := e.link.ReadLine()
		if err != nil && !errors.Is(err, device.ErrReadTimeout) {
			return err
		}
		if strings.TrimSpace(resp) == device.Ack {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrAckTimeout
		}
		time.Sleep(e.PollInterval)
	}
}
