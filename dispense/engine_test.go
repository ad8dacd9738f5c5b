package dispense

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
	"github.com/gisilves/ams-glue-dispenser-GUI/device"
	"github.com/gisilves/ams-glue-dispenser-GUI/gcode"
)

type reply struct {
	text string
	err  error
}

// fakeLink records written lines and serves queued replies, falling back
// to an ok once the queue drains.
type fakeLink struct {
	mx            sync.Mutex
	writes        []string
	queue         []reply
	reads         int
	failOn        string
	alwaysTimeout bool
}

func (l *fakeLink) WriteLine(line string) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.failOn != "" && line == l.failOn {
		return errors.New("port closed")
	}
	l.writes = append(l.writes, line)
	return nil
}

func (l *fakeLink) ReadLine() (string, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.reads++
	if l.alwaysTimeout {
		return "", device.ErrReadTimeout
	}
	if len(l.queue) > 0 {
		r := l.queue[0]
		l.queue = l.queue[1:]
		return r.text, r.err
	}
	return device.Ack, nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) lines() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string(nil), l.writes...)
}

func (l *fakeLink) readCount() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.reads
}

type recObserver struct {
	mx        sync.Mutex
	statuses  []string
	points    []coord.Point
	confirm   bool
	confirmed int
	finished  bool
	failed    error

	onStatus func(msg string)
	gate     chan struct{} // when set, ConfirmFirstPoint blocks on it
}

func newRecObserver() *recObserver { return &recObserver{confirm: true} }

func (o *recObserver) Status(msg string) {
	o.mx.Lock()
	o.statuses = append(o.statuses, msg)
	hook := o.onStatus
	o.mx.Unlock()
	if hook != nil {
		hook(msg)
	}
}

func (o *recObserver) PointReached(p coord.Point) {
	o.mx.Lock()
	o.points = append(o.points, p)
	o.mx.Unlock()
}

func (o *recObserver) ConfirmFirstPoint() bool {
	if o.gate != nil {
		<-o.gate
	}
	o.mx.Lock()
	defer o.mx.Unlock()
	o.confirmed++
	return o.confirm
}

func (o *recObserver) Finished() {
	o.mx.Lock()
	o.finished = true
	o.mx.Unlock()
}

func (o *recObserver) Failed(err error) {
	o.mx.Lock()
	o.failed = err
	o.mx.Unlock()
}

func (o *recObserver) status() []string {
	o.mx.Lock()
	defer o.mx.Unlock()
	return append([]string(nil), o.statuses...)
}

func (o *recObserver) pointsSeen() []coord.Point {
	o.mx.Lock()
	defer o.mx.Unlock()
	return append([]coord.Point(nil), o.points...)
}

func (o *recObserver) isFinished() bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.finished
}

func (o *recObserver) failedErr() error {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.failed
}

func testProgram() *gcode.Program {
	return &gcode.Program{
		Init: []string{
			"; Program initialization",
			"$X",
			"F1000",
			"; End of program initialization",
		},
		Points: []gcode.Point{
			{Pos: coord.Point{X: 10, Y: 20}, Mode: gcode.Rapid, GlueLines: []string{"M4", "M8", "M9", "M3"}},
			{Pos: coord.Point{X: 30, Y: 20}, Mode: gcode.Linear, GlueLines: []string{"M8", "M9"}},
		},
		Path:      []coord.Point{{}, {X: 10, Y: 20}, {X: 30, Y: 20}},
		MaxTravel: gcode.DefaultMaxTravel,
	}
}

func testEngine(link device.Link, obs Observer) *Engine {
	e := New(link, obs)
	e.PollInterval = time.Millisecond
	e.AckTimeout = 50 * time.Millisecond
	return e
}

func TestEngine_Run(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, NewSession())
	assert.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, []string{
		"; Program initialization",
		"$X",
		"F1000",
		"; End of program initialization",
		"G90",
		"G0 X10 Y20",
		"M4",
		"M8",
		"M9",
		"M3",
		"G1 X30 Y20",
		"M8",
		"M9",
	}, link.lines())

	assert.Equal(t, []string{
		"Starting G-code transmission",
		"Sent: ; Program initialization",
		"Sent: $X",
		"Sent: F1000",
		"Sent: ; End of program initialization",
		"Sent: G90",
		"Sent: G0 X10 Y20",
		"First point reached",
		"Sent: M4",
		"Sent: M8",
		"Sent: M9",
		"Sent: M3",
		"Sent: G1 X30 Y20",
		"Sent: M8",
		"Sent: M9",
	}, obs.status())

	assert.Equal(t, []coord.Point{{X: 10, Y: 20}, {X: 30, Y: 20}}, obs.pointsSeen())
	assert.Equal(t, 1, obs.confirmed)
	assert.True(t, obs.isFinished())
	assert.Nil(t, obs.failedErr())
	assert.False(t, e.Running())
}

func TestEngine_Run_Range(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)

	outcome, err := e.Run(testProgram(), Range{First: 1, Last: 1}, nil)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, []string{
		"; Program initialization",
		"$X",
		"F1000",
		"; End of program initialization",
		"G90",
		"G1 X30 Y20",
		"M8",
		"M9",
	}, link.lines())
	assert.Contains(t, obs.status(), "First point reached")
	assert.Equal(t, []coord.Point{{X: 30, Y: 20}}, obs.pointsSeen())
	assert.True(t, obs.isFinished())
}

func TestEngine_Run_NoPoints(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)

	outcome, err := e.Run(nil, Range{}, nil)
	assert.True(t, errors.Is(err, ErrNoPoints))
	assert.Equal(t, OutcomeNone, outcome)

	outcome, err = e.Run(&gcode.Program{}, Range{}, nil)
	assert.True(t, errors.Is(err, ErrNoPoints))
	assert.Equal(t, OutcomeNone, outcome)

	assert.Empty(t, link.lines())
	assert.Empty(t, obs.status())
}

func TestEngine_Run_BadRange(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)
	prog := testProgram()

	for _, rng := range []Range{
		{First: 1, Last: 0},
		{First: -1, Last: 1},
		{First: 0, Last: 2},
	} {
		outcome, err := e.Run(prog, rng, nil)
		assert.True(t, errors.Is(err, ErrBadRange), "range %+v", rng)
		assert.Equal(t, OutcomeNone, outcome)
	}
	assert.Empty(t, link.lines())
	assert.Equal(t, 0, link.readCount())
}

func TestEngine_Run_Busy(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	obs.gate = make(chan struct{})
	e := testEngine(link, obs)
	prog := testProgram()

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(prog, Range{First: 0, Last: 1}, NewSession())
		done <- err
	}()

	waitFor(t, func() bool { return e.Running() })
	outcome, err := e.Run(prog, Range{First: 0, Last: 1}, NewSession())
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, OutcomeNone, outcome)

	close(obs.gate)
	assert.NoError(t, <-done)
	assert.False(t, e.Running())
}

func TestEngine_Run_Stop(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)
	sess := NewSession()
	obs.onStatus = func(msg string) {
		if msg == "Sent: M4" {
			sess.Stop()
		}
	}

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, sess)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)

	got := link.lines()
	assert.Equal(t, "M4", got[len(got)-1])
	assert.NotContains(t, got, "G1 X30 Y20")
	assert.Empty(t, obs.pointsSeen())
	assert.False(t, obs.isFinished())
	assert.Contains(t, obs.status(), "Transmission stopped")
}

func TestEngine_Run_StopWhilePaused(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)
	sess := NewSession()
	obs.onStatus = func(msg string) {
		if msg != "Sent: M4" {
			return
		}
		sess.Pause()
		go func() {
			time.Sleep(10 * time.Millisecond)
			sess.Stop()
		}()
	}

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, sess)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)

	got := link.lines()
	assert.Equal(t, "M4", got[len(got)-1])
	assert.False(t, obs.isFinished())
	assert.Contains(t, obs.status(), "Transmission stopped")
	assert.False(t, sess.Paused())
}

func TestEngine_Run_PauseResume(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	e := testEngine(link, obs)
	sess := NewSession()

	pausedLines := make(chan []string, 1)
	obs.onStatus = func(msg string) {
		if msg != "Sent: M4" {
			return
		}
		sess.Pause()
		go func() {
			time.Sleep(20 * time.Millisecond)
			pausedLines <- link.lines()
			sess.Resume()
		}()
	}

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, sess)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.True(t, obs.isFinished())

	// Nothing went out while paused, and nothing was skipped after.
	assert.Equal(t, []string{
		"; Program initialization",
		"$X",
		"F1000",
		"; End of program initialization",
		"G90",
		"G0 X10 Y20",
		"M4",
	}, <-pausedLines)
	assert.Equal(t, []string{
		"; Program initialization",
		"$X",
		"F1000",
		"; End of program initialization",
		"G90",
		"G0 X10 Y20",
		"M4",
		"M8",
		"M9",
		"M3",
		"G1 X30 Y20",
		"M8",
		"M9",
	}, link.lines())
}

func TestEngine_Run_CheckpointDecline(t *testing.T) {
	link := &fakeLink{}
	obs := newRecObserver()
	obs.confirm = false
	e := testEngine(link, obs)

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, NewSession())
	assert.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)

	got := link.lines()
	assert.Equal(t, "G0 X10 Y20", got[len(got)-1])
	assert.NotContains(t, got, "M4")
	assert.Equal(t, 1, obs.confirmed)
	assert.False(t, obs.isFinished())
	assert.Contains(t, obs.status(), "First point reached")
	assert.Contains(t, obs.status(), "Transmission stopped")
}

func TestEngine_Run_WriteError(t *testing.T) {
	link := &fakeLink{failOn: "M8"}
	obs := newRecObserver()
	e := testEngine(link, obs)

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, NewSession())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, err.Error(), `write "M8"`)
	assert.Equal(t, err, obs.failedErr())
	assert.False(t, obs.isFinished())
	assert.False(t, e.Running())
}

func TestEngine_Run_AckTimeout(t *testing.T) {
	link := &fakeLink{alwaysTimeout: true}
	obs := newRecObserver()
	e := testEngine(link, obs)

	outcome, err := e.Run(testProgram(), Range{First: 0, Last: 1}, NewSession())
	assert.True(t, errors.Is(err, ErrAckTimeout))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.NotNil(t, obs.failedErr())
	assert.Equal(t, []string{"; Program initialization"}, link.lines())
}

func TestEngine_SendLines_AckOnSecondRead(t *testing.T) {
	link := &fakeLink{queue: []reply{
		{text: "", err: device.ErrReadTimeout},
		{text: device.Ack},
	}}
	obs := newRecObserver()
	e := testEngine(link, obs)
	sess := NewSession()
	sess.begin()
	defer sess.end()

	err := e.sendLines(sess, []string{"G0 X0 Y0"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"G0 X0 Y0"}, link.lines())
	assert.Equal(t, 2, link.readCount())
	assert.Equal(t, []string{"Sent: G0 X0 Y0"}, obs.status())
}

func TestEngine_AwaitAck_SkipsChatter(t *testing.T) {
	link := &fakeLink{queue: []reply{
		{text: "Grbl 1.1h ['$' for help]"},
		{text: "ok"},
	}}
	obs := newRecObserver()
	e := testEngine(link, obs)
	sess := NewSession()
	sess.begin()
	defer sess.end()

	err := e.sendLines(sess, []string{"$X"})
	assert.NoError(t, err)
	assert.Equal(t, 2, link.readCount())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "none", OutcomeNone.String())
	assert.Equal(t, "completed", OutcomeCompleted.String())
	assert.Equal(t, "stopped", OutcomeStopped.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
