package dispense

import (
	"errors"
	"fmt"
	"time"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
	"github.com/gisilves/ams-glue-dispenser-GUI/gcode"
)

var ErrNoPath = errors.New("no coordinates loaded")

// Commander issues one-shot device commands outside a transmission run.
// Commands share the engine's busy flag, so they are rejected while a
// run is in progress and vice versa.
type Commander struct {
	eng *Engine
}

func NewCommander(eng *Engine) *Commander {
	return &Commander{eng: eng}
}

func (c *Commander) exec(status string, fn func(sess *Session) error) error {
	if err := c.eng.acquire(); err != nil {
		return err
	}
	defer c.eng.release()

	sess := NewSession()
	sess.begin()
	defer sess.end()

	if status != "" {
		c.eng.obs.Status(status)
	}
	return fn(sess)
}

func (c *Commander) send(status string, lines ...string) error {
	return c.exec(status, func(sess *Session) error {
		return c.eng.sendLines(sess, lines)
	})
}

// Home runs the controller's homing cycle.
func (c *Commander) Home() error {
	return c.send("Moving to home position", "$H")
}

// Unlock clears a GRBL alarm lock.
func (c *Commander) Unlock() error {
	return c.send("", "$X")
}

func (c *Commander) SyringeDown() error {
	return c.send("", "M4")
}

func (c *Commander) SyringeUp() error {
	return c.send("", "M3")
}

// DispenseShot opens the glue valve for the dwell duration, then closes
// it. A non-positive dwell gets the device default of one second.
func (c *Commander) DispenseShot(dwell time.Duration) error {
	if dwell <= 0 {
		dwell = time.Second
	}
	return c.exec("Dispensing Glue", func(sess *Session) error {
		if err := c.eng.sendLines(sess, []string{"M8"}); err != nil {
			return err
		}
		time.Sleep(dwell)
		return c.eng.sendLines(sess, []string{"M9"})
	})
}

// Jog nudges one axis by dist millimeters at the given feed, relative
// to the current position. Out-of-bounds targets are refused by the
// device's own soft limits.
func (c *Commander) Jog(axis byte, dist, feed float64) error {
	switch axis {
	case 'x':
		axis = 'X'
	case 'y':
		axis = 'Y'
	case 'X', 'Y':
	default:
		return fmt.Errorf("unknown jog axis %q", axis)
	}
	line := fmt.Sprintf("$J=G21G91F%s%c%s", gcode.Num(feed), axis, gcode.Num(dist))
	return c.send("", line)
}

// SetFeed sets the modal feed rate for subsequent moves.
func (c *Commander) SetFeed(feed float64) error {
	return c.send("", "F"+gcode.Num(feed))
}

// MoveToOrigin rapids to the lower-left corner of the loaded toolpath.
func (c *Commander) MoveToOrigin(prog *gcode.Program) error {
	min, _, err := corners(prog)
	if err != nil {
		return err
	}
	pt := gcode.Point{Pos: min, Mode: gcode.Rapid}
	return c.send("Moving to Point 0", pt.MoveCommand())
}

// MoveToFarEnd rapids to the far X edge of the toolpath, staying at the
// near Y edge.
func (c *Commander) MoveToFarEnd(prog *gcode.Program) error {
	min, max, err := corners(prog)
	if err != nil {
		return err
	}
	pt := gcode.Point{Pos: coord.Point{X: max.X, Y: min.Y}, Mode: gcode.Rapid}
	return c.send("Moving to Ladder End", pt.MoveCommand())
}

func corners(prog *gcode.Program) (min, max coord.Point, err error) {
	if prog == nil || len(prog.Path) < 2 {
		return min, max, ErrNoPath
	}
	min, max = prog.Bounds()
	return min, max, nil
}
