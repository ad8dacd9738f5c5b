package gcode

import (
	"strconv"
	"strings"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
)

// MotionMode selects how the device travels to a point.
type MotionMode int

const (
	Rapid MotionMode = iota
	Linear
)

// String returns the G-code digit for the mode.
func (m MotionMode) String() string {
	if m == Linear {
		return "1"
	}
	return "0"
}

// PositioningMode is the coordinate addressing state switched by G90/G91.
type PositioningMode int

const (
	Absolute PositioningMode = iota
	Relative
)

// Point is one deposition stop: the absolute position the device must move
// to, the motion mode for that move, and the raw command lines to replay
// once in position (block markers included).
type Point struct {
	Pos       coord.Point
	Mode      MotionMode
	GlueLines []string
}

// MoveCommand synthesizes the movement command for the point. Stored
// positions are always absolute, whatever addressing the source file used.
func (p Point) MoveCommand() string {
	return "G" + p.Mode.String() + " X" + Num(p.Pos.X) + " Y" + Num(p.Pos.Y)
}

// DefaultMaxTravel is the device's X soft limit when the program carries no
// $130 setting line.
const DefaultMaxTravel = 990

// Program is a parsed dispensing program.
type Program struct {
	Init      []string      // initialization block, replayed verbatim before any point
	Points    []Point       // deposition stops in source order
	Path      []coord.Point // every position visited, seeded with the origin
	MaxTravel float64
}

// Bounds returns the bounding box of every position the program visits,
// excluding the seeded origin.
func (p *Program) Bounds() (min, max coord.Point) {
	path := p.Path
	if len(path) > 0 {
		path = path[1:]
	}
	if len(path) == 0 {
		return min, max
	}
	min, max = path[0], path[0]
	for _, c := range path[1:] {
		min = coord.Min(min, c)
		max = coord.Max(max, c)
	}
	return min, max
}

// ExceedsTravel reports whether the program reaches or passes the X soft
// limit.
func (p *Program) ExceedsTravel() bool {
	_, max := p.Bounds()
	return max.X >= p.MaxTravel
}

// Num formats a coordinate, distance or feed value for a device command.
func Num(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	return strings.TrimRight(s, ".")
}
