package gcode

import (
	"regexp"
	"strconv"
)

// rxCommand is the device dialect's movement shape: a G code optionally
// followed by X and/or Y coordinates, in that order, with or without
// separators.
var rxCommand = regexp.MustCompile(`(?i)G(\d+)\s*(?:X([-.\d]+))?\s*(?:Y([-.\d]+))?`)

// Match holds whatever MatchLine extracted from one line. The presence
// flags distinguish an absent coordinate from an explicit zero.
type Match struct {
	X, Y       float64
	HasX, HasY bool
	Mode       MotionMode
	HasMode    bool
}

// MatchLine scans one line for movement commands. Only the literal codes 00
// and 01 set the motion mode. When a component appears in more than one
// command on the same line, the last occurrence wins.
func MatchLine(line string) Match {
	var m Match
	for _, g := range rxCommand.FindAllStringSubmatch(line, -1) {
		switch g[1] {
		case "00":
			m.Mode, m.HasMode = Rapid, true
		case "01":
			m.Mode, m.HasMode = Linear, true
		}
		if g[2] != "" {
			if v, err := strconv.ParseFloat(g[2], 64); err == nil {
				m.X, m.HasX = v, true
			}
		}
		if g[3] != "" {
			if v, err := strconv.ParseFloat(g[3], 64); err == nil {
				m.Y, m.HasY = v, true
			}
		}
	}
	return m
}
