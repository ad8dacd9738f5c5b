package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
)

// ErrMalformedInput marks an unreadable program source. Unrecognized G-code
// never produces it; unknown lines are inert.
var ErrMalformedInput = errors.New("malformed program source")

// Sentinel comment lines delimiting the program's block structure. Matching
// is on substring containment, case-sensitive, and the marker lines belong
// to the blocks they delimit.
const (
	markerInitStart = "; Program initialization"
	markerInitEnd   = "; End of program initialization"
	markerGlueStart = "; ------- Glue deposition -------"
	markerGlueEnd   = "; ------- End of glue deposition -------"

	settingMaxTravel = "$130"
)

type Parser struct{ br *bufio.Reader }

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

// Parse consumes r as one complete program.
func Parse(r io.Reader) (*Program, error) {
	return NewParser(r).Parse()
}

// Parse reads the stream to its end and builds the program.
//
// Position starts at the origin in absolute mode, so a glue block closed
// before any motion command still materializes, at (0,0). The motion mode
// set by the last explicit G00/G01 carries forward until changed.
func (p *Parser) Parse() (*Program, error) {
	prog := &Program{
		MaxTravel: DefaultMaxTravel,
		Path:      []coord.Point{{}},
	}

	var (
		cur    coord.Point
		mode   = Absolute
		motion = Rapid
		inInit bool
		inGlue bool
		glue   []string
	)

	apply := func(line string) {
		m := MatchLine(line)
		if m.HasMode {
			motion = m.Mode
		}
		if !m.HasX && !m.HasY {
			return
		}
		if mode == Relative {
			var d coord.Point
			if m.HasX {
				d.X = m.X
			}
			if m.HasY {
				d.Y = m.Y
			}
			cur = cur.Add(d)
		} else {
			if m.HasX {
				cur.X = m.X
			}
			if m.HasY {
				cur.Y = m.Y
			}
		}
		prog.Path = append(prog.Path, cur)
	}

	for {
		s, err := p.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		if s == "" && err == io.EOF {
			break
		}
		line := strings.TrimSpace(s)

		switch {
		case strings.Contains(line, markerInitStart):
			inInit = true
			prog.Init = []string{line}
		case strings.Contains(line, markerInitEnd):
			inInit = false
			prog.Init = append(prog.Init, line)
		case inInit:
			prog.Init = append(prog.Init, line)
			if strings.Contains(line, "G90") {
				mode = Absolute
			} else if strings.Contains(line, "G91") {
				mode = Relative
			}
			if strings.Contains(line, "G00") || strings.Contains(line, "G01") {
				apply(line)
			}
			if strings.Contains(line, settingMaxTravel) {
				if v, ok := parseMaxTravel(line); ok {
					prog.MaxTravel = v
				}
			}
		case strings.Contains(line, markerGlueStart):
			inGlue = true
			glue = []string{line}
		case strings.Contains(line, markerGlueEnd):
			inGlue = false
			glue = append(glue, line)
			prog.Points = append(prog.Points, Point{Pos: cur, Mode: motion, GlueLines: glue})
			glue = nil
		default:
			if inGlue {
				glue = append(glue, line)
			}
			if strings.Contains(line, "G90") {
				mode = Absolute
			} else if strings.Contains(line, "G91") {
				mode = Relative
			}
			apply(line)
		}

		if err == io.EOF {
			break
		}
	}

	return prog, nil
}

func parseMaxTravel(line string) (float64, bool) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return 0, false
	}
	val := parts[1]
	if f := strings.Fields(val); len(f) > 0 {
		val = f[0]
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
