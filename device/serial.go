package device

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig selects and times the physical port.
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Serial talks to the controller over a real serial port.
type Serial struct {
	p  *serial.Port
	br *bufio.Reader
}

// OpenSerial opens the port and runs the controller bring-up: give the
// board time to reset, wake it with a blank line pair, then drop whatever
// banner it printed.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}

	time.Sleep(2 * time.Second)
	if _, err = p.Write([]byte("\r\n\r\n")); err != nil {
		p.Close()
		return nil, fmt.Errorf("wake %s: %w", cfg.Port, err)
	}
	time.Sleep(2 * time.Second)
	if err = p.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("flush %s: %w", cfg.Port, err)
	}

	return &Serial{p: p, br: bufio.NewReader(p)}, nil
}

func (s *Serial) WriteLine(line string) error {
	_, err := s.p.Write([]byte(line + "\n"))
	return err
}

// ReadLine returns the next response line without its terminator. A timeout
// with nothing buffered returns ErrReadTimeout; a timeout partway through a
// line returns what arrived so far.
func (s *Serial) ReadLine() (string, error) {
	line, err := s.br.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return "", ErrReadTimeout
		}
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Serial) Close() error { return s.p.Close() }
