package rotation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/user/ergo-blue/logger"
)

// SerialSource reads impulse timestamps from a pulse counter attached over a
// serial port. The counter prints one decimal µs timestamp per line.
type SerialSource struct {
	name string
	port serial.Port
}

// OpenSerialSource opens portName at baudRate, 8N1.
func OpenSerialSource(portName string, baudRate int) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialSource{name: portName, port: port}, nil
}

// Run delivers impulses to sink until ctx is cancelled or the port fails.
func (s *SerialSource) Run(ctx context.Context, sink func(timestamp uint64)) error {
	stop := context.AfterFunc(ctx, func() { s.port.Close() })
	defer stop()

	err := ReadTimestamps(s.port, sink)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *SerialSource) Close() error {
	return s.port.Close()
}

// ReadTimestamps parses line-delimited µs timestamps from r. Malformed lines
// are logged and skipped.
func ReadTimestamps(r io.Reader, sink func(timestamp uint64)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ts, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			logger.Trace("ROTATION", "skipping line %q: %v", line, err)
			continue
		}
		sink(ts)
	}
	return scanner.Err()
}

// RunSynthetic emits impulses every interval until ctx is cancelled. It stands
// in for a flywheel in simulations.
func RunSynthetic(ctx context.Context, interval time.Duration, sink func(timestamp uint64)) error {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			sink(uint64(now.Sub(start).Microseconds()) + 1)
		}
	}
}
