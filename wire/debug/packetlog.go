// Package debug records the ATT traffic of the simulated stack as JSON lines.
// The files are write-only diagnostics; nothing reads them back.
package debug

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/wire/att"
)

// Directions
const (
	RX = "rx"
	TX = "tx"
)

// PacketEntry is one logged ATT PDU
type PacketEntry struct {
	Timestamp  string `json:"timestamp"`
	Direction  string `json:"direction"`
	Conn       uint8  `json:"conn"`
	Opcode     string `json:"opcode"`
	OpcodeName string `json:"opcode_name"`
	Handle     string `json:"handle,omitempty"`
	ValueLen   int    `json:"value_len,omitempty"`
	ValueHex   string `json:"value_hex,omitempty"`
	Error      string `json:"error,omitempty"`
	RawHex     string `json:"raw_hex"`
}

// PacketLog appends PacketEntry lines to a writer
type PacketLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewPacketLog logs to w
func NewPacketLog(w io.Writer) *PacketLog {
	return &PacketLog{w: w}
}

// OpenPacketLog appends to <dir>/att_packets.jsonl, creating dir if needed
func OpenPacketLog(dir string) (*PacketLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("debug: create %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "att_packets.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("debug: open packet log: %w", err)
	}
	return &PacketLog{w: f, closer: f}, nil
}

// Record logs one PDU. Write failures are dropped; logging is best-effort.
func (l *PacketLog) Record(direction string, conn ble.ConnHandle, pdu []byte) {
	if l == nil || len(pdu) == 0 {
		return
	}

	entry := Describe(pdu)
	entry.Timestamp = time.Now().Format(time.RFC3339Nano)
	entry.Direction = direction
	entry.Conn = uint8(conn)

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(append(line, '\n'))
}

// Close closes the underlying file, if the log owns one
func (l *PacketLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Describe decodes the fields of a PDU worth reading in a log
func Describe(pdu []byte) PacketEntry {
	entry := PacketEntry{
		Opcode:     fmt.Sprintf("0x%02X", pdu[0]),
		OpcodeName: att.OpcodeName(pdu[0]),
		RawHex:     hex.EncodeToString(pdu),
	}

	p, err := att.Parse(pdu)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	switch v := p.(type) {
	case *att.ErrorResponse:
		entry.Handle = fmt.Sprintf("0x%04X", v.Handle)
		entry.Error = v.Err().Error()
	case *att.ReadRequest:
		entry.Handle = fmt.Sprintf("0x%04X", v.Handle)
	case *att.ReadResponse:
		entry.ValueLen = len(v.Value)
		entry.ValueHex = hex.EncodeToString(v.Value)
	case *att.HandleValue:
		entry.Handle = fmt.Sprintf("0x%04X", v.Handle)
		entry.ValueLen = len(v.Value)
		entry.ValueHex = hex.EncodeToString(v.Value)
	case *att.PrepareWrite:
		entry.Handle = fmt.Sprintf("0x%04X", v.Handle)
		entry.ValueLen = len(v.Value)
		entry.ValueHex = hex.EncodeToString(v.Value)
	}
	return entry
}
