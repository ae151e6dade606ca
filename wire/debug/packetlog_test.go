package debug

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log := NewPacketLog(&buf)

	log.Record(RX, 1, []byte{0x12, 0x10, 0x00, 0x11})
	log.Record(TX, 1, []byte{0x01, 0x12, 0x10, 0x00, 0x03})

	scanner := bufio.NewScanner(&buf)
	var entries []PacketEntry
	for scanner.Scan() {
		var e PacketEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].OpcodeName != "WriteRequest" || entries[0].Handle != "0x0010" || entries[0].ValueHex != "11" {
		t.Errorf("write entry = %+v", entries[0])
	}
	if entries[1].Direction != TX || entries[1].Error == "" {
		t.Errorf("error entry = %+v", entries[1])
	}
}

func TestDescribeMalformed(t *testing.T) {
	e := Describe([]byte{0x12})
	if e.Error == "" || e.RawHex != "12" {
		t.Errorf("Describe(short write) = %+v", e)
	}
}

func TestOpenPacketLogAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")

	log, err := OpenPacketLog(dir)
	if err != nil {
		t.Fatalf("OpenPacketLog: %v", err)
	}
	log.Record(RX, 2, []byte{0x0A, 0x03, 0x00})
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "att_packets.jsonl"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(data, []byte(`"opcode_name":"ReadRequest"`)) {
		t.Errorf("log content = %s", data)
	}
}

func TestNilLogIsSafe(t *testing.T) {
	var log *PacketLog
	log.Record(RX, 1, []byte{0x0A, 0x01, 0x00})
	if err := log.Close(); err != nil {
		t.Errorf("Close on nil log: %v", err)
	}
}
