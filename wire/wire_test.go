package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestOpHeaderRoundTrip(t *testing.T) {
	h := OpHeader{Version: OpVersion, Command: OpRepImport, Status: 0}
	got, err := ReadOpHeader(bytes.NewReader(h.Bytes()))
	if err != nil {
		t.Fatalf("ReadOpHeader: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestDeviceRecordSize(t *testing.T) {
	rec := NewDeviceRecord("/sys/devices/pci0000:00/0000:00:01.2/usb1/1-1", "1-1")
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, rec); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() != DeviceRecordSize {
		t.Fatalf("got %d bytes, want %d", buf.Len(), DeviceRecordSize)
	}
}

func TestNewDeviceRecordZeroFillsAndTruncates(t *testing.T) {
	rec := NewDeviceRecord("short", "1-1")
	for i := len("short"); i < PathSize; i++ {
		if rec.Path[i] != 0 {
			t.Fatalf("path byte %d not zero-filled", i)
		}
	}
	if string(rec.Path[:len("short")]) != "short" {
		t.Fatalf("path prefix mismatch: %q", rec.Path[:len("short")])
	}

	long := bytes.Repeat([]byte("x"), BusIDSize+5)
	rec = NewDeviceRecord("short", string(long))
	if string(rec.BusID[:]) != string(long[:BusIDSize]) {
		t.Fatalf("bus id not truncated to %d bytes: %q", BusIDSize, rec.BusID[:])
	}
}

func TestDecodeImportBusIDTrimsPadding(t *testing.T) {
	var b [BusIDSize]byte
	copy(b[:], "1-1")
	if got := DecodeImportBusID(b); got != "1-1" {
		t.Fatalf("got %q, want %q", got, "1-1")
	}
}

func TestEncodeDevListReplyIncludesDeviceCount(t *testing.T) {
	rec := NewDeviceRecord("/path", "1-1")
	iface := InterfaceRecord{Class: 0xff}
	out := EncodeDevListReply(rec, iface)
	want := OpHeaderSize + 4 + DeviceRecordSize + InterfaceRecordSize
	if len(out) != want {
		t.Fatalf("got %d bytes, want %d", len(out), want)
	}
	count := uint32(out[8])<<24 | uint32(out[9])<<16 | uint32(out[10])<<8 | uint32(out[11])
	if count != 1 {
		t.Fatalf("device count = %d, want 1", count)
	}
}

func TestCmdBodyRoundTrip(t *testing.T) {
	body := CmdBody{
		Direction:            1,
		Ep:                   2,
		TransferFlags:        0,
		TransferBufferLength: 64,
		Setup:                [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() != CmdBodySize {
		t.Fatalf("got %d bytes, want %d", buf.Len(), CmdBodySize)
	}
	got, err := DecodeCmdBody(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeCmdBody: %v", err)
	}
	if got != body {
		t.Fatalf("got %+v, want %+v", got, body)
	}
}

func TestEncodeRetSubmitEchoesDirectionAndEp(t *testing.T) {
	payload := []byte("hello")
	out := EncodeRetSubmit(7, 2, DirectionIn, 3, 0, int32(len(payload)), payload)
	if len(out) != PreambleSize+len(payload) {
		t.Fatalf("got %d bytes, want %d", len(out), PreambleSize+len(payload))
	}
	hdr, err := ReadHeader(bytes.NewReader(out[:HeaderSize]))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if hdr.Command != RetSubmit || hdr.Seqnum != 7 || hdr.Devid != 2 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	body := out[HeaderSize:PreambleSize]
	direction := uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	ep := uint32(body[4])<<24 | uint32(body[5])<<16 | uint32(body[6])<<8 | uint32(body[7])
	if direction != DirectionIn || ep != 3 {
		t.Fatalf("direction/ep not echoed: direction=%d ep=%d", direction, ep)
	}
	if string(out[PreambleSize:]) != "hello" {
		t.Fatalf("payload mismatch: %q", out[PreambleSize:])
	}
}
