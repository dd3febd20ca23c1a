package usbip

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/daedaluz/usbip/wire"
)

func testConfig() BusConfig {
	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	return cfg
}

func dialBus(t *testing.T, b *Bus) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", b.sock.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func pollUntil(t *testing.T, b *Bus, timeout time.Duration, pred func(PollResult) bool) PollResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r := b.Poll()
		if pred(r) {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for expected poll result")
	return PollResult{}
}

func TestAttachDevList(t *testing.T) {
	b, err := NewBus(testConfig())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	conn := dialBus(t, b)
	defer conn.Close()

	pollUntil(t, b, time.Second, func(PollResult) bool { return b.sock.connected() })

	req := wire.OpHeader{Version: wire.OpVersion, Command: wire.OpReqDevList}.Bytes()
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	want := wire.OpHeaderSize + 4 + wire.DeviceRecordSize + wire.InterfaceRecordSize
	resp := make([]byte, want)
	read := 0
	for read < want {
		pollUntil(t, b, time.Second, func(PollResult) bool { return true })
		n, err := conn.Read(resp[read:])
		read += n
		if err != nil {
			break
		}
		if read >= want {
			break
		}
	}
	if read != want {
		t.Fatalf("read %d bytes, want %d", read, want)
	}
	hdr, err := wire.ReadOpHeader(bytes.NewReader(resp[:wire.OpHeaderSize]))
	if err != nil {
		t.Fatalf("ReadOpHeader: %v", err)
	}
	if hdr.Command != wire.OpRepDevList {
		t.Fatalf("got command 0x%04x, want OP_REP_DEVLIST", hdr.Command)
	}
	if b.phase != PhaseReset {
		t.Fatal("DEVLIST must not transition the bus out of Reset")
	}
}

func TestAttachImportTransitionsToAttached(t *testing.T) {
	b, err := NewBus(testConfig())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	conn := dialBus(t, b)
	defer conn.Close()

	pollUntil(t, b, time.Second, func(PollResult) bool { return b.sock.connected() })

	req := wire.OpHeader{Version: wire.OpVersion, Command: wire.OpReqImport}.Bytes()
	var busID [wire.BusIDSize]byte
	copy(busID[:], "1-1")
	req = append(req, busID[:]...)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.phase != PhaseAttached {
		b.Poll()
		time.Sleep(time.Millisecond)
	}
	if b.phase != PhaseAttached {
		t.Fatal("bus did not transition to Attached on import of known bus id")
	}
}

func TestCmdSubmitOutThenRetSubmit(t *testing.T) {
	b, err := NewBus(testConfig())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	if _, err := b.AllocEndpoint(1, DirOut, TransferTypeBulk, 64, 0); err != nil {
		t.Fatalf("AllocEndpoint: %v", err)
	}
	conn := dialBus(t, b)
	defer conn.Close()

	pollUntil(t, b, time.Second, func(PollResult) bool { return b.sock.connected() })

	importReq := wire.OpHeader{Version: wire.OpVersion, Command: wire.OpReqImport}.Bytes()
	var busID [wire.BusIDSize]byte
	copy(busID[:], "1-1")
	importReq = append(importReq, busID[:]...)
	conn.Write(importReq)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.phase != PhaseAttached {
		b.Poll()
		time.Sleep(time.Millisecond)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	importResp := make([]byte, wire.OpHeaderSize+wire.DeviceRecordSize)
	io.ReadFull(conn, importResp)

	payload := []byte("hi")
	cmdBuf := make([]byte, wire.PreambleSize+len(payload))
	putU32(cmdBuf[0:], wire.CmdSubmit)
	putU32(cmdBuf[4:], 1) // seqnum
	putU32(cmdBuf[8:], 2) // devid
	putU32(cmdBuf[12:], wire.DirectionOut)
	putU32(cmdBuf[16:], 1) // ep
	putU32(cmdBuf[20:], 0) // transfer_flags
	putU32(cmdBuf[24:], uint32(len(payload)))
	copy(cmdBuf[wire.PreambleSize:], payload)
	conn.Write(cmdBuf)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	resp := make([]byte, wire.PreambleSize)
	read := 0
	for read < len(resp) {
		b.Poll()
		n, err := conn.Read(resp[read:])
		read += n
		if err != nil {
			time.Sleep(time.Millisecond)
		}
	}
	hdr, err := wire.ReadHeader(bytes.NewReader(resp[:wire.HeaderSize]))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if hdr.Command != wire.RetSubmit {
		t.Fatalf("got command 0x%08x, want RET_SUBMIT", hdr.Command)
	}

	buf := make([]byte, 16)
	n, err := b.Read(1, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("got %q, want %q", buf[:n], "hi")
	}
}

func putU32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}
