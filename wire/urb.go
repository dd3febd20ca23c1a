package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

// URB command codes (spec.md §4.1). Only CMD_SUBMIT is processed; UNLINK
// is recognised so the byte stream stays framed correctly but is dropped
// (non-goal: URB cancellation).
const (
	CmdSubmit = 0x00000001
	CmdUnlink = 0x00000002
	RetSubmit = 0x00000003
	RetUnlink = 0x00000004
)

// Direction bits carried in a CMD_SUBMIT body.
const (
	DirectionOut = 0
	DirectionIn  = 1
)

// HeaderSize is the 12-byte command/seqnum/devid prefix common to every
// URB frame.
const HeaderSize = 12

// CmdBodySize is the 36-byte CMD_SUBMIT body that follows Header.
const CmdBodySize = 36

// PreambleSize is the 48-byte fixed prefix of every CMD_SUBMIT frame
// (Header + CmdBody), before any OUT payload.
const PreambleSize = HeaderSize + CmdBodySize

// Header is the 12-byte prefix common to every URB frame.
type Header struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
}

// ReadHeader decodes a 12-byte Header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	err := binary.Read(r, binary.BigEndian, &h)
	return h, err
}

// CmdBody is the 36-byte body of a CMD_SUBMIT frame.
type CmdBody struct {
	Direction            uint32
	Ep                   uint32
	TransferFlags        uint32
	TransferBufferLength uint32
	StartFrame           uint32
	NumberOfPackets      uint32
	Interval             uint32
	Setup                [8]byte
}

// ReadCmdBody decodes a 36-byte CmdBody from r.
func ReadCmdBody(r io.Reader) (CmdBody, error) {
	var b CmdBody
	err := binary.Read(r, binary.BigEndian, &b)
	return b, err
}

// DecodeCmdBody decodes a 36-byte CmdBody from an in-memory buffer that
// has already been read off the wire (used once the socket handler has
// buffered the full preamble, per spec.md §9's framing-robustness note).
func DecodeCmdBody(b []byte) (CmdBody, error) {
	return ReadCmdBody(bytes.NewReader(b))
}

// RetBody is the 28-byte effective body of a RET_SUBMIT frame: direction
// and ep echoed from the originating CMD_SUBMIT (spec.md §4.5), followed
// by the five status fields. Padded to CmdBodySize on the wire so every
// URB command shares the same 48-byte preamble width.
type RetBody struct {
	Direction       uint32
	Ep              uint32
	Status          int32
	ActualLength    int32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
}

// RetBodySize is the size of RetBody's named fields, before padding out
// to CmdBodySize.
const RetBodySize = 4 + 4 + 4 + 4 + 4 + 4 + 4

// EncodeRetSubmit encodes a full RET_SUBMIT frame: 12-byte Header, then
// RetBody (direction/ep echoed from the request, status/actual_length
// filled in, start_frame/number_of_packets/error_count left zero) padded
// out to the 36-byte command-body slot, then payload.
func EncodeRetSubmit(seqnum, devid, direction, ep uint32, status, actualLength int32, payload []byte) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, Header{Command: RetSubmit, Seqnum: seqnum, Devid: devid})
	binary.Write(buf, binary.BigEndian, RetBody{
		Direction:    direction,
		Ep:           ep,
		Status:       status,
		ActualLength: actualLength,
	})
	// Pad the remaining bytes of the 36-byte command-body slot (reserved,
	// all zero per R2).
	buf.Write(make([]byte, CmdBodySize-RetBodySize))
	buf.Write(payload)
	return buf.Bytes()
}
