// Package wire implements the USB/IP wire codec: fixed-layout, big-endian
// encode/decode for the attach-phase OP_REQ/OP_REP frames and the
// command-phase USBIP_CMD_SUBMIT/USBIP_RET_SUBMIT frames.
//
// Every frame here is a plain Go struct with only fixed-size fields,
// encoded with encoding/binary the same way Daedaluz-gousb reads fixed
// hardware structures (sysfs.go's readDescriptorHeader, usbfs's ioctl
// argument structs): no reflection, no variable-length fields, one
// struct per wire frame.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Protocol version carried in every OP frame.
const OpVersion = 0x0111

// OP request/response command codes.
const (
	OpReqDevList = 0x8005
	OpReqImport  = 0x8003
	OpRepDevList = 0x0005
	OpRepImport  = 0x0003
)

// Fixed field widths, per spec.
const (
	OpHeaderSize = 8
	PathSize     = 256
	BusIDSize    = 32

	// deviceRecordFixedSize is busnum+devnum+speed (3*u32) + vendor+
	// product+bcd_device (3*u16) + 6 single-byte class/config fields.
	deviceRecordFixedSize = 3*4 + 3*2 + 6
	DeviceRecordSize      = PathSize + BusIDSize + deviceRecordFixedSize
	InterfaceRecordSize   = 4
)

// OpHeader is the 8-byte header shared by every attach-phase frame.
type OpHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

// ReadOpHeader decodes an 8-byte OpHeader from r.
func ReadOpHeader(r io.Reader) (OpHeader, error) {
	var h OpHeader
	err := binary.Read(r, binary.BigEndian, &h)
	return h, err
}

// Bytes encodes h to its 8-byte wire form.
func (h OpHeader) Bytes() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, h)
	return buf.Bytes()
}

// DeviceRecord is the fixed device-record body that follows an OpHeader
// in every OP_REP frame: a NUL-padded sysfs path and bus id, followed by
// the fixed-width device fields. path/bus_id are zero-filled and carry at
// most len(s) bytes of the source string (spec.md §9, open question ii —
// the original source's copy_from_slice required an exact-length string,
// which is not a faithful translation).
type DeviceRecord struct {
	Path               [PathSize]byte
	BusID              [BusIDSize]byte
	BusNum             uint32
	DevNum             uint32
	Speed              uint32
	Vendor             uint16
	Product            uint16
	BcdDevice          uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	ConfigurationValue uint8
	NumConfigurations  uint8
	NumInterfaces      uint8
}

// NewDeviceRecord builds a DeviceRecord, truncating path/busID to their
// fixed slot widths and zero-filling the remainder.
func NewDeviceRecord(path, busID string) DeviceRecord {
	var rec DeviceRecord
	setFixedString(rec.Path[:], path)
	setFixedString(rec.BusID[:], busID)
	return rec
}

func setFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// InterfaceRecord is the 4-byte interface summary that follows the device
// record in an OP_REP_DEVLIST frame only.
type InterfaceRecord struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	Padding  uint8
}

// EncodeImportReply encodes an OP_REP_IMPORT frame: header, then the
// device record. status should be 0 on success; on failure the device
// record is still present (zero-valued) to keep the frame a fixed size,
// matching how real usbip clients parse the reply.
func EncodeImportReply(status uint32, rec DeviceRecord) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, OpHeader{Version: OpVersion, Command: OpRepImport, Status: status})
	binary.Write(buf, binary.BigEndian, rec)
	return buf.Bytes()
}

// EncodeDevListReply encodes an OP_REP_DEVLIST frame: header, exported
// device count (always 1 in this bus — exactly one virtual device per
// spec.md §1), the device record, then the interface record. The leading
// device count is required by the real USB/IP protocol; spec.md §9 notes
// the original prototype omitted it.
func EncodeDevListReply(rec DeviceRecord, iface InterfaceRecord) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, OpHeader{Version: OpVersion, Command: OpRepDevList, Status: 0})
	binary.Write(buf, binary.BigEndian, uint32(1))
	binary.Write(buf, binary.BigEndian, rec)
	binary.Write(buf, binary.BigEndian, iface)
	return buf.Bytes()
}

// ImportRequest is a decoded OP_REQ_IMPORT frame.
type ImportRequest struct {
	Header OpHeader
	BusID  string
}

// DecodeImportBusID trims the NUL padding from a 32-byte bus id field.
func DecodeImportBusID(b [BusIDSize]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}
