// Package wire implements sy's streaming wire protocol: a length-prefixed
// binary frame format, a fixed registry of message types, and the codec for
// encoding/decoding each of them.
//
// Every frame is length:u32 | type:u8 | payload[length], all multi-byte
// integers big-endian, length bounded to MaxFrameSize so a malicious or
// corrupt peer cannot make a decoder allocate an unbounded buffer.
package wire

import "fmt"

// ProtocolVersion is the only version this package speaks. Anything else
// received in a Hello makes CheckVersion return a ProtocolError, which ends
// the session; no Fatal frame is written to the peer, and there is no
// negotiation or fallback.
const ProtocolVersion uint16 = 2

// MaxFrameSize bounds a single frame's payload. ReadFrame rejects any
// length header exceeding this before allocating a buffer.
const MaxFrameSize = 64 << 20 // 64 MiB

// MaxOpaqueSize bounds the literal payload of a single delta Insert op or a
// single Copy op's size, independent of the frame cap, matching spec §4.4's
// per-opcode bounds check.
const MaxOpaqueSize = 16 << 20 // 16 MiB

// Message type registry. Hex codes are normative.
const (
	TypeHello         byte = 0x01
	TypeFileEntry     byte = 0x02
	TypeFileEnd       byte = 0x03
	TypeDestFileEntry byte = 0x04
	TypeDestFileEnd   byte = 0x05
	TypeData          byte = 0x06
	TypeDataEnd       byte = 0x07
	TypeDelete        byte = 0x08
	TypeDeleteEnd     byte = 0x09
	TypeMkdir         byte = 0x0A
	TypeSymlink       byte = 0x0B
	TypeProgress      byte = 0x0C
	TypeError         byte = 0x0D
	TypeFatal         byte = 0x0E
	TypeXattr         byte = 0x0F
	TypeDone          byte = 0x10
)

func typeName(t byte) string {
	switch t {
	case TypeHello:
		return "Hello"
	case TypeFileEntry:
		return "FileEntry"
	case TypeFileEnd:
		return "FileEnd"
	case TypeDestFileEntry:
		return "DestFileEntry"
	case TypeDestFileEnd:
		return "DestFileEnd"
	case TypeData:
		return "Data"
	case TypeDataEnd:
		return "DataEnd"
	case TypeDelete:
		return "Delete"
	case TypeDeleteEnd:
		return "DeleteEnd"
	case TypeMkdir:
		return "Mkdir"
	case TypeSymlink:
		return "Symlink"
	case TypeProgress:
		return "Progress"
	case TypeError:
		return "Error"
	case TypeFatal:
		return "Fatal"
	case TypeXattr:
		return "Xattr"
	case TypeDone:
		return "Done"
	default:
		return fmt.Sprintf("unknown(0x%02x)", t)
	}
}

// Hello flag bits.
const (
	FlagPull        uint32 = 1 << 0
	FlagDelete      uint32 = 1 << 1
	FlagChecksum    uint32 = 1 << 2
	FlagCompression uint32 = 1 << 3
	FlagXattrs      uint32 = 1 << 4
	FlagAcls        uint32 = 1 << 5
)

// FileEntry flag bits.
const (
	FileFlagDir        byte = 1 << 0
	FileFlagSymlink    byte = 1 << 1
	FileFlagHardlink   byte = 1 << 2
	FileFlagHasXattrs  byte = 1 << 3
	FileFlagSparse     byte = 1 << 4
)

// DestFileEntry flag bits.
const (
	DestFlagDir           byte = 1 << 0
	DestFlagHasChecksums  byte = 1 << 1
)

// Data flag bits.
const (
	DataFlagCompressed byte = 1 << 0
	DataFlagDelta      byte = 1 << 1
	DataFlagFinal      byte = 1 << 2
)

// DataEnd status codes.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// ProtocolError marks a fatal, session-ending condition: a bad version, an
// unknown or truncated frame, an oversized frame, or a path-safety
// violation. The orchestrator tears the session down and returns the error
// to its caller without writing a Fatal frame to the peer; ProtocolError is
// never retried.
type ProtocolError struct {
	Code    uint16
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Fatal error codes carried in ProtocolError.Code / Fatal.Code.
const (
	ErrBadVersion     uint16 = 1
	ErrUnknownType    uint16 = 2
	ErrTruncated      uint16 = 3
	ErrFrameTooLarge  uint16 = 4
	ErrPathTraversal  uint16 = 5
	ErrProtocol       uint16 = 6
)

func fatalf(code uint16, format string, a ...interface{}) error {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, a...)}
}

// CheckVersion validates a peer's negotiated Hello.Version. Versions 0, 1
// and anything >= 3 are rejected; only ProtocolVersion (2) is accepted.
func CheckVersion(v uint16) error {
	if v != ProtocolVersion {
		return fatalf(ErrBadVersion, "unsupported protocol version %d (only %d is supported)", v, ProtocolVersion)
	}
	return nil
}
