package wire

// Message is implemented by every wire message type. Type returns the byte
// that tags it in the frame header; encode appends the wire form of the
// message to a payload buffer.
type Message interface {
	Type() byte
	encode(e *encoder)
}

// Hello is exchanged first in both directions: version:u16 | flags:u32 |
// path_len:u16 | path.
type Hello struct {
	Version uint16
	Flags   uint32
	Path    string
}

func (Hello) Type() byte { return TypeHello }
func (m Hello) encode(e *encoder) {
	e.u16(m.Version)
	e.u32(m.Flags)
	e.str(m.Path)
}

func decodeHello(b []byte) (Hello, error) {
	d := newDecoder("Hello", b)
	var m Hello
	var err error
	if m.Version, err = d.u16(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u32(); err != nil {
		return m, err
	}
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// FileEntry announces one source-side entry, optionally followed by a
// symlink target and/or a hardlink target depending on its flags.
type FileEntry struct {
	Path            string
	Size            uint64
	Mtime           int64
	Mode            uint32
	Inode           uint64
	Flags           byte
	SymlinkTarget   string // present iff Flags&FileFlagSymlink != 0
	HardlinkTarget  string // present iff Flags&FileFlagHardlink != 0
}

func (FileEntry) Type() byte { return TypeFileEntry }

func (m FileEntry) encode(e *encoder) {
	e.str(m.Path)
	e.u64(m.Size)
	e.i64(m.Mtime)
	e.u32(m.Mode)
	e.u64(m.Inode)
	e.u8(m.Flags)
	if m.Flags&FileFlagSymlink != 0 {
		e.str(m.SymlinkTarget)
	}
	if m.Flags&FileFlagHardlink != 0 {
		e.str(m.HardlinkTarget)
	}
}

func decodeFileEntry(b []byte) (FileEntry, error) {
	d := newDecoder("FileEntry", b)
	var m FileEntry
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Size, err = d.u64(); err != nil {
		return m, err
	}
	if m.Mtime, err = d.i64(); err != nil {
		return m, err
	}
	if m.Mode, err = d.u32(); err != nil {
		return m, err
	}
	if m.Inode, err = d.u64(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u8(); err != nil {
		return m, err
	}
	if m.Flags&FileFlagSymlink != 0 {
		if m.SymlinkTarget, err = d.str(); err != nil {
			return m, err
		}
	}
	if m.Flags&FileFlagHardlink != 0 {
		if m.HardlinkTarget, err = d.str(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// FileEnd terminates the stream of FileEntry/Data/DataEnd triples for a
// push/pull transfer. Totals are supplemental accounting (SPEC_FULL §C),
// informational only. FilesSkipped is the quick-check skip count: the
// Generator is the only task that ever knows it, so it rides along here
// for whichever side assembles the terminal Done message.
type FileEnd struct {
	TotalFiles   uint32
	TotalBytes   uint64
	FilesSkipped uint32
}

func (FileEnd) Type() byte { return TypeFileEnd }
func (m FileEnd) encode(e *encoder) {
	e.u32(m.TotalFiles)
	e.u64(m.TotalBytes)
	e.u32(m.FilesSkipped)
}

func decodeFileEnd(b []byte) (FileEnd, error) {
	d := newDecoder("FileEnd", b)
	var m FileEnd
	var err error
	if m.TotalFiles, err = d.u32(); err != nil {
		return m, err
	}
	if m.TotalBytes, err = d.u64(); err != nil {
		return m, err
	}
	if m.FilesSkipped, err = d.u32(); err != nil {
		return m, err
	}
	return m, nil
}

// BlockChecksum is one entry of a DestFileEntry's checksum table.
type BlockChecksum struct {
	Offset uint64
	Weak   uint32
	Strong uint64
}

// DestFileEntry announces one destination-side inventory entry during
// Initial Exchange.
type DestFileEntry struct {
	Path       string
	Size       uint64
	Mtime      int64
	Mode       uint32
	Flags      byte
	BlockSize  uint32          // present iff Flags&DestFlagHasChecksums != 0
	Checksums  []BlockChecksum // present iff Flags&DestFlagHasChecksums != 0
}

func (DestFileEntry) Type() byte { return TypeDestFileEntry }

func (m DestFileEntry) encode(e *encoder) {
	e.str(m.Path)
	e.u64(m.Size)
	e.i64(m.Mtime)
	e.u32(m.Mode)
	e.u8(m.Flags)
	if m.Flags&DestFlagHasChecksums != 0 {
		e.u32(m.BlockSize)
		e.u32(uint32(len(m.Checksums)))
		for _, c := range m.Checksums {
			e.u64(c.Offset)
			e.u32(c.Weak)
			e.u64(c.Strong)
		}
	}
}

// blockChecksumWireSize is the encoded size of one BlockChecksum entry:
// offset(8) + weak(4) + strong(8).
const blockChecksumWireSize = 8 + 4 + 8

func decodeDestFileEntry(b []byte) (DestFileEntry, error) {
	d := newDecoder("DestFileEntry", b)
	var m DestFileEntry
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Size, err = d.u64(); err != nil {
		return m, err
	}
	if m.Mtime, err = d.i64(); err != nil {
		return m, err
	}
	if m.Mode, err = d.u32(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u8(); err != nil {
		return m, err
	}
	if m.Flags&DestFlagHasChecksums != 0 {
		if m.BlockSize, err = d.u32(); err != nil {
			return m, err
		}
		if m.BlockSize == 0 {
			return m, fatalf(ErrProtocol, "DestFileEntry %q: HAS_CHECKSUMS set with block_size=0", m.Path)
		}
		count, err := d.u32()
		if err != nil {
			return m, err
		}
		// Verify count*20 bytes are present before allocating the slice.
		need := int(count) * blockChecksumWireSize
		if d.remaining() < need {
			return m, fatalf(ErrTruncated, "DestFileEntry %q: checksum table needs %d bytes, have %d", m.Path, need, d.remaining())
		}
		m.Checksums = make([]BlockChecksum, count)
		for i := range m.Checksums {
			off, err := d.u64()
			if err != nil {
				return m, err
			}
			weak, err := d.u32()
			if err != nil {
				return m, err
			}
			strong, err := d.u64()
			if err != nil {
				return m, err
			}
			m.Checksums[i] = BlockChecksum{Offset: off, Weak: weak, Strong: strong}
			if i > 0 && off != m.Checksums[i-1].Offset+uint64(m.BlockSize) {
				return m, fatalf(ErrProtocol, "DestFileEntry %q: non-contiguous checksum offsets at block %d", m.Path, i)
			}
		}
	}
	return m, nil
}

// DestFileEnd terminates the Initial Exchange's stream of DestFileEntry
// messages.
type DestFileEnd struct{}

func (DestFileEnd) Type() byte          { return TypeDestFileEnd }
func (DestFileEnd) encode(e *encoder)   {}
func decodeDestFileEnd([]byte) (DestFileEnd, error) { return DestFileEnd{}, nil }

// Data carries either raw file bytes (offset meaningful) or a sequence of
// delta opcodes (offset ignored, see internal/delta for the opcode wire
// format nested inside Data).
type Data struct {
	Path   string
	Offset uint64
	Flags  byte
	Data   []byte
}

func (Data) Type() byte { return TypeData }
func (m Data) encode(e *encoder) {
	e.str(m.Path)
	e.u64(m.Offset)
	e.u8(m.Flags)
	e.u32(uint32(len(m.Data)))
	e.bytes(m.Data)
}

func decodeData(b []byte) (Data, error) {
	d := newDecoder("Data", b)
	var m Data
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Offset, err = d.u64(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u8(); err != nil {
		return m, err
	}
	n, err := d.u32()
	if err != nil {
		return m, err
	}
	if n > MaxFrameSize {
		return m, fatalf(ErrFrameTooLarge, "Data %q: data_len %d exceeds max frame size", m.Path, n)
	}
	payload, err := d.bytesN(int(n))
	if err != nil {
		return m, err
	}
	m.Data = payload
	return m, nil
}

// DataEnd terminates the Data stream for one file.
type DataEnd struct {
	Path   string
	Status byte
}

func (DataEnd) Type() byte { return TypeDataEnd }
func (m DataEnd) encode(e *encoder) {
	e.str(m.Path)
	e.u8(m.Status)
}

func decodeDataEnd(b []byte) (DataEnd, error) {
	d := newDecoder("DataEnd", b)
	var m DataEnd
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Status, err = d.u8(); err != nil {
		return m, err
	}
	return m, nil
}

// Delete announces a destination-only path to remove.
type Delete struct {
	Path  string
	IsDir bool
}

func (Delete) Type() byte { return TypeDelete }
func (m Delete) encode(e *encoder) {
	e.str(m.Path)
	e.bool(m.IsDir)
}

func decodeDelete(b []byte) (Delete, error) {
	d := newDecoder("Delete", b)
	var m Delete
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.IsDir, err = d.boolean(); err != nil {
		return m, err
	}
	return m, nil
}

// DeleteEnd terminates the Delete stream.
type DeleteEnd struct {
	Count uint32
}

func (DeleteEnd) Type() byte { return TypeDeleteEnd }
func (m DeleteEnd) encode(e *encoder) {
	e.u32(m.Count)
}

func decodeDeleteEnd(b []byte) (DeleteEnd, error) {
	d := newDecoder("DeleteEnd", b)
	var m DeleteEnd
	var err error
	if m.Count, err = d.u32(); err != nil {
		return m, err
	}
	return m, nil
}

// Mkdir requests creation of a destination directory.
type Mkdir struct {
	Path string
	Mode uint32
}

func (Mkdir) Type() byte { return TypeMkdir }
func (m Mkdir) encode(e *encoder) {
	e.str(m.Path)
	e.u32(m.Mode)
}

func decodeMkdir(b []byte) (Mkdir, error) {
	d := newDecoder("Mkdir", b)
	var m Mkdir
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Mode, err = d.u32(); err != nil {
		return m, err
	}
	return m, nil
}

// Symlink requests creation of a destination symlink.
type Symlink struct {
	Path   string
	Target string
}

func (Symlink) Type() byte { return TypeSymlink }
func (m Symlink) encode(e *encoder) {
	e.str(m.Path)
	e.str(m.Target)
}

func decodeSymlink(b []byte) (Symlink, error) {
	d := newDecoder("Symlink", b)
	var m Symlink
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Target, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// Progress is decoded for forward compatibility (spec §9 Open Questions);
// no sender/receiver path in this core emits it yet.
type Progress struct {
	Path       string
	BytesDone  uint64
	BytesTotal uint64
}

func (Progress) Type() byte { return TypeProgress }
func (m Progress) encode(e *encoder) {
	e.str(m.Path)
	e.u64(m.BytesDone)
	e.u64(m.BytesTotal)
}

func decodeProgress(b []byte) (Progress, error) {
	d := newDecoder("Progress", b)
	var m Progress
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.BytesDone, err = d.u64(); err != nil {
		return m, err
	}
	if m.BytesTotal, err = d.u64(); err != nil {
		return m, err
	}
	return m, nil
}

// Error reports a recoverable, per-file condition. It never ends the
// session.
type Error struct {
	Code    uint16
	Message string
}

func (Error) Type() byte { return TypeError }
func (m Error) encode(e *encoder) {
	e.u16(m.Code)
	e.str(m.Message)
}

func decodeError(b []byte) (Error, error) {
	d := newDecoder("Error", b)
	var m Error
	var err error
	if m.Code, err = d.u16(); err != nil {
		return m, err
	}
	if m.Message, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// Fatal reports a session-ending protocol violation. The receiving side
// should surface ProtocolError and stop.
type Fatal struct {
	Code    uint16
	Message string
}

func (Fatal) Type() byte { return TypeFatal }
func (m Fatal) encode(e *encoder) {
	e.u16(m.Code)
	e.str(m.Message)
}

func decodeFatal(b []byte) (Fatal, error) {
	d := newDecoder("Fatal", b)
	var m Fatal
	var err error
	if m.Code, err = d.u16(); err != nil {
		return m, err
	}
	if m.Message, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// Xattr is decoded for forward compatibility (spec §9 Open Questions); no
// sender/receiver path in this core emits it yet.
type Xattr struct {
	Path  string
	Name  string
	Value []byte
}

func (Xattr) Type() byte { return TypeXattr }
func (m Xattr) encode(e *encoder) {
	e.str(m.Path)
	e.str(m.Name)
	e.u32(uint32(len(m.Value)))
	e.bytes(m.Value)
}

func decodeXattr(b []byte) (Xattr, error) {
	d := newDecoder("Xattr", b)
	var m Xattr
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Name, err = d.str(); err != nil {
		return m, err
	}
	n, err := d.u32()
	if err != nil {
		return m, err
	}
	val, err := d.bytesN(int(n))
	if err != nil {
		return m, err
	}
	m.Value = val
	return m, nil
}

// Done is the terminal summary message. Fields beyond FilesOK/FilesErr/Bytes
// are the SPEC_FULL §C accounting supplement (skip/full/delta breakdown);
// this protocol has exactly one version and one reader, so widening the
// message in place (rather than branching on a version) is safe.
type Done struct {
	FilesOK      uint32
	FilesErr     uint32
	Bytes        uint64
	FilesSkipped uint32
	FilesFull    uint32
	FilesDelta   uint32
}

func (Done) Type() byte { return TypeDone }
func (m Done) encode(e *encoder) {
	e.u32(m.FilesOK)
	e.u32(m.FilesErr)
	e.u64(m.Bytes)
	e.u32(m.FilesSkipped)
	e.u32(m.FilesFull)
	e.u32(m.FilesDelta)
}

func decodeDone(b []byte) (Done, error) {
	d := newDecoder("Done", b)
	var m Done
	var err error
	if m.FilesOK, err = d.u32(); err != nil {
		return m, err
	}
	if m.FilesErr, err = d.u32(); err != nil {
		return m, err
	}
	if m.Bytes, err = d.u64(); err != nil {
		return m, err
	}
	if m.FilesSkipped, err = d.u32(); err != nil {
		return m, err
	}
	if m.FilesFull, err = d.u32(); err != nil {
		return m, err
	}
	if m.FilesDelta, err = d.u32(); err != nil {
		return m, err
	}
	return m, nil
}
