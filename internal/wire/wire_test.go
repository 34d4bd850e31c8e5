package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	c := &Conn{Reader: &buf, Writer: &buf}
	if err := c.WriteMessage(m); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		Hello{Version: 2, Flags: FlagDelete | FlagPull, Path: "mod/path"},
		FileEntry{Path: "a/b.txt", Size: 5, Mtime: 100, Mode: 0o644, Inode: 7},
		FileEntry{Path: "a/link", Flags: FileFlagSymlink, SymlinkTarget: "../b.txt"},
		FileEntry{Path: "a/hard", Flags: FileFlagHardlink, HardlinkTarget: "a/b.txt"},
		FileEnd{TotalFiles: 3, TotalBytes: 1024, FilesSkipped: 1},
		DestFileEntry{Path: "a/b.txt", Size: 8192, Mtime: 99, Mode: 0o644, Flags: DestFlagHasChecksums,
			BlockSize: 4096,
			Checksums: []BlockChecksum{
				{Offset: 0, Weak: 111, Strong: 222},
				{Offset: 4096, Weak: 333, Strong: 444},
			},
		},
		DestFileEnd{},
		Data{Path: "a/b.txt", Offset: 0, Flags: 0, Data: []byte("hello")},
		Data{Path: "a/b.txt", Flags: DataFlagDelta, Data: []byte{0x00, 1, 2, 3}},
		DataEnd{Path: "a/b.txt", Status: StatusOK},
		Delete{Path: "stale.txt", IsDir: false},
		DeleteEnd{Count: 1},
		Mkdir{Path: "sub", Mode: 0o755},
		Symlink{Path: "a/link", Target: "../b.txt"},
		Progress{Path: "a/b.txt", BytesDone: 10, BytesTotal: 20},
		Error{Code: 1, Message: "open failed"},
		Fatal{Code: ErrPathTraversal, Message: "traversal"},
		Xattr{Path: "a/b.txt", Name: "user.foo", Value: []byte("bar")},
		Done{FilesOK: 2, FilesErr: 0, Bytes: 10, FilesSkipped: 1, FilesFull: 1, FilesDelta: 0},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%T round-trip mismatch (-want +got):\n%s", want, diff)
		}
	}
}

func TestFrameSizeGuardRejectsBeforeAllocating(t *testing.T) {
	var buf bytes.Buffer
	// Craft a length header far above MaxFrameSize, with no payload
	// following it at all -- if ReadFrame allocated and read the payload
	// first, this would fail with a read error on the (absent) payload
	// instead of ErrFrameTooLarge.
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[0:4], MaxFrameSize+1)
	hdr[4] = TypeData
	buf.Write(hdr[:])

	c := &Conn{Reader: &buf, Writer: &bytes.Buffer{}}
	_, err := c.ReadFrame()
	if err == nil {
		t.Fatal("expected an error for an oversized frame, got nil")
	}
	var pe *ProtocolError
	if !errorsAs(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if pe.Code != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got code %d", pe.Code)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	c := &Conn{Reader: &buf, Writer: &buf}
	err := c.WriteFrame(TypeData, make([]byte, MaxFrameSize+1))
	if err == nil {
		t.Fatal("expected an error writing an oversized frame")
	}
}

func TestCheckVersionRejectsNonV2(t *testing.T) {
	for _, v := range []uint16{0, 1, 3, 99} {
		if err := CheckVersion(v); err == nil {
			t.Errorf("CheckVersion(%d) = nil, want error", v)
		}
	}
	if err := CheckVersion(2); err != nil {
		t.Errorf("CheckVersion(2) = %v, want nil", err)
	}
}

// errorsAs is a tiny local shim so this file doesn't need a second import
// line for errors.As in addition to testing's own assertions.
func errorsAs(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
