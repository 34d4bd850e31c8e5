package metrics

import (
	"testing"

	"github.com/Xiechengqi/sy/internal/wire"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAddsDoneIntoCounters(t *testing.T) {
	m := New()
	m.Observe(wire.Done{FilesOK: 2, FilesErr: 1, Bytes: 10, FilesSkipped: 3, FilesFull: 1, FilesDelta: 1})
	m.Observe(wire.Done{FilesOK: 1, Bytes: 5, FilesFull: 1})

	if got := testutil.ToFloat64(m.FilesOK); got != 3 {
		t.Errorf("FilesOK = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.FilesErr); got != 1 {
		t.Errorf("FilesErr = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FilesSkipped); got != 3 {
		t.Errorf("FilesSkipped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.FilesFull); got != 2 {
		t.Errorf("FilesFull = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FilesDelta); got != 1 {
		t.Errorf("FilesDelta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 15 {
		t.Errorf("BytesSent = %v, want 15", got)
	}
}
