package delta

import "io"

// Apply reconstructs the original source bytes by replaying ops against
// dest, an io.ReaderAt over the pre-existing destination file. It is the
// inverse of Compute and exists primarily so tests can assert the round
// trip spec §8 requires; production code performs the equivalent work
// inline in internal/receiver while streaming, rather than building a
// full []Op slice first.
func Apply(dest io.ReaderAt, ops []Op) ([]byte, error) {
	var out []byte
	for _, op := range ops {
		switch op.Kind {
		case KindCopy:
			buf := make([]byte, op.Size)
			if _, err := dest.ReadAt(buf, int64(op.Offset)); err != nil {
				return nil, err
			}
			out = append(out, buf...)
		case KindInsert:
			out = append(out, op.Data...)
		}
	}
	return out, nil
}

// sliceOpWriter is a simple OpWriter that appends to a slice, used by tests
// and by any caller that wants the whole op stream materialized rather than
// consumed as it is produced.
type sliceOpWriter struct {
	Ops []Op
}

func (s *sliceOpWriter) WriteOp(op Op) error {
	s.Ops = append(s.Ops, op)
	return nil
}
