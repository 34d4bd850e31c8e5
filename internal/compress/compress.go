// Package compress resolves spec §9's open question on Data.COMPRESSED:
// when the session negotiates Hello.flags & COMPRESSION, payloads are
// framed as zstd, chosen for the same reason rclone uses
// github.com/klauspost/compress throughout its transfer path -- a pure-Go,
// allocation-conscious implementation with good small-payload latency.
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderOnce sync.Once
	sharedEnc   *zstd.Encoder
	encErr      error

	decoderOnce sync.Once
	sharedDec   *zstd.Decoder
	decErr      error
)

func encoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		sharedEnc, encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return sharedEnc, encErr
}

func decoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		sharedDec, decErr = zstd.NewReader(nil)
	})
	return sharedDec, decErr
}

// Compress returns the zstd-compressed form of p. The encoder is shared
// and safe for concurrent use across the Sender's worker threads.
func Compress(p []byte) ([]byte, error) {
	enc, err := encoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(p, nil), nil
}

// Decompress reverses Compress.
func Decompress(p []byte) ([]byte, error) {
	dec, err := decoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(p, nil)
}
