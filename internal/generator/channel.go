package generator

import "context"

// ChannelSink adapts a bounded Go channel to the Sink interface. Its
// capacity is the backpressure knob spec §4.2 and §5 describe: a full
// channel blocks Generate's Send, which blocks the scan, which is exactly
// how the Sender's pace propagates back to the Generator without an
// explicit flow-control message.
type ChannelSink struct {
	C chan Work
}

// NewChannelSink creates a ChannelSink with the spec-mandated capacity of
// 1024 (spec §4.2: "The output channel is bounded (capacity 1024
// messages)").
func NewChannelSink() *ChannelSink {
	return &ChannelSink{C: make(chan Work, 1024)}
}

func (s *ChannelSink) Send(ctx context.Context, w Work) error {
	select {
	case s.C <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals that no more Work will be sent. Call after Generate
// returns; the Sender's consuming range loop ends when this fires.
func (s *ChannelSink) Close() {
	close(s.C)
}
