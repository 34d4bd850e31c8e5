package wire

// Encode returns the wire-format payload for m, ready to pass to
// Conn.WriteFrame(m.Type(), ...).
func Encode(m Message) []byte {
	e := &encoder{}
	m.encode(e)
	return e.buf
}

// WriteMessage encodes and writes m as a single frame.
func (c *Conn) WriteMessage(m Message) error {
	return c.WriteFrame(m.Type(), Encode(m))
}

// Decode decodes a frame's payload according to its type tag. The returned
// value is one of the message structs in this package; callers type-switch
// on it.
func Decode(f Frame) (Message, error) {
	switch f.Type {
	case TypeHello:
		return decodeHello(f.Payload)
	case TypeFileEntry:
		return decodeFileEntry(f.Payload)
	case TypeFileEnd:
		return decodeFileEnd(f.Payload)
	case TypeDestFileEntry:
		return decodeDestFileEntry(f.Payload)
	case TypeDestFileEnd:
		return decodeDestFileEnd(f.Payload)
	case TypeData:
		return decodeData(f.Payload)
	case TypeDataEnd:
		return decodeDataEnd(f.Payload)
	case TypeDelete:
		return decodeDelete(f.Payload)
	case TypeDeleteEnd:
		return decodeDeleteEnd(f.Payload)
	case TypeMkdir:
		return decodeMkdir(f.Payload)
	case TypeSymlink:
		return decodeSymlink(f.Payload)
	case TypeProgress:
		return decodeProgress(f.Payload)
	case TypeError:
		return decodeError(f.Payload)
	case TypeFatal:
		return decodeFatal(f.Payload)
	case TypeXattr:
		return decodeXattr(f.Payload)
	case TypeDone:
		return decodeDone(f.Payload)
	default:
		return nil, errUnknownType(f.Type)
	}
}

// ReadMessage reads one frame and decodes it.
func (c *Conn) ReadMessage() (Message, error) {
	f, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Decode(f)
}
