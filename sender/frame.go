// Package sender streams queued texture deliveries to clients as
// length-prefixed msgpack packet frames.
package sender

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum frame payload (MaxFrameSize - prefix).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// PacketKind discriminates packet frame types.
type PacketKind string

const (
	// PacketKindHeader opens a texture stream: totals and parameters.
	PacketKindHeader PacketKind = "header"
	// PacketKindData carries one slice of payload bytes.
	PacketKindData PacketKind = "data"
)

// Packet is one frame of a texture delivery stream.
type Packet struct {
	// Kind discriminates header vs data frames.
	Kind PacketKind `msgpack:"kind"`
	// Asset is the asset UUID being streamed.
	Asset string `msgpack:"asset"`
	// Number is the packet number within the stream, starting at 0 for
	// the header.
	Number int `msgpack:"number"`
	// TotalPackets is the full packet count for the stream. Header only.
	TotalPackets int `msgpack:"total_packets,omitempty"`
	// TotalBytes is the byte length being delivered. Header only.
	TotalBytes int `msgpack:"total_bytes,omitempty"`
	// DiscardLevel is the discard level the totals were computed for.
	// Header only.
	DiscardLevel int `msgpack:"discard_level,omitempty"`
	// Data is the payload slice. Data frames only.
	Data []byte `msgpack:"data,omitempty"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err is a *FrameError of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr) && frameErr.Kind == kind
}

// FrameEncoder writes length-prefixed msgpack packet frames to a stream.
type FrameEncoder struct {
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WritePacket encodes pkt and writes it as one frame.
func (e *FrameEncoder) WritePacket(pkt *Packet) error {
	payload, err := msgpack.Marshal(pkt)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to encode packet", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("packet size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := e.writer.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := e.writer.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// FrameDecoder decodes length-prefixed msgpack packet frames from a
// stream. The consumer side lives out of process; the decoder exists for
// tooling and tests.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadPacket reads and decodes a single frame.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
//   - *FrameError with Kind=FrameErrorDecode: msgpack decode failure
func (d *FrameDecoder) ReadPacket() (*Packet, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	var pkt Packet
	if err := msgpack.Unmarshal(payload, &pkt); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode packet",
			Err:  err,
		}
	}
	return &pkt, nil
}
