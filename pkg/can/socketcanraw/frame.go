// Package socketcanraw is a SocketCAN driver using raw CAN sockets directly,
// with kernel side identifier filtering.
package socketcanraw

import (
	"encoding/binary"
	"fmt"

	chademo "github.com/samsamfire/gochademo"
)

// Size of struct can_frame
const FrameSize = 16

// Encode a frame into the kernel can_frame layout
func encodeFrame(frame chademo.Frame) [FrameSize]byte {
	var raw [FrameSize]byte
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

// Decode a kernel can_frame
func decodeFrame(raw []byte) (chademo.Frame, error) {
	if len(raw) != FrameSize {
		return chademo.Frame{}, fmt.Errorf("expecting %v bytes got %v", FrameSize, len(raw))
	}
	frame := chademo.Frame{
		ID:    binary.NativeEndian.Uint32(raw[0:4]),
		DLC:   raw[4],
		Flags: raw[5],
	}
	copy(frame.Data[:], raw[8:])
	return frame, nil
}
