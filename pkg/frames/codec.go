package frames

import (
	"encoding/binary"
	"fmt"
	"sync"

	chademo "github.com/samsamfire/gochademo"
)

// Payload length of every CHAdeMO frame
const FrameDLC = 8

// CAN identifiers of the CHAdeMO messages
const (
	IDVehicleLimits    uint32 = 0x100
	IDVehicleTiming    uint32 = 0x101
	IDVehicleStatus    uint32 = 0x102
	IDChargerOutput    uint32 = 0x108
	IDChargerStatus    uint32 = 0x109
	IDVehicleDischarge uint32 = 0x200
	IDChargerDischarge uint32 = 0x208
	IDDischargeControl uint32 = 0x209
)

// A decoded protocol message.
// Each variant maps to exactly one identifier and one canonical layout.
type Message interface {
	ID() uint32
	Payload() [8]byte
}

// Decodes a validated 8 byte payload into a message
type DecodeFunc func(data [8]byte) (Message, error)

// Returns true if the identifier is transmitted by the vehicle
func IsVehicleID(id uint32) bool {
	return id == IDVehicleLimits || id == IDVehicleTiming || id == IDVehicleStatus || id == IDVehicleDischarge
}

// Returns true if the identifier is transmitted by the charger
func IsChargerID(id uint32) bool {
	return id == IDChargerOutput || id == IDChargerStatus || id == IDChargerDischarge || id == IDDischargeControl
}

// Codec converts between CAN frames and protocol messages
type Codec struct {
	mu       sync.RWMutex
	decoders map[uint32]DecodeFunc
}

// Create a codec with every base and bidirectional message registered
func NewCodec() *Codec {
	codec := &Codec{decoders: make(map[uint32]DecodeFunc)}
	codec.Register(IDVehicleLimits, decodeVehicleLimits)
	codec.Register(IDVehicleTiming, decodeVehicleTiming)
	codec.Register(IDVehicleStatus, decodeVehicleStatus)
	codec.Register(IDChargerOutput, decodeChargerOutput)
	codec.Register(IDChargerStatus, decodeChargerStatus)
	codec.Register(IDVehicleDischarge, decodeVehicleDischarge)
	codec.Register(IDChargerDischarge, decodeChargerDischarge)
	codec.Register(IDDischargeControl, decodeDischargeControl)
	return codec
}

// Register or replace the decoder of a standard identifier
func (c *Codec) Register(id uint32, decoder DecodeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[id&chademo.CanSffMask] = decoder
}

// Decode a CAN frame into a message.
// Never panics, any frame that cannot be decoded is reported as an error.
func (c *Codec) Decode(frame chademo.Frame) (Message, error) {
	if frame.Extended() {
		return nil, fmt.Errorf("%w : extended id x%x", ErrUnknownIdentifier, frame.ID&^chademo.CanEffFlag)
	}
	if frame.Remote() {
		return nil, fmt.Errorf("%w : remote request x%x", ErrUnknownIdentifier, frame.ID&chademo.CanSffMask)
	}
	c.mu.RLock()
	decoder, ok := c.decoders[frame.ID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w : x%x", ErrUnknownIdentifier, frame.ID)
	}
	if frame.DLC != FrameDLC {
		return nil, malformed(frame.ID, "dlc %v, expected %v", frame.DLC, FrameDLC)
	}
	return decoder(frame.Data)
}

// Encode a message into its canonical CAN frame
func Encode(msg Message) chademo.Frame {
	return chademo.Frame{ID: msg.ID(), DLC: FrameDLC, Data: msg.Payload()}
}

func malformed(id uint32, format string, args ...any) error {
	return fmt.Errorf("%w : x%x %s", ErrMalformedPayload, id, fmt.Sprintf(format, args...))
}

func checkReserved(id uint32, data [8]byte, indexes ...int) error {
	for _, index := range indexes {
		if data[index] != 0 {
			return malformed(id, "reserved byte %v is x%x", index, data[index])
		}
	}
	return nil
}

func checkPercent(id uint32, name string, value uint8) error {
	if value > uint8(MaxPercent) {
		return malformed(id, "%v out of range : %v", name, value)
	}
	return nil
}

func getVolts(data []byte) Volts {
	return Volts(binary.LittleEndian.Uint16(data))
}

func putVolts(data []byte, v Volts) {
	binary.LittleEndian.PutUint16(data, uint16(v))
}
