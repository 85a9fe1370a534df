package chademo

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samsamfire/gochademo/internal/fifo"
	log "github.com/sirupsen/logrus"
)

// Default number of frames buffered between two drive cycles
const DefaultRxBufferSize = 64

// Bus manager is a wrapper around the CAN bus interface
// It buffers every received frame in a fixed size fifo so that the protocol
// core can poll them without blocking, and forwards specific IDs to listeners.
type BusManager struct {
	mu             sync.Mutex
	bus            Bus // Bus interface that can be adapted
	frameListeners map[uint32][]FrameListener
	rx             *fifo.Fifo[Frame]
	rxDropped      uint64
	canError       uint16
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame Frame) {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	bm.mu.Lock()
	if bm.rx.Write(frame) == 0 {
		bm.rxDropped++
		bm.canError |= CanErrorRxOverflow
		log.Warnf("[CAN] %v | id x%x", ErrRxOverflow, frame.ID)
	}
	listeners := slices.Clone(bm.frameListeners[frame.ID])
	bm.mu.Unlock()

	// Listeners run unlocked so they may call back into the manager
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

func (bm *BusManager) Receive() (Frame, bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.rx.Pop()
}

// Number of frames waiting to be received
func (bm *BusManager) Pending() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.rx.GetOccupied()
}

// Set bus
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return fmt.Errorf("%w : %w", ErrTransport, ErrNoConnection)
	}
	err := bus.Send(frame)
	if err != nil {
		log.Warnf("[CAN] %v", err)
		return fmt.Errorf("%w : %w", ErrTransport, err)
	}
	return nil
}

// Connect the underlying bus and subscribe to its frames
func (bm *BusManager) Connect(args ...any) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNoConnection
	}
	if err := bus.Connect(args...); err != nil {
		return err
	}
	return bus.Subscribe(bm)
}

func (bm *BusManager) Disconnect() error {
	bus := bm.Bus()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

// This should be called cyclically to update errors
func (bm *BusManager) Process() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if bm.rx.GetSpace() > 0 {
		bm.canError &^= CanErrorRxOverflow
	}
	return nil
}

// Subscribe to a specific CAN ID
func (bm *BusManager) Subscribe(ident uint32, rtr bool, callback FrameListener) error {
	if callback == nil {
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	if rtr {
		ident |= CanRtrFlag
	}
	// Verify that we are not adding the same one twice
	for _, existing := range bm.frameListeners[ident] {
		if existing == callback {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	bm.frameListeners[ident] = append(bm.frameListeners[ident], callback)
	return nil
}

// Get CAN error
func (bm *BusManager) Error() uint16 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.canError
}

// Number of frames dropped because the receive buffer was full
func (bm *BusManager) Dropped() uint64 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.rxDropped
}

func NewBusManager(bus Bus) *BusManager {
	return NewBusManagerWithSize(bus, DefaultRxBufferSize)
}

func NewBusManagerWithSize(bus Bus, rxSize uint16) *BusManager {
	bm := &BusManager{
		bus:            bus,
		frameListeners: make(map[uint32][]FrameListener),
		rx:             fifo.NewFifo[Frame](rxSize),
		canError:       0,
	}
	return bm
}
