package socketcan

import (
	"sync"
	"time"

	sockcan "github.com/brutella/can"
	chademo "github.com/samsamfire/gochademo"
	can "github.com/samsamfire/gochademo/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Basic wrapper for socketcan it uses the implementation
// that can be found here : https://github.com/brutella/can
// The interface (e.g. can0) should be up and configured at 500 kbit/s.

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	name       string
	bus        *sockcan.Bus
	rxCallback chademo.FrameListener
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	go func() {
		err := socketcan.bus.ConnectAndPublish()
		if err != nil {
			log.Warnf("[SOCKETCAN][%v] reception stopped | %v", socketcan.name, err)
		}
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame chademo.Frame) error {
	return socketcan.bus.Publish(
		sockcan.Frame{
			ID:     frame.ID,
			Length: frame.DLC,
			Flags:  frame.Flags,
			Data:   frame.Data,
		})
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback chademo.FrameListener) error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	first := socketcan.rxCallback == nil
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	if first {
		socketcan.bus.Subscribe(socketcan)
	}
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	socketcan.mu.Lock()
	rxCallback := socketcan.rxCallback
	socketcan.mu.Unlock()
	if rxCallback == nil {
		return
	}
	rxCallback.Handle(chademo.Frame{
		ID:        frame.ID,
		DLC:       frame.Length,
		Flags:     frame.Flags,
		Data:      frame.Data,
		Timestamp: time.Now(),
	})
}

func NewSocketCanBus(name string) (chademo.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{name: name, bus: bus}, nil
}
