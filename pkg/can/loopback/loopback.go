package loopback

import (
	"sync"

	chademo "github.com/samsamfire/gochademo"
	can "github.com/samsamfire/gochademo/pkg/can"
)

// In-memory CAN bus for tests and simulations.
// Every bus created with the same channel name shares the same medium,
// a sent frame is delivered synchronously to all other connected buses.

func init() {
	can.RegisterInterface("loopback", NewLoopbackBus)
}

type medium struct {
	mu    sync.RWMutex
	buses map[*Bus]struct{}
}

var (
	mediumsMu sync.Mutex
	mediums   = make(map[string]*medium)
)

func getMedium(channel string) *medium {
	mediumsMu.Lock()
	defer mediumsMu.Unlock()
	m, ok := mediums[channel]
	if !ok {
		m = &medium{buses: make(map[*Bus]struct{})}
		mediums[channel] = m
	}
	return m
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	medium       *medium
	connected    bool
	receiveOwn   bool
	framehandler chademo.FrameListener
}

func NewLoopbackBus(channel string) (chademo.Bus, error) {
	return &Bus{channel: channel, medium: getMedium(channel)}, nil
}

// "Connect" attaches the bus to its channel
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.medium.mu.Lock()
	b.medium.buses[b] = struct{}{}
	b.medium.mu.Unlock()
	return nil
}

// "Disconnect" detaches the bus, frames are no longer delivered to it
func (b *Bus) Disconnect() error {
	b.medium.mu.Lock()
	delete(b.medium.buses, b)
	b.medium.mu.Unlock()
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame chademo.Frame) error {
	b.mu.Lock()
	connected, receiveOwn := b.connected, b.receiveOwn
	b.mu.Unlock()
	if !connected {
		return chademo.ErrNoConnection
	}
	// Snapshot targets to avoid holding the medium lock while delivering
	b.medium.mu.RLock()
	targets := make([]*Bus, 0, len(b.medium.buses))
	for target := range b.medium.buses {
		if target != b || receiveOwn {
			targets = append(targets, target)
		}
	}
	b.medium.mu.RUnlock()

	for _, target := range targets {
		target.deliver(frame)
	}
	return nil
}

func (b *Bus) deliver(frame chademo.Frame) {
	b.mu.Lock()
	handler := b.framehandler
	b.mu.Unlock()
	if handler != nil {
		handler.Handle(frame)
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler chademo.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
