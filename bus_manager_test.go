package chademo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeBus struct {
	mu         sync.Mutex
	sent       []Frame
	sendErr    error
	listener   FrameListener
	connected  bool
	connectErr error
}

func (b *fakeBus) Connect(...any) error {
	b.connected = b.connectErr == nil
	return b.connectErr
}

func (b *fakeBus) Disconnect() error {
	b.connected = false
	return nil
}

func (b *fakeBus) Send(frame Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, frame)
	return nil
}

func (b *fakeBus) Subscribe(callback FrameListener) error {
	b.listener = callback
	return nil
}

type frameCounter struct {
	frames []Frame
}

func (c *frameCounter) Handle(frame Frame) {
	c.frames = append(c.frames, frame)
}

func TestBusManagerReceive(t *testing.T) {
	bus := &fakeBus{}
	bm := NewBusManager(bus)
	assert.Nil(t, bm.Connect())
	assert.True(t, bus.connected)
	assert.Equal(t, bm, bus.listener)

	t.Run("empty poll does not block", func(t *testing.T) {
		_, ok := bm.Receive()
		assert.False(t, ok)
	})

	t.Run("frames are received in order with a timestamp", func(t *testing.T) {
		bus.listener.Handle(Frame{ID: 0x100, DLC: 8})
		bus.listener.Handle(Frame{ID: 0x102, DLC: 8})
		assert.Equal(t, 2, bm.Pending())
		frame, ok := bm.Receive()
		assert.True(t, ok)
		assert.EqualValues(t, 0x100, frame.ID)
		assert.False(t, frame.Timestamp.IsZero())
		frame, ok = bm.Receive()
		assert.True(t, ok)
		assert.EqualValues(t, 0x102, frame.ID)
	})

	t.Run("explicit timestamp is kept", func(t *testing.T) {
		ts := time.Unix(100, 0)
		bm.Handle(Frame{ID: 0x109, Timestamp: ts})
		frame, _ := bm.Receive()
		assert.Equal(t, ts, frame.Timestamp)
	})
}

func TestBusManagerOverflow(t *testing.T) {
	bm := NewBusManagerWithSize(&fakeBus{}, 2)
	for i := 0; i < 5; i++ {
		bm.Handle(Frame{ID: 0x100, Data: [8]byte{byte(i)}})
	}
	assert.EqualValues(t, 3, bm.Dropped())
	assert.Equal(t, CanErrorRxOverflow, int(bm.Error()))
	frame, _ := bm.Receive()
	assert.EqualValues(t, 0, frame.Data[0])
	assert.Nil(t, bm.Process())
	assert.EqualValues(t, 0, bm.Error())
}

func TestBusManagerSend(t *testing.T) {
	bus := &fakeBus{}
	bm := NewBusManager(bus)
	assert.Nil(t, bm.Send(Frame{ID: 0x108}))
	assert.Len(t, bus.sent, 1)

	bus.sendErr = errors.New("bus off")
	err := bm.Send(Frame{ID: 0x108})
	assert.ErrorIs(t, err, ErrTransport)

	bm.SetBus(nil)
	err = bm.Send(Frame{ID: 0x108})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestBusManagerSubscribe(t *testing.T) {
	bm := NewBusManager(&fakeBus{})
	counter := &frameCounter{}
	assert.Nil(t, bm.Subscribe(0x102, false, counter))
	assert.Nil(t, bm.Subscribe(0x102, false, counter))
	assert.ErrorIs(t, bm.Subscribe(0x102, false, nil), ErrIllegalArgument)
	bm.Handle(Frame{ID: 0x102})
	bm.Handle(Frame{ID: 0x109})
	assert.Len(t, counter.frames, 1)
}

type drainingListener struct {
	bm      *BusManager
	pending []int
	frames  []Frame
}

func (l *drainingListener) Handle(Frame) {
	l.pending = append(l.pending, l.bm.Pending())
	if frame, ok := l.bm.Receive(); ok {
		l.frames = append(l.frames, frame)
	}
}

func TestBusManagerListenerReentry(t *testing.T) {
	bm := NewBusManager(&fakeBus{})
	listener := &drainingListener{bm: bm}
	assert.Nil(t, bm.Subscribe(0x100, false, listener))

	done := make(chan struct{})
	go func() {
		bm.Handle(Frame{ID: 0x100, DLC: 8})
		bm.Handle(Frame{ID: 0x100, DLC: 8})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener calling back into the manager blocked Handle")
	}
	assert.Equal(t, []int{1, 1}, listener.pending)
	assert.Len(t, listener.frames, 2)
	assert.Equal(t, 0, bm.Pending())
}
