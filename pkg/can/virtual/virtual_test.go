package virtual

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/stretchr/testify/assert"
)

// Minimal broker relaying every frame to all other clients
func startBroker(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	var mu sync.Mutex
	clients := map[net.Conn]struct{}{}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			clients[conn] = struct{}{}
			mu.Unlock()
			go func(conn net.Conn) {
				defer func() {
					mu.Lock()
					delete(clients, conn)
					mu.Unlock()
					conn.Close()
				}()
				header := make([]byte, 4)
				for {
					if _, err := io.ReadFull(conn, header); err != nil {
						return
					}
					payload := make([]byte, binary.BigEndian.Uint32(header))
					if _, err := io.ReadFull(conn, payload); err != nil {
						return
					}
					message := append(append([]byte{}, header...), payload...)
					mu.Lock()
					for client := range clients {
						if client != conn {
							_, _ = client.Write(message)
						}
					}
					mu.Unlock()
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return listener.Addr().String()
}

type FrameReceiver struct {
	mu     sync.Mutex
	frames []chademo.Frame
}

func (r *FrameReceiver) Handle(frame chademo.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *FrameReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newVcan(t *testing.T, channel string) *Bus {
	bus, err := NewVirtualCanBus(channel)
	assert.Nil(t, err)
	return bus.(*Bus)
}

func TestSerialization(t *testing.T) {
	frame := chademo.Frame{ID: 0x208, DLC: 8, Data: [8]byte{0xFE, 0x96, 0x00, 0xEF, 0, 0, 0xFA, 0x00}, Timestamp: time.Now()}
	raw, err := serializeFrame(frame)
	assert.Nil(t, err)
	assert.Len(t, raw, 4+14)
	assert.EqualValues(t, 14, binary.BigEndian.Uint32(raw[:4]))
	decoded, err := deserializeFrame(raw[4:])
	assert.Nil(t, err)
	assert.Equal(t, frame.ID, decoded.ID)
	assert.Equal(t, frame.DLC, decoded.DLC)
	assert.Equal(t, frame.Data, decoded.Data)
	assert.True(t, decoded.Timestamp.IsZero())
}

func TestSendAndSubscribe(t *testing.T) {
	address := startBroker(t)
	vcan1 := newVcan(t, address)
	vcan2 := newVcan(t, address)
	assert.Nil(t, vcan1.Connect())
	assert.Nil(t, vcan2.Connect())
	defer vcan1.Disconnect()
	defer vcan2.Disconnect()

	receiver := &FrameReceiver{}
	assert.Nil(t, vcan2.Subscribe(receiver))
	// Give the broker time to register both clients
	time.Sleep(50 * time.Millisecond)

	frame := chademo.Frame{ID: 0x102, DLC: 8, Data: [8]byte{2, 0x9A, 0x01, 0, 0, 0x01, 50, 0}}
	for i := 0; i < 10; i++ {
		frame.Data[3] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	assert.Eventually(t, func() bool { return receiver.count() == 10 }, 2*time.Second, 20*time.Millisecond)
	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	for i, received := range receiver.frames {
		assert.Equal(t, uint8(i), received.Data[3])
		assert.False(t, received.Timestamp.IsZero())
	}
}

func TestReceiveOwnWithoutConnection(t *testing.T) {
	vcan := newVcan(t, "127.0.0.1:1")
	assert.ErrorIs(t, vcan.Send(chademo.NewFrame(0x100, 0, 8)), chademo.ErrNoConnection)
	receiver := &FrameReceiver{}
	assert.Nil(t, vcan.Subscribe(receiver))
	vcan.SetReceiveOwn(true)
	assert.Nil(t, vcan.Send(chademo.NewFrame(0x100, 0, 8)))
	assert.Equal(t, 1, receiver.count())
	assert.Nil(t, vcan.Disconnect())
}
