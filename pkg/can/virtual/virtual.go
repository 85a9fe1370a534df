package virtual

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	chademo "github.com/samsamfire/gochademo"
	can "github.com/samsamfire/gochademo/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Virtual CAN bus implementation with TCP primarily used for testing
// This needs a broker server to send CAN frames to all connected clients
// More information : https://github.com/windelbouwman/virtualcan

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

const (
	readTimeout  = 200 * time.Millisecond
	writeTimeout = 10 * time.Millisecond
)

// Frame as exchanged with the broker, reception time is local
type wireFrame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	conn         net.Conn
	receiveOwn   bool
	framehandler chademo.FrameListener
	done         chan struct{}
	wg           sync.WaitGroup
}

func NewVirtualCanBus(channel string) (chademo.Bus, error) {
	return &Bus{channel: channel}, nil
}

// Helper function for serializing a CAN frame into the expected binary format
func serializeFrame(frame chademo.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	wire := wireFrame{ID: frame.ID, Flags: frame.Flags, DLC: frame.DLC, Data: frame.Data}
	err := binary.Write(buffer, binary.BigEndian, wire)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4, 4+len(dataBytes))
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	return append(frameBytes, dataBytes...), nil
}

// Helper function for deserializing a CAN frame from expected binary format
func deserializeFrame(buffer []byte) (chademo.Frame, error) {
	var wire wireFrame
	err := binary.Read(bytes.NewReader(buffer), binary.BigEndian, &wire)
	if err != nil {
		return chademo.Frame{}, err
	}
	return chademo.Frame{ID: wire.ID, Flags: wire.Flags, DLC: wire.DLC, Data: wire.Data}, nil
}

// "Connect" to server e.g. localhost:18000
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return fmt.Errorf("%w : %w", chademo.ErrNoConnection, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

// "Disconnect" from server
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	done := b.done
	b.done = nil
	b.mu.Unlock()
	if done != nil {
		close(done)
	}
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame chademo.Frame) error {
	b.mu.Lock()
	conn, receiveOwn, handler := b.conn, b.receiveOwn, b.framehandler
	b.mu.Unlock()
	// Local loopback
	if receiveOwn && handler != nil {
		handler.Handle(frame)
	}
	if conn == nil {
		if receiveOwn {
			return nil
		}
		return chademo.ErrNoConnection
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(frameBytes)
	return err
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler chademo.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.done != nil || b.conn == nil {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to frameHandler
	b.done = make(chan struct{})
	b.wg.Add(1)
	go b.handleReception(b.conn, b.done)
	return nil
}

// Receive new CAN message
func recv(conn net.Conn) (chademo.Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(conn, headerBytes); err != nil {
		return chademo.Frame{}, err
	}
	length := binary.BigEndian.Uint32(headerBytes)
	if length > 64 {
		return chademo.Frame{}, fmt.Errorf("error deserializing : unexpected length %v", length)
	}
	frameBytes := make([]byte, length)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	if _, err := io.ReadFull(conn, frameBytes); err != nil {
		return chademo.Frame{}, err
	}
	return deserializeFrame(frameBytes)
}

// Handle incoming traffic
func (b *Bus) handleReception(conn net.Conn, done chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}
		frame, err := recv(conn)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			// No message received, this is OK
			continue
		}
		if err != nil {
			log.Errorf("[VIRTUAL][%v] listening routine has closed | %v", b.channel, err)
			return
		}
		frame.Timestamp = time.Now()
		b.mu.Lock()
		handler := b.framehandler
		b.mu.Unlock()
		if handler != nil {
			handler.Handle(frame)
		}
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
