//go:build linux

package socketcanraw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	chademo "github.com/samsamfire/gochademo"
	can "github.com/samsamfire/gochademo/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const DefaultRcvTimeout = 100 * time.Millisecond

func init() {
	can.RegisterInterface("socketcanraw", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	channel    string
	fd         int
	rxCallback chademo.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewSocketCanBus(channel string) (chademo.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %w", err)
	}
	tv := unix.NsecToTimeval(DefaultRcvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout : %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &SocketcanBus{channel: channel, fd: fd}, nil
}

// "Connect" implementation of Bus interface
func (s *SocketcanBus) Connect(...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (s *SocketcanBus) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	return unix.Close(s.fd)
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame chademo.Frame) error {
	raw := encodeFrame(frame)
	n, err := unix.Write(s.fd, raw[:])
	if err != nil {
		return err
	}
	if n != FrameSize {
		return fmt.Errorf("short write %v/%v", n, FrameSize)
	}
	return nil
}

// process incoming frames. This is meant to be run inside of a goroutine
func (s *SocketcanBus) processIncoming(ctx context.Context) {
	raw := make([]byte, FrameSize)
	for {
		select {
		case <-ctx.Done():
			log.Infof("[SOCKETCAN][%v] exiting CAN bus reception, closed", s.channel)
			return
		default:
		}
		n, err := unix.Read(s.fd, raw)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			log.Errorf("[SOCKETCAN][%v] exiting CAN bus reception | %v", s.channel, err)
			return
		}
		frame, err := decodeFrame(raw[:n])
		if err != nil {
			log.Warnf("[SOCKETCAN][%v] dropped frame | %v", s.channel, err)
			continue
		}
		frame.Timestamp = time.Now()
		s.mu.Lock()
		rxCallback := s.rxCallback
		s.mu.Unlock()
		if rxCallback != nil {
			rxCallback.Handle(frame)
		}
	}
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(rxCallback chademo.FrameListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxCallback = rxCallback
	return nil
}

// Enable own reception on the bus. CAN be useful when testing for example
func (s *SocketcanBus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	log.Infof("[SOCKETCAN][%v] setting option 'CAN_RAW_RECV_OWN_MSGS' %v", s.channel, enabled)
	return unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// Only accept the given standard identifiers, e.g. the frames of the peer
func (s *SocketcanBus) SetFilters(ids ...uint32) error {
	filters := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		filters = append(filters, unix.CanFilter{
			Id:   id & chademo.CanSffMask,
			Mask: chademo.CanSffMask | chademo.CanEffFlag | chademo.CanRtrFlag,
		})
	}
	log.Infof("[SOCKETCAN][%v] setting option 'CAN_RAW_FILTER' %x", s.channel, ids)
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}
