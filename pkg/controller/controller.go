// Package controller binds a protocol machine to a CAN transport and a clock
// and drives it cyclically.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/machine"
	"github.com/samsamfire/gochademo/pkg/session"
	log "github.com/sirupsen/logrus"
)

var ErrNotFaulted = machine.ErrNotFaulted

// Controller counters, machine counters included
type Stats struct {
	machine.Stats
	FramesSent      uint64
	TransportErrors uint64
	FramesDropped   uint64 // Lost on reception, supervised transports only
	BusError        uint16 // CAN error flags seen during the last cycle
}

// Controller is the session boundary. Every call is serialised, a drive cycle
// is never interleaved with an external request.
type Controller struct {
	mu        sync.Mutex
	machine   *machine.Machine
	transport chademo.Transport
	clock     chademo.Clock
	logger    log.FieldLogger
	stats     Stats
	rx        []chademo.Frame
}

type Option func(c *Controller)

func WithLogger(logger log.FieldLogger) Option {
	return func(c *Controller) { c.logger = logger }
}

func New(transport chademo.Transport, clock chademo.Clock, m *machine.Machine, opts ...Option) (*Controller, error) {
	if transport == nil || m == nil {
		return nil, chademo.ErrIllegalArgument
	}
	if clock == nil {
		clock = chademo.SystemClock{}
	}
	c := &Controller{
		machine:   m,
		transport: transport,
		clock:     clock,
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run one drive cycle : poll every pending frame, cycle the machine, send
// its output. Send failures are joined and returned once the cycle is done.
func (c *Controller) Step() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rx = c.rx[:0]
	for {
		frame, ok := c.transport.Receive()
		if !ok {
			break
		}
		c.rx = append(c.rx, frame)
	}
	if link, ok := c.transport.(chademo.Supervised); ok {
		c.superviseLink(link)
	}
	out := c.machine.Cycle(c.clock.Now(), c.rx)

	var errs []error
	for _, frame := range out.Frames {
		if err := c.transport.Send(frame); err != nil {
			c.stats.TransportErrors++
			errs = append(errs, err)
			continue
		}
		c.stats.FramesSent++
	}
	if len(errs) > 0 {
		c.logger.Warnf("[CONTROLLER] %v frame(s) not sent | %v", len(errs), errs[0])
	}
	return errors.Join(errs...)
}

func (c *Controller) superviseLink(link chademo.Supervised) {
	c.stats.BusError = link.Error()
	dropped := link.Dropped()
	if dropped > c.stats.FramesDropped {
		c.logger.Warnf("[CONTROLLER] %v frame(s) lost on reception | bus error x%x",
			dropped-c.stats.FramesDropped, c.stats.BusError)
	}
	c.stats.FramesDropped = dropped
	if err := link.Process(); err != nil {
		c.logger.Warnf("[CONTROLLER] link processing failed | %v", err)
	}
}

// Run drive cycles every cycle period until the context is done
func (c *Controller) Run(ctx context.Context) error {
	period := c.machine.Config().CyclePeriod
	if period <= 0 {
		period = machine.DefaultCyclePeriod
	}
	c.logger.Infof("[CONTROLLER][%v] starting drive cycle every %v", c.machine.Config().Role, period)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Infof("[CONTROLLER][%v] exited drive cycle", c.machine.Config().Role)
			return ctx.Err()
		case <-ticker.C:
			// Transport errors are counted, the session supervises the link
			_ = c.Step()
		}
	}
}

func (c *Controller) Phase() session.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Phase()
}

// Copy of the session parameters
func (c *Controller) Parameters() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Snapshot()
}

func (c *Controller) Setpoint() session.Setpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Setpoint()
}

func (c *Controller) Fault() (session.FaultRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Fault()
}

func (c *Controller) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.RequestStop()
}

func (c *Controller) AcknowledgeFault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.AcknowledgeFault(c.clock.Now())
}

// Replace the local inputs, applied at the next cycle
func (c *Controller) UpdateInputs(inputs machine.Inputs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.SetInputs(inputs)
}

// Modify the local inputs in place
func (c *Controller) ModifyInputs(modify func(inputs *machine.Inputs)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inputs := c.machine.Inputs()
	modify(&inputs)
	c.machine.SetInputs(inputs)
}

func (c *Controller) Inputs() machine.Inputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Inputs()
}

// Callback is run from within the drive cycle and must not call the controller
func (c *Controller) OnPhaseChange(callback func(from session.Phase, to session.Phase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.OnPhaseChange(callback)
}

func (c *Controller) Role() session.Role {
	return c.machine.Config().Role
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Stats = c.machine.Stats()
	return stats
}
