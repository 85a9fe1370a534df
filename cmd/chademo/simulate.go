package main

import (
	"fmt"
	"io"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/can"
	"github.com/samsamfire/gochademo/pkg/controller"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/machine"
	"github.com/samsamfire/gochademo/pkg/session"
	"github.com/samsamfire/gochademo/pkg/v2x"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type simulation struct {
	StartSoC     uint8
	TaperSoC     uint8
	TargetSoC    uint8
	MaxCurrent   uint8
	Discharge    bool
	MinLevel     uint8
	MaxDuration  time.Duration
	StatusPeriod time.Duration
}

var sim simulation

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a complete session between a charger and a vehicle",
	Long: `Run a charger and a vehicle against each other on an in-memory bus.

Time is simulated, the session runs as fast as possible. Phase changes of
both sides are printed, as well as a periodic status line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulation(cmd.OutOrStdout(), sim)
	},
}

func init() {
	simulateCmd.Flags().Uint8Var(&sim.StartSoC, "soc", 50, "Initial state of charge")
	simulateCmd.Flags().Uint8Var(&sim.TaperSoC, "taper", 75, "State of charge where tapering starts")
	simulateCmd.Flags().Uint8Var(&sim.TargetSoC, "target", 80, "State of charge where the session stops")
	simulateCmd.Flags().Uint8Var(&sim.MaxCurrent, "current", 125, "Charger maximum current")
	simulateCmd.Flags().BoolVar(&sim.Discharge, "discharge", false, "Vehicle to grid session")
	simulateCmd.Flags().Uint8Var(&sim.MinLevel, "min-level", 30, "Minimum discharge level")
	simulateCmd.Flags().DurationVar(&sim.MaxDuration, "max-duration", 2*time.Hour, "Simulated time limit")
	simulateCmd.Flags().DurationVar(&sim.StatusPeriod, "status", time.Minute, "Simulated time between status lines")
	rootCmd.AddCommand(simulateCmd)
}

func (s simulation) configs() (machine.Config, machine.Config) {
	charger := machine.DefaultConfig(session.RoleCharger)
	charger.MaxCurrent = frames.Amps(s.MaxCurrent)
	vehicle := machine.DefaultConfig(session.RoleVehicle)
	for _, cfg := range []*machine.Config{&charger, &vehicle} {
		cfg.TaperSoC = frames.Percent(s.TaperSoC)
		cfg.TargetSoC = frames.Percent(s.TargetSoC)
		cfg.Bidirectional = s.Discharge
	}
	if s.Discharge {
		charger.Charger = v2x.ChargerSettings{
			RequestDischarge:      true,
			InputCurrentRating:    20,
			InputVoltage:          200,
			LowerThresholdVoltage: vehicle.MinVoltage,
			Sequence:              v2x.DefaultSequence,
		}
		vehicle.Vehicle = v2x.VehicleSettings{
			RequestDischarge:    true,
			MaxDischargeCurrent: 30,
			MinDischargeVoltage: vehicle.MinVoltage,
			MinDischargeLevel:   frames.Percent(s.MinLevel),
		}
	}
	return charger, vehicle
}

func newSimulated(channel string, clock chademo.Clock, cfg machine.Config, logger log.FieldLogger) (*controller.Controller, *chademo.BusManager, error) {
	bus, err := can.NewBus("loopback", channel, can.DefaultBitrate)
	if err != nil {
		return nil, nil, err
	}
	bm := chademo.NewBusManager(bus)
	if err := bm.Connect(); err != nil {
		return nil, nil, err
	}
	m, err := machine.New(cfg, machine.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	c, err := controller.New(bm, clock, m, controller.WithLogger(logger))
	return c, bm, err
}

// Battery model, state of charge follows the energy flowing through the connector
type battery struct {
	capacityKWh float64
	soc         float64
}

func (b *battery) update(params session.Snapshot, dt time.Duration) {
	if !params.Measured.Valid || b.capacityKWh <= 0 {
		return
	}
	// The vehicle measures what the charger reports
	kWh := float64(params.Measured.Voltage) * float64(params.Measured.Current) * dt.Hours() / 1000
	if params.Negotiated.Direction == session.DirectionDischarge {
		kWh = -kWh
	}
	b.soc = min(max(b.soc+kWh/b.capacityKWh*100, 0), 100)
}

func runSimulation(w io.Writer, s simulation) error {
	chargerCfg, vehicleCfg := s.configs()
	clock := chademo.NewManualClock(time.Unix(0, 0))
	start := clock.Now()
	channel := "simulate"
	logger := log.StandardLogger()

	charger, chargerBus, err := newSimulated(channel, clock, chargerCfg, logger)
	if err != nil {
		return err
	}
	defer chargerBus.Disconnect()
	vehicle, vehicleBus, err := newSimulated(channel, clock, vehicleCfg, logger)
	if err != nil {
		return err
	}
	defer vehicleBus.Disconnect()

	printer := func(side string) func(from, to session.Phase) {
		return func(from, to session.Phase) {
			fmt.Fprintf(w, "[%10v] %-8v %v ==> %v\n", clock.Now().Sub(start), side, from, to)
		}
	}
	charger.OnPhaseChange(printer("charger"))
	vehicle.OnPhaseChange(printer("vehicle"))

	pack := &battery{capacityKWh: float64(vehicleCfg.BatteryCapacity) / 10, soc: float64(s.StartSoC)}
	charger.UpdateInputs(machine.Inputs{ConnectorLatched: true, ContactorsClosed: true})
	vehicle.UpdateInputs(machine.Inputs{ConnectorLatched: true, ContactorsClosed: true, Ready: true, SoC: frames.Percent(s.StartSoC)})

	period := vehicleCfg.CyclePeriod
	nextStatus := start
	for elapsed := time.Duration(0); elapsed < s.MaxDuration; elapsed += period {
		clock.Advance(period)
		// Frame delivery errors are supervised by the session itself
		_ = vehicle.Step()
		_ = charger.Step()

		params := vehicle.Parameters()
		pack.update(params, period)
		vehicle.ModifyInputs(func(inputs *machine.Inputs) {
			inputs.SoC = frames.Percent(pack.soc)
			// Battery contactors open once no current flows anymore
			if params.Phase == session.PhaseStopRequested && params.Measured.Valid && params.Measured.Current == 0 {
				inputs.ContactorsClosed = false
			}
		})

		if s.StatusPeriod > 0 && !clock.Now().Before(nextStatus) {
			nextStatus = clock.Now().Add(s.StatusPeriod)
			fmt.Fprintf(w, "[%10v] %-22v %v %v %5.1f%%\n", clock.Now().Sub(start), params.Phase,
				params.Measured.Voltage, params.Measured.Current, pack.soc)
		}

		if vehicle.Phase() == session.PhaseFault || charger.Phase() == session.PhaseFault {
			record, _ := vehicle.Fault()
			if chargerRecord, ok := charger.Fault(); ok {
				record = chargerRecord
			}
			return fmt.Errorf("session faulted : %v", record)
		}
		if vehicle.Phase() == session.PhaseTerminated && charger.Phase() == session.PhaseTerminated {
			stats := charger.Stats()
			fmt.Fprintf(w, "session complete after %v at %.1f%% | %v cycles, %v frames sent\n",
				clock.Now().Sub(start), pack.soc, stats.Cycles, stats.FramesSent)
			return nil
		}
	}
	return fmt.Errorf("session not complete after %v", s.MaxDuration)
}
