// Package config loads session configuration from INI files.
//
//	[session]
//	role = charger
//	cycle_period = 100ms
//
//	[limits]
//	max_voltage = 500
//	max_current = 125
//
//	[can]
//	interface = socketcan
//	channel = can0
//
// Missing keys keep the defaults of the selected role.
package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samsamfire/gochademo/pkg/can"
	"github.com/samsamfire/gochademo/pkg/machine"
	"github.com/samsamfire/gochademo/pkg/session"
	"gopkg.in/ini.v1"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultInterface = "socketcan"
	DefaultChannel   = "can0"
)

// Everything needed to run one side of a session
type Settings struct {
	Machine   machine.Config
	Interface string
	Channel   string
	Bitrate   int
}

func Default(role session.Role) Settings {
	return Settings{
		Machine:   machine.DefaultConfig(role),
		Interface: DefaultInterface,
		Channel:   DefaultChannel,
		Bitrate:   can.DefaultBitrate,
	}
}

type unsigned interface {
	~uint8 | ~uint16
}

func loadUint[T unsigned](section *ini.Section, name string, dst *T) error {
	if !section.HasKey(name) {
		return nil
	}
	value, err := section.Key(name).Uint64()
	if err != nil {
		return fmt.Errorf("%w : [%v] %v : %w", ErrInvalidConfig, section.Name(), name, err)
	}
	if value > uint64(^T(0)) {
		return fmt.Errorf("%w : [%v] %v : %v out of range", ErrInvalidConfig, section.Name(), name, value)
	}
	*dst = T(value)
	return nil
}

func loadDuration(section *ini.Section, name string, dst *time.Duration) error {
	if !section.HasKey(name) {
		return nil
	}
	value, err := section.Key(name).Duration()
	if err != nil {
		return fmt.Errorf("%w : [%v] %v : %w", ErrInvalidConfig, section.Name(), name, err)
	}
	*dst = value
	return nil
}

func loadBool(section *ini.Section, name string, dst *bool) error {
	if !section.HasKey(name) {
		return nil
	}
	value, err := section.Key(name).Bool()
	if err != nil {
		return fmt.Errorf("%w : [%v] %v : %w", ErrInvalidConfig, section.Name(), name, err)
	}
	*dst = value
	return nil
}

// Load settings.
// source can be either a path, a []byte or an io.Reader
func Load(source any) (*Settings, error) {
	file, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("%w : %w", ErrInvalidConfig, err)
	}
	role := session.RoleCharger
	if key := file.Section("session").Key("role"); key.String() != "" {
		role, err = session.ParseRole(key.String())
		if err != nil {
			return nil, fmt.Errorf("%w : [session] role : %w", ErrInvalidConfig, err)
		}
	}
	settings := Default(role)
	cfg := &settings.Machine

	sessionSection := file.Section("session")
	limits := file.Section("limits")
	ramp := file.Section("ramp")
	taper := file.Section("taper")
	safety := file.Section("safety")
	bidirectional := file.Section("bidirectional")
	canSection := file.Section("can")

	errs := []error{
		loadDuration(sessionSection, "cycle_period", &cfg.CyclePeriod),
		loadUint(sessionSection, "protocol", &cfg.ProtocolNumber),
		loadBool(sessionSection, "bidirectional", &cfg.Bidirectional),

		loadUint(limits, "max_voltage", &cfg.MaxVoltage),
		loadUint(limits, "min_voltage", &cfg.MinVoltage),
		loadUint(limits, "target_voltage", &cfg.TargetVoltage),
		loadUint(limits, "max_current", &cfg.MaxCurrent),
		loadUint(limits, "min_current", &cfg.MinCurrent),
		loadUint(limits, "battery_capacity", &cfg.BatteryCapacity),
		loadDuration(limits, "max_charging_time", &cfg.MaxChargingTime),
		loadBool(limits, "welding_detection", &cfg.WeldingDetection),

		loadUint(ramp, "limit", &cfg.RampLimit),
		loadUint(ramp, "request", &cfg.RampRequest),

		loadUint(taper, "soc", &cfg.TaperSoC),
		loadUint(taper, "target_soc", &cfg.TargetSoC),
		loadUint(taper, "current", &cfg.TaperCurrent),
		loadUint(taper, "margin", &cfg.TaperMargin),

		loadDuration(safety, "negotiation_timeout", &cfg.Safety.NegotiationTimeout),
		loadDuration(safety, "transfer_timeout", &cfg.Safety.TransferTimeout),
		loadDuration(safety, "startup_grace", &cfg.Safety.StartupGrace),
		loadUint(safety, "current_tolerance", &cfg.Safety.CurrentTolerance),
		loadUint(safety, "voltage_tolerance", &cfg.Safety.VoltageTolerance),
	}
	if role == session.RoleVehicle {
		errs = append(errs,
			loadBool(bidirectional, "request_discharge", &cfg.Vehicle.RequestDischarge),
			loadUint(bidirectional, "max_discharge_current", &cfg.Vehicle.MaxDischargeCurrent),
			loadUint(bidirectional, "min_discharge_voltage", &cfg.Vehicle.MinDischargeVoltage),
			loadUint(bidirectional, "min_discharge_level", &cfg.Vehicle.MinDischargeLevel),
			loadUint(bidirectional, "max_charge_level", &cfg.Vehicle.MaxChargeLevel),
		)
	} else {
		errs = append(errs,
			loadBool(bidirectional, "request_discharge", &cfg.Charger.RequestDischarge),
			loadUint(bidirectional, "input_current_rating", &cfg.Charger.InputCurrentRating),
			loadUint(bidirectional, "input_voltage", &cfg.Charger.InputVoltage),
			loadUint(bidirectional, "lower_threshold_voltage", &cfg.Charger.LowerThresholdVoltage),
			loadUint(bidirectional, "sequence", &cfg.Charger.Sequence),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	settings.Interface = canSection.Key("interface").MustString(DefaultInterface)
	settings.Channel = canSection.Key("channel").MustString(DefaultChannel)
	settings.Bitrate = canSection.Key("bitrate").MustInt(can.DefaultBitrate)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w : %w", ErrInvalidConfig, err)
	}
	return &settings, nil
}

type entry struct {
	section string
	name    string
	value   any
}

// Export settings in the format accepted by Load
func Export(settings Settings, w io.Writer) error {
	file := ini.Empty()
	cfg := settings.Machine
	entries := []entry{
		{"session", "role", cfg.Role},
		{"session", "cycle_period", cfg.CyclePeriod},
		{"session", "protocol", cfg.ProtocolNumber},
		{"session", "bidirectional", cfg.Bidirectional},
		{"limits", "max_voltage", uint16(cfg.MaxVoltage)},
		{"limits", "min_voltage", uint16(cfg.MinVoltage)},
		{"limits", "max_current", uint8(cfg.MaxCurrent)},
		{"ramp", "limit", uint8(cfg.RampLimit)},
		{"ramp", "request", uint8(cfg.RampRequest)},
		{"taper", "soc", uint8(cfg.TaperSoC)},
		{"taper", "target_soc", uint8(cfg.TargetSoC)},
		{"taper", "current", uint8(cfg.TaperCurrent)},
		{"taper", "margin", uint8(cfg.TaperMargin)},
		{"safety", "negotiation_timeout", cfg.Safety.NegotiationTimeout},
		{"safety", "transfer_timeout", cfg.Safety.TransferTimeout},
		{"safety", "startup_grace", cfg.Safety.StartupGrace},
		{"safety", "current_tolerance", uint8(cfg.Safety.CurrentTolerance)},
		{"safety", "voltage_tolerance", uint16(cfg.Safety.VoltageTolerance)},
	}
	if cfg.Role == session.RoleVehicle {
		entries = append(entries,
			entry{"limits", "target_voltage", uint16(cfg.TargetVoltage)},
			entry{"limits", "min_current", uint8(cfg.MinCurrent)},
			entry{"limits", "battery_capacity", uint16(cfg.BatteryCapacity)},
			entry{"limits", "max_charging_time", cfg.MaxChargingTime},
			entry{"bidirectional", "request_discharge", cfg.Vehicle.RequestDischarge},
			entry{"bidirectional", "max_discharge_current", uint8(cfg.Vehicle.MaxDischargeCurrent)},
			entry{"bidirectional", "min_discharge_voltage", uint16(cfg.Vehicle.MinDischargeVoltage)},
			entry{"bidirectional", "min_discharge_level", uint8(cfg.Vehicle.MinDischargeLevel)},
			entry{"bidirectional", "max_charge_level", uint8(cfg.Vehicle.MaxChargeLevel)},
		)
	} else {
		entries = append(entries,
			entry{"limits", "welding_detection", cfg.WeldingDetection},
			entry{"bidirectional", "request_discharge", cfg.Charger.RequestDischarge},
			entry{"bidirectional", "input_current_rating", uint8(cfg.Charger.InputCurrentRating)},
			entry{"bidirectional", "input_voltage", uint16(cfg.Charger.InputVoltage)},
			entry{"bidirectional", "lower_threshold_voltage", uint16(cfg.Charger.LowerThresholdVoltage)},
			entry{"bidirectional", "sequence", cfg.Charger.Sequence},
		)
	}
	entries = append(entries,
		entry{"can", "interface", settings.Interface},
		entry{"can", "channel", settings.Channel},
		entry{"can", "bitrate", settings.Bitrate},
	)

	for _, e := range entries {
		_, err := file.Section(e.section).NewKey(e.name, fmt.Sprint(e.value))
		if err != nil {
			return fmt.Errorf("[CONFIG] error exporting [%v] %v : %w", e.section, e.name, err)
		}
	}
	_, err := file.WriteTo(w)
	return err
}
