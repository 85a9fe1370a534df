package frames

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Vehicle fault flags, byte 4 of 0x102
type VehicleFault uint8

const (
	FaultOvervoltage      VehicleFault = 1 << 0
	FaultUndervoltage     VehicleFault = 1 << 1
	FaultCurrentDeviation VehicleFault = 1 << 2
	FaultHighTemperature  VehicleFault = 1 << 3
	FaultVoltageDeviation VehicleFault = 1 << 4

	vehicleFaultMask VehicleFault = 0x1F
)

var vehicleFaultNames = map[uint8]string{
	uint8(FaultOvervoltage):      "OVERVOLTAGE",
	uint8(FaultUndervoltage):     "UNDERVOLTAGE",
	uint8(FaultCurrentDeviation): "CURRENT-DEVIATION",
	uint8(FaultHighTemperature):  "HIGH-TEMPERATURE",
	uint8(FaultVoltageDeviation): "VOLTAGE-DEVIATION",
}

func (f VehicleFault) Has(bits VehicleFault) bool {
	return f&bits == bits
}

func (f VehicleFault) String() string {
	return flagString(uint8(f), vehicleFaultNames)
}

// Vehicle status flags, byte 5 of 0x102.
// Bits 5 and 6 are not defined by the base protocol and are kept verbatim.
type VehicleFlags uint8

const (
	VehicleChargingEnabled     VehicleFlags = 1 << 0
	VehicleShiftNotPark        VehicleFlags = 1 << 1
	VehicleSystemFault         VehicleFlags = 1 << 2
	VehicleContactorsOpen      VehicleFlags = 1 << 3
	VehicleStopRequest         VehicleFlags = 1 << 4
	VehicleDischargeCompatible VehicleFlags = 1 << 7
)

var vehicleFlagNames = map[uint8]string{
	uint8(VehicleChargingEnabled):     "CHARGING-ENABLED",
	uint8(VehicleShiftNotPark):        "SHIFT-NOT-PARK",
	uint8(VehicleSystemFault):         "SYSTEM-FAULT",
	uint8(VehicleContactorsOpen):      "CONTACTORS-OPEN",
	uint8(VehicleStopRequest):         "STOP-REQUEST",
	uint8(VehicleDischargeCompatible): "DISCHARGE-COMPATIBLE",
}

func (f VehicleFlags) Has(bits VehicleFlags) bool {
	return f&bits == bits
}

func (f VehicleFlags) Set(bits VehicleFlags, value bool) VehicleFlags {
	if value {
		return f | bits
	}
	return f &^ bits
}

func (f VehicleFlags) String() string {
	return flagString(uint8(f), vehicleFlagNames)
}

// 0x100 vehicle charging limits
type VehicleLimits struct {
	MinCurrent        Amps
	MaxCurrent        Amps // Advertised maximum charging current, 0 if not advertised
	MinBatteryVoltage Volts
	MaxBatteryVoltage Volts
	ChargedRate       Percent // Constant of charged rate indication, usually 100
}

func (m VehicleLimits) ID() uint32 { return IDVehicleLimits }

func (m VehicleLimits) Payload() [8]byte {
	var data [8]byte
	data[0] = uint8(m.MinCurrent)
	data[1] = uint8(m.MaxCurrent)
	putVolts(data[2:4], m.MinBatteryVoltage)
	putVolts(data[4:6], m.MaxBatteryVoltage)
	data[6] = uint8(m.ChargedRate)
	return data
}

func decodeVehicleLimits(data [8]byte) (Message, error) {
	if err := checkReserved(IDVehicleLimits, data, 7); err != nil {
		return nil, err
	}
	if err := checkPercent(IDVehicleLimits, "charged rate", data[6]); err != nil {
		return nil, err
	}
	return VehicleLimits{
		MinCurrent:        Amps(data[0]),
		MaxCurrent:        Amps(data[1]),
		MinBatteryVoltage: getVolts(data[2:4]),
		MaxBatteryVoltage: getVolts(data[4:6]),
		ChargedRate:       Percent(data[6]),
	}, nil
}

// 0x101 vehicle charging time and battery capacity
type VehicleTiming struct {
	MaxChargingTime10s uint8 // 0xFF means MaxChargingTimeMin is used
	MaxChargingTimeMin uint8
	EstimatedTimeMin   uint8
	BatteryCapacity    DeciKWh
}

// Time unit selector value meaning "use the minute field"
const UseMinuteField uint8 = 0xFF

func (m VehicleTiming) ID() uint32 { return IDVehicleTiming }

func (m VehicleTiming) Payload() [8]byte {
	var data [8]byte
	data[1] = m.MaxChargingTime10s
	data[2] = m.MaxChargingTimeMin
	data[3] = m.EstimatedTimeMin
	binary.LittleEndian.PutUint16(data[5:7], uint16(m.BatteryCapacity))
	return data
}

// Maximum charging time allowed by the vehicle
func (m VehicleTiming) MaxChargingTime() time.Duration {
	if m.MaxChargingTime10s != UseMinuteField {
		return time.Duration(m.MaxChargingTime10s) * 10 * time.Second
	}
	return time.Duration(m.MaxChargingTimeMin) * time.Minute
}

func decodeVehicleTiming(data [8]byte) (Message, error) {
	if err := checkReserved(IDVehicleTiming, data, 0, 4, 7); err != nil {
		return nil, err
	}
	return VehicleTiming{
		MaxChargingTime10s: data[1],
		MaxChargingTimeMin: data[2],
		EstimatedTimeMin:   data[3],
		BatteryCapacity:    DeciKWh(binary.LittleEndian.Uint16(data[5:7])),
	}, nil
}

// 0x102 vehicle status and charging request
type VehicleStatus struct {
	Protocol       uint8
	TargetVoltage  Volts
	CurrentRequest Amps
	Faults         VehicleFault
	Flags          VehicleFlags
	SoC            Percent
}

func (m VehicleStatus) ID() uint32 { return IDVehicleStatus }

func (m VehicleStatus) Payload() [8]byte {
	var data [8]byte
	data[0] = m.Protocol
	putVolts(data[1:3], m.TargetVoltage)
	data[3] = uint8(m.CurrentRequest)
	data[4] = uint8(m.Faults)
	data[5] = uint8(m.Flags)
	data[6] = uint8(m.SoC)
	return data
}

// Vehicle permits energy transfer : enabled, no stop, no fault and parked.
// Target voltage must be set.
func (m VehicleStatus) Ready() bool {
	return m.Flags.Has(VehicleChargingEnabled) &&
		!m.Flags.Has(VehicleStopRequest) &&
		!m.Flags.Has(VehicleSystemFault) &&
		!m.Flags.Has(VehicleShiftNotPark) &&
		m.Faults == 0 &&
		m.TargetVoltage > 0
}

func (m VehicleStatus) String() string {
	return fmt.Sprintf("target %v | request %v | soc %v | faults %v | flags %v",
		m.TargetVoltage, m.CurrentRequest, m.SoC, m.Faults, m.Flags)
}

func decodeVehicleStatus(data [8]byte) (Message, error) {
	if err := checkReserved(IDVehicleStatus, data, 7); err != nil {
		return nil, err
	}
	if VehicleFault(data[4])&^vehicleFaultMask != 0 {
		return nil, malformed(IDVehicleStatus, "reserved fault bits set x%x", data[4])
	}
	if err := checkPercent(IDVehicleStatus, "state of charge", data[6]); err != nil {
		return nil, err
	}
	return VehicleStatus{
		Protocol:       data[0],
		TargetVoltage:  getVolts(data[1:3]),
		CurrentRequest: Amps(data[3]),
		Faults:         VehicleFault(data[4]),
		Flags:          VehicleFlags(data[5]),
		SoC:            Percent(data[6]),
	}, nil
}
