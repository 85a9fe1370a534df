package session

import (
	"fmt"
	"strings"
	"time"
)

// Side of the connector the local node plays
type Role uint8

const (
	RoleCharger Role = 0
	RoleVehicle Role = 1
)

var roleMap = map[Role]string{
	RoleCharger: "charger",
	RoleVehicle: "vehicle",
}

func (r Role) String() string {
	name, ok := roleMap[r]
	if !ok {
		return "unknown"
	}
	return name
}

func ParseRole(value string) (Role, error) {
	for role, name := range roleMap {
		if strings.EqualFold(name, strings.TrimSpace(value)) {
			return role, nil
		}
	}
	return RoleCharger, fmt.Errorf("unknown role : %v", value)
}

// Session phases
type Phase uint8

const (
	PhaseIdle                  Phase = 0
	PhaseConnected             Phase = 1
	PhaseCapabilityNegotiation Phase = 2
	PhaseParameterExchange     Phase = 3
	PhasePermissionGranted     Phase = 4
	PhaseEnergyTransferActive  Phase = 5
	PhaseTapering              Phase = 6
	PhaseStopRequested         Phase = 7
	PhaseTerminated            Phase = 8
	PhaseFault                 Phase = 9
)

var phaseMap = map[Phase]string{
	PhaseIdle:                  "IDLE",
	PhaseConnected:             "CONNECTED",
	PhaseCapabilityNegotiation: "CAPABILITY-NEGOTIATION",
	PhaseParameterExchange:     "PARAMETER-EXCHANGE",
	PhasePermissionGranted:     "PERMISSION-GRANTED",
	PhaseEnergyTransferActive:  "ENERGY-TRANSFER-ACTIVE",
	PhaseTapering:              "TAPERING",
	PhaseStopRequested:         "STOP-REQUESTED",
	PhaseTerminated:            "TERMINATED",
	PhaseFault:                 "FAULT",
}

// All phases in protocol order
var Phases = []Phase{
	PhaseIdle,
	PhaseConnected,
	PhaseCapabilityNegotiation,
	PhaseParameterExchange,
	PhasePermissionGranted,
	PhaseEnergyTransferActive,
	PhaseTapering,
	PhaseStopRequested,
	PhaseTerminated,
	PhaseFault,
}

func (p Phase) String() string {
	name, ok := phaseMap[p]
	if !ok {
		return "UNKNOWN"
	}
	return name
}

// Energy is flowing or about to flow
func (p Phase) Transferring() bool {
	return p == PhaseEnergyTransferActive || p == PhaseTapering
}

// Phases between connection and the start of energy transfer
func (p Phase) Negotiating() bool {
	return p >= PhaseConnected && p <= PhasePermissionGranted
}

// Direction of energy flow, Charge is grid to vehicle
type Direction uint8

const (
	DirectionCharge    Direction = 0
	DirectionDischarge Direction = 1
)

func (d Direction) String() string {
	if d == DirectionDischarge {
		return "discharge"
	}
	return "charge"
}

// Reason attached to a safety verdict or a fault
type Reason uint8

const (
	ReasonNone                Reason = 0
	ReasonCommLoss            Reason = 1
	ReasonSetpointDeviation   Reason = 2
	ReasonRampViolation       Reason = 3
	ReasonPeerReportedFault   Reason = 4
	ReasonStartupTimeout      Reason = 5
	ReasonBatteryIncompatible Reason = 6
	ReasonCommDegraded        Reason = 7
	ReasonSetpointDrift       Reason = 8
)

var reasonMap = map[Reason]string{
	ReasonNone:                "none",
	ReasonCommLoss:            "communication loss",
	ReasonSetpointDeviation:   "setpoint deviation",
	ReasonRampViolation:       "ramp violation",
	ReasonPeerReportedFault:   "peer reported fault",
	ReasonStartupTimeout:      "startup timeout",
	ReasonBatteryIncompatible: "battery incompatible",
	ReasonCommDegraded:        "communication degraded",
	ReasonSetpointDrift:       "setpoint drift",
}

func (r Reason) String() string {
	name, ok := reasonMap[r]
	if !ok {
		return fmt.Sprintf("reason %d", uint8(r))
	}
	return name
}

// Who asked for the session to stop
type StopOrigin uint8

const (
	StopNone               StopOrigin = 0
	StopLocal              StopOrigin = 1
	StopVehicle            StopOrigin = 2
	StopCharger            StopOrigin = 3
	StopDischargeWithdrawn StopOrigin = 4
)

var stopMap = map[StopOrigin]string{
	StopNone:               "none",
	StopLocal:              "local request",
	StopVehicle:            "vehicle",
	StopCharger:            "charger",
	StopDischargeWithdrawn: "discharge withdrawn",
}

func (s StopOrigin) String() string {
	return stopMap[s]
}

// Created on entry to Fault, cleared only by an explicit acknowledgement
type FaultRecord struct {
	Reason    Reason
	Phase     Phase
	Timestamp time.Time
	Detail    string
}

func (f FaultRecord) String() string {
	return fmt.Sprintf("%v in %v : %v", f.Reason, f.Phase, f.Detail)
}
