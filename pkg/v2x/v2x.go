// Package v2x implements the IEEE 2030.1.1 bidirectional extension :
// direction negotiation, export limit and the discharge messages.
package v2x

import (
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/session"
)

// Discharge capability of one side
type Capability struct {
	Present    bool // Bidirectional capability message received
	Compatible bool // Discharge compatibility flag of the status frame
	Requested  bool // Side asks for discharge
	Limit      frames.Amps
}

func (c Capability) allowsDischarge() bool {
	return c.Present && c.Compatible && c.Requested
}

// Vehicle capability from 0x102 and 0x200
func VehicleCapability(s session.Snapshot) Capability {
	return Capability{
		Present:    s.Vehicle.Discharge.Present,
		Compatible: s.Vehicle.Status.Present && s.Vehicle.Status.Msg.Flags.Has(frames.VehicleDischargeCompatible),
		Requested:  s.Vehicle.Discharge.Msg.MaxDischargeCurrent > 0,
		Limit:      s.Vehicle.Discharge.Msg.MaxDischargeCurrent,
	}
}

// Charger capability from 0x109 and 0x208
func ChargerCapability(s session.Snapshot) Capability {
	return Capability{
		Present:    s.Charger.Discharge.Present,
		Compatible: s.Charger.Status.Present && s.Charger.Status.Msg.DischargeCompatible,
		Requested:  s.Charger.Discharge.Msg.AvailableInputCurrent > 0,
		Limit:      s.Charger.Discharge.Msg.AvailableInputCurrent,
	}
}

// Local and peer capability for the given role
func Capabilities(s session.Snapshot) (local Capability, peer Capability) {
	if s.Role == session.RoleVehicle {
		return VehicleCapability(s), ChargerCapability(s)
	}
	return ChargerCapability(s), VehicleCapability(s)
}

// Discharge is selected only if both sides advertise, support and request it
func NegotiateDirection(local Capability, peer Capability) session.Direction {
	if local.allowsDischarge() && peer.allowsDischarge() {
		return session.DirectionDischarge
	}
	return session.DirectionCharge
}

// Export limit is the lesser of the vehicle discharge limit and the charger rating
func ExportLimit(vehicleLimit frames.Amps, chargerRating frames.Amps) frames.Amps {
	return min(vehicleLimit, chargerRating)
}

// Per cycle outcome of the bidirectional handler
type Proposal struct {
	ExportLimit frames.Amps
	Withdrawn   bool // A side no longer allows discharge
}

// Handler is consulted every cycle once bidirectional operation was negotiated
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Propose(s session.Snapshot) Proposal {
	vehicle, charger := VehicleCapability(s), ChargerCapability(s)
	proposal := Proposal{ExportLimit: ExportLimit(vehicle.Limit, charger.Limit)}
	if s.Negotiated.Direction == session.DirectionDischarge {
		proposal.Withdrawn = !vehicle.allowsDischarge() || !charger.allowsDischarge()
	}
	return proposal
}
