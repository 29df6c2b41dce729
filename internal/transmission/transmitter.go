package transmission

import (
	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
)

// Transmitter defines the interface for transmitting trip projections
type Transmitter interface {
	TransmitCurrent(v settings.Vehicle, current domain.CurrentTrip) error
	TransmitLast(v settings.Vehicle, last domain.Record) error
	Remove(v settings.Vehicle) error
	IsConnected() bool
}
