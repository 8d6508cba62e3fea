package api

import (
	"context"

	"github.com/snarg/ucmwatch/internal/monitor"
)

// MonitorSource provides live call state and event streaming to the API
// layer. The monitor pipeline implements this interface; api only owns the
// contract.
type MonitorSource interface {
	// ActiveCalls returns the currently tracked calls in arrival order.
	ActiveCalls() []monitor.CallRecord

	// ExtensionStatus returns the last reported status per extension.
	ExtensionStatus() map[string]string

	// Subscribe returns a channel receiving new events and a cancel function.
	Subscribe() (<-chan monitor.Event, func())

	// ReplaySince returns buffered events after the given event ID.
	ReplaySince(lastEventID string) []monitor.Event
}

// CallDialer originates a call on the exchange on behalf of an extension.
type CallDialer interface {
	Dial(extension, number string) error
}

// Directory resolves phone numbers to display names. Implementations query an
// external address book; number candidates are tried in order and the first
// hit wins.
type Directory interface {
	LookupName(ctx context.Context, candidates []string) (string, error)
}
