package monitor

// Source bundles the store and event bus behind the read-only surface the
// HTTP layer consumes. It stays valid even when the exchange monitor is
// disabled; the panel then just shows no calls.
type Source struct {
	store *Store
	bus   *EventBus
}

func NewSource(store *Store, bus *EventBus) *Source {
	return &Source{store: store, bus: bus}
}

func (s *Source) ActiveCalls() []CallRecord {
	return s.store.ActiveCalls()
}

func (s *Source) ExtensionStatus() map[string]string {
	return s.store.ExtensionStatus()
}

func (s *Source) Subscribe() (<-chan Event, func()) {
	return s.bus.Subscribe()
}

func (s *Source) ReplaySince(lastEventID string) []Event {
	return s.bus.ReplaySince(lastEventID)
}
