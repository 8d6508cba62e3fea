package monitor

import "sync"

// Call states tracked for the active-calls panel.
const (
	StateRinging   = "ringing"
	StateConnected = "connected"
)

// CallRecord is one active call as served by GET /api/calls. While ringing the
// external-party fields and the extensions list are set; once connected the
// bridge fields replace them.
type CallRecord struct {
	LinkedID string `json:"uniqueid"`
	State    string `json:"state"`

	// Ringing view.
	CallerNum    string   `json:"callernum,omitempty"`
	CallerName   string   `json:"callername,omitempty"`
	ConnectedNum string   `json:"connectednum,omitempty"`
	Extensions   []string `json:"extensions,omitempty"`

	// Connected view.
	CallerID1  string `json:"callerid1,omitempty"`
	CallerID2  string `json:"callerid2,omitempty"`
	Name1      string `json:"name1,omitempty"`
	Name2      string `json:"name2,omitempty"`
	BridgeTime string `json:"bridge_time,omitempty"`
}

// Store is the mutex-guarded snapshot of active calls and extension presence.
// The correlator is the only writer; HTTP handlers read copies and never hold
// the lock across I/O. Active calls keep insertion order so the panel lists
// calls in arrival order.
type Store struct {
	mu       sync.Mutex
	order    []string
	calls    map[string]*CallRecord
	presence map[string]string
}

func NewStore() *Store {
	return &Store{
		calls:    make(map[string]*CallRecord),
		presence: make(map[string]string),
	}
}

// Get returns a copy of the record for the given correlation id.
func (s *Store) Get(linkedid string) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[linkedid]
	if !ok {
		return CallRecord{}, false
	}
	return copyRecord(rec), true
}

// Put inserts or replaces a record, preserving insertion order on replace.
func (s *Store) Put(rec CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[rec.LinkedID]; !ok {
		s.order = append(s.order, rec.LinkedID)
	}
	stored := rec
	s.calls[rec.LinkedID] = &stored
}

// AppendExtension adds an extension to a ringing call's list if not already
// present (ring-group growth). Reports whether the list changed.
func (s *Store) AppendExtension(linkedid, ext string) bool {
	if ext == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[linkedid]
	if !ok {
		return false
	}
	for _, e := range rec.Extensions {
		if e == ext {
			return false
		}
	}
	rec.Extensions = append(rec.Extensions, ext)
	return true
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(linkedid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[linkedid]; !ok {
		return false
	}
	delete(s.calls, linkedid)
	for i, id := range s.order {
		if id == linkedid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// SetPresence records the latest reported status for an extension.
func (s *Store) SetPresence(ext, status string) {
	s.mu.Lock()
	s.presence[ext] = status
	s.mu.Unlock()
}

// ActiveCalls returns copies of all active calls in insertion order.
func (s *Store) ActiveCalls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.calls[id]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// ExtensionStatus returns a copy of the presence map.
func (s *Store) ExtensionStatus() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out
}

// Clear wipes all calls and presence. Used when a session to the exchange is
// lost and the state can no longer be verified.
func (s *Store) Clear() {
	s.mu.Lock()
	s.order = nil
	s.calls = make(map[string]*CallRecord)
	s.presence = make(map[string]string)
	s.mu.Unlock()
}

func copyRecord(rec *CallRecord) CallRecord {
	out := *rec
	if rec.Extensions != nil {
		out.Extensions = append([]string(nil), rec.Extensions...)
	}
	return out
}
