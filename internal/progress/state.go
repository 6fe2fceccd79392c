package progress

import "sync"

// UnitRecord is one entry of the per-unit status map.
type UnitRecord struct {
	Status UnitState
	// Count is the number of items found; meaningful once the unit settles.
	Count int
	// Attempt is the most recent retry attempt number, if any.
	Attempt int
}

// Snapshot is a point-in-time copy of every state slice plus derived
// values. Maps and pointers inside a Snapshot are owned by the caller.
type Snapshot struct {
	// Current is the last generic event; routing-only frames
	// (uf_status, batch_progress) never overwrite it.
	Current *Event

	Units   map[string]UnitRecord
	Batch   *BatchDetail
	Partial *PartialDetail
	Refresh *RefreshDetail

	// IsDegraded and DegradedInfo report a degraded-but-successful
	// completion. Independent of Disconnected.
	IsDegraded   bool
	DegradedInfo *DegradedDetail

	// Connected is true while the transport is open. Available turns
	// false once the single reconnect is exhausted; Disconnected turns
	// true at the same moment and only then.
	Connected    bool
	Available    bool
	Disconnected bool

	// TotalFound sums Count over units in success or recovered state.
	TotalFound int
	// AllUnitsComplete is true iff the unit map is non-empty and no unit
	// is still pending, fetching, or retrying.
	AllUnitsComplete bool
}

// State accumulates stream events for one job at a time. The stream
// client's reader goroutine is the only writer; callers read via
// Snapshot and the derived getters, so access is guarded by a RWMutex.
type State struct {
	mu sync.RWMutex

	current *Event
	units   map[string]UnitRecord
	batch   *BatchDetail
	partial *PartialDetail
	refresh *RefreshDetail

	degraded     bool
	degradedInfo *DegradedDetail

	connected    bool
	available    bool
	disconnected bool
}

// NewState returns an empty State. Reset must be called before events are
// applied so the unit map is seeded.
func NewState() *State {
	return &State{units: map[string]UnitRecord{}}
}

// Reset clears every slice and seeds the unit map with one pending entry
// per supplied unit. Called whenever the job identifier changes, before
// the new connection opens.
func (s *State) Reset(units []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.units = make(map[string]UnitRecord, len(units))
	for _, u := range units {
		s.units[u] = UnitRecord{Status: UnitPending}
	}
	s.batch = nil
	s.partial = nil
	s.refresh = nil
	s.degraded = false
	s.degradedInfo = nil
	s.connected = false
	s.available = true
	s.disconnected = false
}

// Apply routes one validated event to its state slice. Routing-only
// stages update their dedicated slice and leave the current event alone;
// everything else becomes the new current event.
func (s *State) Apply(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch evt.Stage {
	case StageUnitStatus:
		d := evt.UnitStatus
		rec := s.units[d.Unit]
		rec.Status = d.Status
		if d.Count != 0 {
			rec.Count = d.Count
		}
		if d.Attempt != 0 {
			rec.Attempt = d.Attempt
		}
		s.units[d.Unit] = rec
		return
	case StageBatchProgress:
		batch := *evt.Batch
		batch.Units = append([]string(nil), evt.Batch.Units...)
		s.batch = &batch
		return
	case StagePartialResults:
		// The wire contract allows detail-less frames; treat them as empty.
		partial := PartialDetail{}
		if evt.Partial != nil {
			partial = *evt.Partial
		}
		s.partial = &partial
	case StageRefreshAvailable:
		refresh := RefreshDetail{}
		if evt.Refresh != nil {
			refresh = *evt.Refresh
		}
		s.refresh = &refresh
	case StageDegraded:
		info := DegradedDetail{}
		if evt.Degraded != nil {
			info = *evt.Degraded
		}
		s.degraded = true
		s.degradedInfo = &info
	}
	cur := evt
	s.current = &cur
}

// SetConnected records the transport open/closed flag.
func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// MarkUnavailable records retry exhaustion: streaming is no longer viable
// for this job. Distinct from a clean terminal close.
func (s *State) MarkUnavailable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.available = false
	s.disconnected = true
}

// TotalFound sums Count across units whose status is success or recovered.
func (s *State) TotalFound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalFound(s.units)
}

// AllUnitsComplete reports whether the unit map is non-empty and every
// unit has settled.
func (s *State) AllUnitsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allComplete(s.units)
}

// Snapshot copies every slice and derived value for the caller.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		IsDegraded:       s.degraded,
		Connected:        s.connected,
		Available:        s.available,
		Disconnected:     s.disconnected,
		TotalFound:       totalFound(s.units),
		AllUnitsComplete: allComplete(s.units),
	}
	snap.Units = make(map[string]UnitRecord, len(s.units))
	for k, v := range s.units {
		snap.Units[k] = v
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	if s.batch != nil {
		batch := *s.batch
		batch.Units = append([]string(nil), s.batch.Units...)
		snap.Batch = &batch
	}
	if s.partial != nil {
		partial := *s.partial
		snap.Partial = &partial
	}
	if s.refresh != nil {
		refresh := *s.refresh
		snap.Refresh = &refresh
	}
	if s.degradedInfo != nil {
		info := *s.degradedInfo
		snap.DegradedInfo = &info
	}
	return snap
}

func totalFound(units map[string]UnitRecord) int {
	total := 0
	for _, rec := range units {
		if rec.Status.Found() {
			total += rec.Count
		}
	}
	return total
}

func allComplete(units map[string]UnitRecord) bool {
	if len(units) == 0 {
		return false
	}
	for _, rec := range units {
		if !rec.Status.Settled() {
			return false
		}
	}
	return true
}
