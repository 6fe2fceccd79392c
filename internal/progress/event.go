// Package progress defines the typed event model for the backend
// search-progress stream, the per-job state accumulated from it, and the
// non-blocking hub that fans consumed events out to observer sinks.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Stage is the discriminated tag carried by every stream frame.
type Stage string

// Supported progress stages.
const (
	StageConnecting       Stage = "connecting"
	StageQueued           Stage = "queued"
	StageFetching         Stage = "fetching"
	StageUnitStatus       Stage = "uf_status"
	StageBatchProgress    Stage = "batch_progress"
	StagePartialResults   Stage = "partial_results"
	StageRefreshAvailable Stage = "refresh_available"
	StageDegraded         Stage = "degraded"
	StageComplete         Stage = "complete"
	StageError            Stage = "error"
)

// Terminal reports whether receipt of the stage always closes the stream.
func (s Stage) Terminal() bool {
	switch s {
	case StageRefreshAvailable, StageDegraded, StageComplete, StageError:
		return true
	}
	return false
}

// Known reports whether the stage belongs to the supported set.
func (s Stage) Known() bool {
	switch s {
	case StageConnecting, StageQueued, StageFetching, StageUnitStatus,
		StageBatchProgress, StagePartialResults, StageRefreshAvailable,
		StageDegraded, StageComplete, StageError:
		return true
	}
	return false
}

// UnitState tracks the fetch lifecycle of one work unit (e.g. a region).
type UnitState string

// Per-unit fetch states.
const (
	UnitPending   UnitState = "pending"
	UnitFetching  UnitState = "fetching"
	UnitRetrying  UnitState = "retrying"
	UnitSuccess   UnitState = "success"
	UnitFailed    UnitState = "failed"
	UnitRecovered UnitState = "recovered"
)

// Settled reports whether the unit has reached a final state.
func (s UnitState) Settled() bool {
	return s == UnitSuccess || s == UnitFailed || s == UnitRecovered
}

// Found reports whether the unit finished with usable results.
func (s UnitState) Found() bool {
	return s == UnitSuccess || s == UnitRecovered
}

// UnitStatusDetail is the payload of an "uf_status" frame.
type UnitStatusDetail struct {
	// Unit identifies the work unit, e.g. a region code.
	Unit string `json:"unit"`
	// Status is the unit's new fetch state.
	Status UnitState `json:"status"`
	// Count optionally carries the number of items found for the unit.
	Count int `json:"count,omitempty"`
	// Attempt optionally carries the retry attempt number.
	Attempt int `json:"attempt,omitempty"`
}

// BatchDetail is the payload of a "batch_progress" frame.
type BatchDetail struct {
	// BatchNum and TotalBatches are 1-indexed.
	BatchNum     int `json:"batch_num"`
	TotalBatches int `json:"total_batches"`
	// Units lists the unit identifiers currently being processed.
	Units []string `json:"units,omitempty"`
}

// PartialDetail is the payload of a "partial_results" frame. It is
// informational: the background continuation is still fetching live data
// after an initial (possibly cached) response was delivered, and the
// frame may repeat.
type PartialDetail struct {
	NewCount       int `json:"new_count"`
	TotalSoFar     int `json:"total_so_far"`
	UnitsCompleted int `json:"units_completed"`
	UnitsPending   int `json:"units_pending"`
}

// RefreshDetail is the payload of a "refresh_available" frame: fresher
// live results are ready to replace a cached result already shown.
type RefreshDetail struct {
	TotalLive    int `json:"total_live"`
	TotalCached  int `json:"total_cached"`
	NewCount     int `json:"new_count"`
	UpdatedCount int `json:"updated_count"`
	RemovedCount int `json:"removed_count"`
}

// DegradedDetail is the payload of a "degraded" frame: the search finished
// but on stale or partial data. Degradation is not a transport failure and
// is surfaced to callers as a flag plus this detail, never as an error.
type DegradedDetail struct {
	Reason        string  `json:"reason"`
	CacheAgeHours float64 `json:"cache_age_hours,omitempty"`
	CacheLevel    string  `json:"cache_level,omitempty"`
	SourcesFailed int     `json:"sources_failed,omitempty"`
	SourcesOK     int     `json:"sources_ok,omitempty"`
	CoveragePct   float64 `json:"coverage_pct,omitempty"`
}

// ErrorDetail is the payload of an "error" frame.
type ErrorDetail struct {
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Event is one decoded stream frame. At most one detail pointer is set,
// chosen by Stage; stages without a structured payload set none.
type Event struct {
	Stage    Stage   `json:"stage"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`

	UnitStatus *UnitStatusDetail `json:"-"`
	Batch      *BatchDetail      `json:"-"`
	Partial    *PartialDetail    `json:"-"`
	Refresh    *RefreshDetail    `json:"-"`
	Degraded   *DegradedDetail   `json:"-"`
	Err        *ErrorDetail      `json:"-"`
}

// envelope is the wire form: a loosely typed detail object whose shape
// depends on the stage tag.
type envelope struct {
	Stage    Stage           `json:"stage"`
	Progress float64         `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Detail   json.RawMessage `json:"detail,omitempty"`
}

// UnmarshalJSON decodes the wire envelope and resolves the detail payload
// into the concrete shape for the frame's stage.
func (e *Event) UnmarshalJSON(data []byte) error {
	evt, err := DecodeEvent(data, "")
	if err != nil {
		return err
	}
	*e = evt
	return nil
}

// DecodeEvent decodes one wire frame. Frames on named SSE channels may omit
// the stage tag from the payload; fallback supplies it from the channel name
// so the detail still resolves to the right shape.
func DecodeEvent(data []byte, fallback Stage) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Stage == "" {
		env.Stage = fallback
	}
	evt := Event{Stage: env.Stage, Progress: env.Progress, Message: env.Message}
	if len(env.Detail) > 0 {
		if err := evt.decodeDetail(env.Detail); err != nil {
			return Event{}, err
		}
	}
	return evt, nil
}

func (e *Event) decodeDetail(raw json.RawMessage) error {
	var dst any
	switch e.Stage {
	case StageUnitStatus:
		e.UnitStatus = &UnitStatusDetail{}
		dst = e.UnitStatus
	case StageBatchProgress:
		e.Batch = &BatchDetail{}
		dst = e.Batch
	case StagePartialResults:
		e.Partial = &PartialDetail{}
		dst = e.Partial
	case StageRefreshAvailable:
		e.Refresh = &RefreshDetail{}
		dst = e.Refresh
	case StageDegraded:
		e.Degraded = &DegradedDetail{}
		dst = e.Degraded
	case StageError:
		e.Err = &ErrorDetail{}
		dst = e.Err
	default:
		// Stages without a structured payload ignore any detail object.
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s detail: %w", e.Stage, err)
	}
	return nil
}

// MarshalJSON re-encodes the event into the wire envelope. Used by the
// simulator to emit frames in the same shape the client consumes.
func (e Event) MarshalJSON() ([]byte, error) {
	env := envelope{Stage: e.Stage, Progress: e.Progress, Message: e.Message}
	var detail any
	switch {
	case e.UnitStatus != nil:
		detail = e.UnitStatus
	case e.Batch != nil:
		detail = e.Batch
	case e.Partial != nil:
		detail = e.Partial
	case e.Refresh != nil:
		detail = e.Refresh
	case e.Degraded != nil:
		detail = e.Degraded
	case e.Err != nil:
		detail = e.Err
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return nil, fmt.Errorf("encode %s detail: %w", e.Stage, err)
		}
		env.Detail = raw
	}
	return json.Marshal(env)
}

// Validate performs coarse validation on decoded frames. Frames that fail
// validation are logged and skipped; they never tear down the connection.
func (e Event) Validate() error {
	if !e.Stage.Known() {
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %v out of range", e.Progress)
	}
	switch e.Stage {
	case StageUnitStatus:
		if e.UnitStatus == nil || e.UnitStatus.Unit == "" {
			return errors.New("uf_status requires a unit identifier")
		}
		switch e.UnitStatus.Status {
		case UnitPending, UnitFetching, UnitRetrying, UnitSuccess, UnitFailed, UnitRecovered:
		default:
			return fmt.Errorf("unknown unit status %q", e.UnitStatus.Status)
		}
	case StageBatchProgress:
		if e.Batch == nil || e.Batch.BatchNum < 1 || e.Batch.TotalBatches < e.Batch.BatchNum {
			return errors.New("batch_progress requires 1-indexed batch counters")
		}
	case StageDegraded:
		if e.Degraded == nil || e.Degraded.Reason == "" {
			return errors.New("degraded requires a reason")
		}
	}
	return nil
}

// Update pairs a consumed event with the job it belongs to. The stream
// client wraps every dispatched frame in an Update before handing it to
// the hub, since frames themselves do not carry the job identifier.
type Update struct {
	// JobID correlates the event with a backend search execution.
	JobID string
	// At is the local receipt time.
	At time.Time
	// Event is the decoded frame.
	Event Event
}
