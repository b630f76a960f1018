package calls

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
)

// Concurrency caps enforced on new calls. At most one leg may be dialing or
// alerting at a time; ringing covers one incoming plus one waiting leg.
const (
	MaxRingingCalls = 2
	MaxDialingCalls = 1
)

// Registry is the single authoritative collection of live calls. Everything
// else holds CallIDs and resolves them here; the registry is the only owner.
type Registry struct {
	idCounter atomic.Int32

	mu    sync.RWMutex
	calls map[CallID]*Call
}

// NewRegistry creates an empty call registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[CallID]*Call)}
}

// Add registers a call, assigning the next id unless the caller pre-assigned
// one. A pre-assigned id that is already present fails; ids are monotonic
// and never reused within a process lifetime.
func (r *Registry) Add(call *Call) (CallID, error) {
	if call == nil {
		return InvalidCallID, fmt.Errorf("%w: nil call", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := call.ID()
	if id == InvalidCallID {
		id = CallID(r.idCounter.Add(1))
	} else if _, ok := r.calls[id]; ok {
		return InvalidCallID, fmt.Errorf("%w: id %d", ErrCallAlreadyExists, id)
	}
	call.mu.Lock()
	call.id = id
	call.mu.Unlock()
	r.calls[id] = call
	return id, nil
}

// Remove drops a call from the registry. Removing an unknown id is a no-op
// for the caller; the mismatch is only worth a log line upstream.
func (r *Registry) Remove(id CallID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; !ok {
		return false
	}
	delete(r.calls, id)
	return true
}

// Get resolves a call by id.
func (r *Registry) Get(id CallID) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	call, ok := r.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrCallNotFound, id)
	}
	return call, nil
}

// Exists reports whether a call with the id is registered.
func (r *Registry) Exists(id CallID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.calls[id]
	return ok
}

// GetByNumber resolves a call by normalized phone number.
func (r *Registry) GetByNumber(number string) (*Call, error) {
	want := NormalizeNumber(number)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range r.calls {
		if NormalizeNumber(call.Number()) == want {
			return call, nil
		}
	}
	return nil, fmt.Errorf("%w: number %s", ErrCallNotFound, number)
}

// GetByNumberAndKind resolves a call by number within one kind, which is how
// the report path matches lower-layer legs to registered calls.
func (r *Registry) GetByNumberAndKind(number string, kind CallKind) (*Call, error) {
	want := NormalizeNumber(number)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range r.calls {
		if call.Kind() == kind && NormalizeNumber(call.Number()) == want {
			return call, nil
		}
	}
	return nil, fmt.Errorf("%w: number %s kind %s", ErrCallNotFound, number, kind)
}

// GetByState returns one call currently in the given state.
func (r *Registry) GetByState(state TelCallState) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range r.calls {
		if call.State() == state {
			return call, nil
		}
	}
	return nil, fmt.Errorf("%w: state %s", ErrCallNotFound, state)
}

// GetByRunning returns one call in the given running state.
func (r *Registry) GetByRunning(state RunningState) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range r.calls {
		if call.Running() == state {
			return call, nil
		}
	}
	return nil, fmt.Errorf("%w: running state %s", ErrCallNotFound, state)
}

// CountByState counts calls in the given state.
func (r *Registry) CountByState(state TelCallState) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, call := range r.calls {
		if call.State() == state {
			n++
		}
	}
	return n
}

// CountByKindAndState counts calls of one kind in the given state.
func (r *Registry) CountByKindAndState(kind CallKind, state TelCallState) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, call := range r.calls {
		if call.Kind() == kind && call.State() == state {
			n++
		}
	}
	return n
}

// CarrierCallCount counts CS and IMS legs, the population Switch cares about.
func (r *Registry) CarrierCallCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, call := range r.calls {
		if call.Kind() != KindOTT {
			n++
		}
	}
	return n
}

// HasRingingMax reports whether the ringing cap is reached.
func (r *Registry) HasRingingMax() bool {
	return r.CountByState(StateIncoming)+r.CountByState(StateWaiting) >= MaxRingingCalls
}

// HasDialingMax reports whether a leg is already dialing or alerting. An
// outgoing leg still queued for dispatch sits in Idle but holds the slot
// all the same, otherwise two quick dials would both pass the cap.
func (r *Registry) HasDialingMax() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, call := range r.calls {
		switch call.State() {
		case StateDialing, StateAlerting:
			n++
		case StateIdle:
			if call.Direction() == DirectionOut {
				n++
			}
		}
	}
	return n >= MaxDialingCalls
}

// HasEmergency reports whether a live emergency call exists.
func (r *Registry) HasEmergency() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range r.calls {
		if call.Emergency() && call.State() != StateDisconnected {
			return true
		}
	}
	return false
}

// HasActiveOrHolding reports whether any leg is established, which turns a
// new incoming call into a waiting one.
func (r *Registry) HasActiveOrHolding() bool {
	return r.CountByState(StateActive)+r.CountByState(StateHolding) > 0
}

// NewCallAllowed reports whether another call may start now.
func (r *Registry) NewCallAllowed() bool {
	if r.HasEmergency() {
		return false
	}
	return !r.HasDialingMax()
}

// HasCall reports whether any call is registered.
func (r *Registry) HasCall() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls) > 0
}

// Count returns the number of registered calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// All returns the registered calls ordered by id.
func (r *Registry) All() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Call, 0, len(r.calls))
	for _, call := range r.calls {
		list = append(list, call)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

var numberJunk = regexp.MustCompile(`[^\d+]`)

// NormalizeNumber strips separators so "555-1111" and "5551111" compare
// equal; the leading + is preserved.
func NormalizeNumber(number string) string {
	return numberJunk.ReplaceAllString(number, "")
}
