package calls

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultConferenceLimit caps the sub-call set of a CS conference. IMS takes
// its limit from configuration.
const DefaultConferenceLimit = 5

// Conference groups calls of one kind into a single merged call. One
// instance exists per kind for the process lifetime; it resets to Idle when
// the last participant leaves, it is never destroyed.
type Conference struct {
	mu sync.Mutex

	kind      CallKind
	state     ConferenceState
	mainID    CallID
	subIDs    map[CallID]struct{}
	limit     int
	beginTime time.Time
}

// NewConference builds the conference group for one call kind. limit bounds
// the sub-call set; values < 1 fall back to the default.
func NewConference(kind CallKind, limit int) *Conference {
	if limit < 1 {
		limit = DefaultConferenceLimit
	}
	return &Conference{
		kind:   kind,
		state:  ConferenceIdle,
		mainID: InvalidCallID,
		subIDs: make(map[CallID]struct{}),
		limit:  limit,
	}
}

func (cf *Conference) Kind() CallKind { return cf.kind }

func (cf *Conference) State() ConferenceState {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.state
}

func (cf *Conference) MainCallID() CallID {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.mainID
}

// SetMainCall anchors the conference on a call and moves it to Creating.
func (cf *Conference) SetMainCall(id CallID) error {
	if id == InvalidCallID {
		return fmt.Errorf("%w: invalid main call id", ErrInvalidArgument)
	}
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if len(cf.subIDs) >= cf.limit {
		return fmt.Errorf("%w: %d sub calls", ErrConferenceExceedLimit, len(cf.subIDs))
	}
	cf.mainID = id
	cf.state = ConferenceCreating
	delete(cf.subIDs, id)
	return nil
}

// JoinToConference adds a participant. Valid only once a main call is set.
func (cf *Conference) JoinToConference(id CallID) error {
	if id == InvalidCallID {
		return fmt.Errorf("%w: invalid call id", ErrInvalidArgument)
	}
	cf.mu.Lock()
	defer cf.mu.Unlock()
	switch cf.state {
	case ConferenceCreating, ConferenceActive, ConferenceLeaving:
	default:
		return fmt.Errorf("%w: join while conference %s", ErrIllegalCallOperation, cf.state)
	}
	if id == cf.mainID {
		// The anchor is implicitly a participant; never track it as a sub.
		cf.state = ConferenceActive
		return nil
	}
	if _, ok := cf.subIDs[id]; !ok && len(cf.subIDs) >= cf.limit {
		return fmt.Errorf("%w: limit %d", ErrConferenceExceedLimit, cf.limit)
	}
	cf.subIDs[id] = struct{}{}
	cf.state = ConferenceActive
	if cf.beginTime.IsZero() {
		cf.beginTime = time.Now()
	}
	return nil
}

// LeaveFromConference removes a participant; an empty conference resets to
// Idle with its anchor cleared.
func (cf *Conference) LeaveFromConference(id CallID) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if !cf.holdsLocked(id) {
		return fmt.Errorf("%w: call %d", ErrCallNotInConference, id)
	}
	cf.state = ConferenceLeaving
	if id == cf.mainID {
		cf.mainID = InvalidCallID
	} else {
		delete(cf.subIDs, id)
	}
	if len(cf.subIDs) == 0 {
		cf.resetLocked()
	}
	return nil
}

// HoldConference parks every participant. Idempotent when already Holding.
func (cf *Conference) HoldConference(id CallID) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if !cf.holdsLocked(id) {
		return fmt.Errorf("%w: call %d", ErrCallNotInConference, id)
	}
	cf.state = ConferenceHolding
	return nil
}

// CanCombineConference probes whether another call may be merged, so policy
// can fail before any lower-layer request goes out.
func (cf *Conference) CanCombineConference() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if len(cf.subIDs) >= cf.limit {
		return fmt.Errorf("%w: limit %d", ErrConferenceExceedLimit, cf.limit)
	}
	return nil
}

// CanSeparateConference probes whether a split request makes sense.
func (cf *Conference) CanSeparateConference() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if len(cf.subIDs) == 0 {
		return fmt.Errorf("%w: conference empty", ErrCallNotInConference)
	}
	return nil
}

// GetSubCallIDList lists the participants below the anchor.
func (cf *Conference) GetSubCallIDList(id CallID) ([]CallID, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if !cf.holdsLocked(id) {
		return nil, fmt.Errorf("%w: call %d", ErrCallNotInConference, id)
	}
	return cf.sortedSubsLocked(), nil
}

// GetCallIDListForConference lists every participant including the anchor.
func (cf *Conference) GetCallIDListForConference(id CallID) ([]CallID, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if !cf.holdsLocked(id) {
		return nil, fmt.Errorf("%w: call %d", ErrCallNotInConference, id)
	}
	ids := cf.sortedSubsLocked()
	if cf.mainID != InvalidCallID {
		ids = append([]CallID{cf.mainID}, ids...)
	}
	return ids, nil
}

func (cf *Conference) holdsLocked(id CallID) bool {
	if id == cf.mainID && id != InvalidCallID {
		return true
	}
	_, ok := cf.subIDs[id]
	return ok
}

func (cf *Conference) sortedSubsLocked() []CallID {
	ids := make([]CallID, 0, len(cf.subIDs))
	for id := range cf.subIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (cf *Conference) resetLocked() {
	cf.state = ConferenceIdle
	cf.mainID = InvalidCallID
	cf.subIDs = make(map[CallID]struct{})
	cf.beginTime = time.Time{}
}

// --- conference delegation on Call ---

// CombineConference anchors this call's conference group on it and asks the
// lower layer to merge the held call of the same kind.
func (c *Call) CombineConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	if err := c.conference.SetMainCall(c.ID()); err != nil {
		return err
	}
	c.setConferenceRole(ConferenceMain)
	c.mu.RLock()
	info := c.info()
	c.mu.RUnlock()
	return c.backend.CombineConference(info)
}

// SeparateConference asks the lower layer to split this participant out.
func (c *Call) SeparateConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	if err := c.conference.CanSeparateConference(); err != nil {
		return err
	}
	c.mu.RLock()
	info := c.info()
	c.mu.RUnlock()
	return c.backend.SeparateConference(info)
}

// LaunchConference records this call as a live participant. The report path
// calls it when a leg goes Active while its group is forming.
func (c *Call) LaunchConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	id := c.ID()
	if err := c.conference.JoinToConference(id); err != nil {
		return err
	}
	if c.conference.MainCallID() == id {
		c.setConferenceRole(ConferenceMain)
	} else {
		c.setConferenceRole(ConferenceSub)
	}
	return nil
}

// ExitConference drops this call from its group, on disconnect or split.
func (c *Call) ExitConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	if err := c.conference.LeaveFromConference(c.ID()); err != nil {
		return err
	}
	c.setConferenceRole(ConferenceNone)
	return nil
}

// JoinConferenceInvite asks the lower layer to pull remote numbers into this
// call's conference. Policy has already verified the anchor and the list.
func (c *Call) JoinConferenceInvite(numbers []string) error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	c.mu.RLock()
	info := c.info()
	c.mu.RUnlock()
	return c.backend.JoinConference(info, numbers)
}

// HoldConference parks the whole group when one participant is held.
func (c *Call) HoldConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	return c.conference.HoldConference(c.ID())
}

// CanCombineConference probes the group's capacity.
func (c *Call) CanCombineConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	return c.conference.CanCombineConference()
}

// CanSeparateConference probes whether a split is possible.
func (c *Call) CanSeparateConference() error {
	if c.conference == nil {
		return ErrConferenceNotSupported
	}
	return c.conference.CanSeparateConference()
}
