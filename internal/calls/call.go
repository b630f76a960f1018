package calls

import (
	"fmt"
	"sync"
	"time"
)

// BackendInfo is the slice of call identity a backend needs to address the
// leg at the lower layer.
type BackendInfo struct {
	CallID     CallID
	Kind       CallKind
	SlotID     int32
	Index      int32
	Number     string
	VideoState VideoState
}

// Backend is the kind-specific adapter a call drives for every operation
// that leaves the process. Carrier calls (CS/IMS) are served by the cellular
// service client; OTT calls by the registered OTT application bridge.
type Backend interface {
	Dial(info BackendInfo, scene DialScene) error
	Answer(info BackendInfo) error
	Reject(info BackendInfo, sendMessage bool, message string) error
	HangUp(info BackendInfo, mode HangUpMode) error
	Hold(info BackendInfo) error
	UnHold(info BackendInfo) error
	Switch(info BackendInfo) error
	CombineConference(info BackendInfo) error
	SeparateConference(info BackendInfo) error
	StartDtmf(digit byte, info BackendInfo) error
	StopDtmf(info BackendInfo) error
	SetMute(slotID int32, mute bool) error
	StartRtt(info BackendInfo, msg string) error
	StopRtt(info BackendInfo) error
	UpdateMediaMode(info BackendInfo, mode ImsCallMode) error
	JoinConference(info BackendInfo, numbers []string) error
}

// Call is one call leg. It is owned by the registry; every other component
// refers to it by CallID only.
type Call struct {
	mu sync.RWMutex

	id         CallID
	kind       CallKind
	direction  Direction
	number     string
	slotID     int32
	index      int32
	videoState VideoState
	emergency  bool
	scene      DialScene
	bundleName string

	state        TelCallState
	runningState RunningState
	confRole     ConferenceRole

	startTime     time.Time
	beginTime     time.Time
	endTime       time.Time
	ringBeginTime time.Time
	ringEndTime   time.Time

	answerType AnswerType
	muted      bool
	contact    ContactInfo
	hangUpMode HangUpMode

	backend    Backend
	conference *Conference // nil when the kind has no conference backing
}

// NewOutgoingCall builds a call leg for a dial request. The leg starts Idle;
// Dial moves it to Dialing.
func NewOutgoingCall(params DialParams, backend Backend, conf *Conference) *Call {
	return &Call{
		id:         InvalidCallID,
		kind:       params.Kind,
		direction:  DirectionOut,
		number:     params.Number,
		slotID:     params.SlotID,
		videoState: params.VideoState,
		emergency:  params.Emergency,
		scene:      params.Scene,
		bundleName: params.BundleName,
		state:      StateIdle,
		backend:    backend,
		conference: conf,
		startTime:  time.Now(),
	}
}

// NewIncomingCall builds a call leg for a lower-layer report. The leg starts
// Idle; the report dispatcher applies the reported state afterwards.
func NewIncomingCall(report CallReport, backend Backend, conf *Conference) *Call {
	return &Call{
		id:         InvalidCallID,
		kind:       report.Kind,
		direction:  DirectionIn,
		number:     report.Number,
		slotID:     report.SlotID,
		index:      report.Index,
		videoState: report.VideoState,
		state:      StateIdle,
		backend:    backend,
		conference: conf,
		startTime:  time.Now(),
	}
}

func (c *Call) ID() CallID { c.mu.RLock(); defer c.mu.RUnlock(); return c.id }

func (c *Call) Kind() CallKind { c.mu.RLock(); defer c.mu.RUnlock(); return c.kind }

func (c *Call) Direction() Direction { c.mu.RLock(); defer c.mu.RUnlock(); return c.direction }

func (c *Call) Number() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.number }

func (c *Call) SlotID() int32 { c.mu.RLock(); defer c.mu.RUnlock(); return c.slotID }

func (c *Call) State() TelCallState { c.mu.RLock(); defer c.mu.RUnlock(); return c.state }

func (c *Call) Running() RunningState { c.mu.RLock(); defer c.mu.RUnlock(); return c.runningState }

func (c *Call) Emergency() bool { c.mu.RLock(); defer c.mu.RUnlock(); return c.emergency }

func (c *Call) VideoState() VideoState { c.mu.RLock(); defer c.mu.RUnlock(); return c.videoState }

// ConferenceRole reports the call's role in its kind's conference group.
func (c *Call) ConferenceRole() ConferenceRole { c.mu.RLock(); defer c.mu.RUnlock(); return c.confRole }

func (c *Call) setConferenceRole(role ConferenceRole) {
	c.mu.Lock()
	c.confRole = role
	c.mu.Unlock()
}

// SetContact caches the contact-database view of the remote party.
func (c *Call) SetContact(info ContactInfo) {
	c.mu.Lock()
	c.contact = info
	c.mu.Unlock()
}

// SetIndex records the lower layer's index for this leg.
func (c *Call) SetIndex(index int32) {
	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
}

// HangUpMode returns the policy flag last armed for this call.
func (c *Call) HangUpMode() HangUpMode { c.mu.RLock(); defer c.mu.RUnlock(); return c.hangUpMode }

// ArmHangUpMode sets the policy flag consulted by the next HangUp.
func (c *Call) ArmHangUpMode(mode HangUpMode) {
	c.mu.Lock()
	c.hangUpMode = mode
	c.mu.Unlock()
}

// Refresh rebinds the leg after the lower layer migrates it to another
// technology, as when an IMS call falls back to CS mid-flight.
func (c *Call) Refresh(kind CallKind, backend Backend, conf *Conference, videoState VideoState) {
	c.mu.Lock()
	c.kind = kind
	c.backend = backend
	c.conference = conf
	c.videoState = videoState
	c.mu.Unlock()
}

func (c *Call) info() BackendInfo {
	return BackendInfo{
		CallID:     c.id,
		Kind:       c.kind,
		SlotID:     c.slotID,
		Index:      c.index,
		Number:     c.number,
		VideoState: c.videoState,
	}
}

// SetState applies a state transition, updating the derived running state
// and lifecycle timestamps. Illegal edges fail without mutating anything.
func (c *Call) SetState(next TelCallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setStateLocked(next)
}

func (c *Call) setStateLocked(next TelCallState) error {
	prior := c.state
	if !legalTransition(prior, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalCallOperation, prior, next)
	}
	c.state = next
	c.runningState = runningStateOf(next)
	now := time.Now()
	switch next {
	case StateIncoming, StateWaiting:
		if c.ringBeginTime.IsZero() {
			c.ringBeginTime = now
		}
	case StateActive:
		if !c.ringBeginTime.IsZero() && c.ringEndTime.IsZero() {
			c.ringEndTime = now
		}
		if c.beginTime.IsZero() {
			c.beginTime = now
		}
	case StateDisconnecting, StateDisconnected:
		// answerType stays AnswerMissed unless Answer or Reject ran first.
		if !c.ringBeginTime.IsZero() && c.ringEndTime.IsZero() {
			c.ringEndTime = now
		}
		if next == StateDisconnected && c.endTime.IsZero() {
			c.endTime = now
		}
	}
	return nil
}

// Dial issues the outgoing request. Valid only from Idle. A lower-layer
// failure unwinds the leg straight to Disconnected, the leg never reached
// the lower layer so there is nothing to release remotely.
func (c *Call) Dial() error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: dial from %s", ErrIllegalCallOperation, state)
	}
	info := c.info()
	scene := c.scene
	c.mu.Unlock()

	if err := c.backend.Dial(info, scene); err != nil {
		_ = c.SetState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", info.Number, err)
	}
	return c.SetState(StateDialing)
}

// Answer accepts a ringing call with the given media type.
func (c *Call) Answer(videoState VideoState) error {
	if !ValidVideoState(videoState) {
		return fmt.Errorf("%w: video state %d", ErrInvalidArgument, videoState)
	}
	c.mu.Lock()
	if c.state != StateIncoming && c.state != StateWaiting {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: answer from %s", ErrIllegalCallOperation, state)
	}
	c.videoState = videoState
	info := c.info()
	c.mu.Unlock()

	if err := c.backend.Answer(info); err != nil {
		return err
	}
	c.mu.Lock()
	c.answerType = AnswerAccepted
	err := c.setStateLocked(StateActive)
	c.mu.Unlock()
	return err
}

// Reject declines a ringing call, optionally asking the messaging layer to
// send a text to the caller.
func (c *Call) Reject(sendMessage bool, message string) error {
	c.mu.Lock()
	if c.state != StateIncoming && c.state != StateWaiting {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: reject from %s", ErrIllegalCallOperation, state)
	}
	info := c.info()
	c.mu.Unlock()

	if err := c.backend.Reject(info, sendMessage, message); err != nil {
		return err
	}
	c.mu.Lock()
	c.answerType = AnswerRejected
	err := c.setStateLocked(StateDisconnecting)
	c.mu.Unlock()
	return err
}

// HangUp releases the call. Valid from any live state; the armed HangUpMode
// tells the lower layer which leg to recover in multi-call situations.
func (c *Call) HangUp() error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnecting, StateDisconnected:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: hang up from %s", ErrIllegalCallOperation, state)
	}
	info := c.info()
	mode := c.hangUpMode
	fromIdle := c.state == StateIdle
	c.mu.Unlock()

	// An Idle leg never reached the lower layer; tear it down locally.
	if !fromIdle {
		if err := c.backend.HangUp(info, mode); err != nil {
			return err
		}
	}
	return c.SetState(StateDisconnecting)
}

// Hold parks an active call.
func (c *Call) Hold() error {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: hold from %s", ErrIllegalCallOperation, state)
	}
	info := c.info()
	c.mu.Unlock()
	return c.backend.Hold(info)
}

// UnHold resumes a held call.
func (c *Call) UnHold() error {
	c.mu.Lock()
	if c.state != StateHolding {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: unhold from %s", ErrIllegalCallOperation, state)
	}
	info := c.info()
	c.mu.Unlock()
	return c.backend.UnHold(info)
}

// Switch swaps this held call with the active one. Preconditions are
// enforced by policy; this only forwards to the lower layer.
func (c *Call) Switch() error {
	c.mu.RLock()
	info := c.info()
	c.mu.RUnlock()
	return c.backend.Switch(info)
}

// StartDtmf sends one touch-tone digit on a live call.
func (c *Call) StartDtmf(digit byte) error {
	if !validDtmf(digit) {
		return fmt.Errorf("%w: dtmf digit %q", ErrInvalidArgument, digit)
	}
	c.mu.RLock()
	alive := c.state == StateActive || c.state == StateHolding || c.state == StateAlerting
	info := c.info()
	c.mu.RUnlock()
	if !alive {
		return fmt.Errorf("%w: dtmf", ErrIllegalCallOperation)
	}
	return c.backend.StartDtmf(digit, info)
}

// StopDtmf ends the current touch-tone.
func (c *Call) StopDtmf() error {
	c.mu.RLock()
	alive := c.state == StateActive || c.state == StateHolding || c.state == StateAlerting
	info := c.info()
	c.mu.RUnlock()
	if !alive {
		return fmt.Errorf("%w: dtmf", ErrIllegalCallOperation)
	}
	return c.backend.StopDtmf(info)
}

// SetMute toggles microphone mute for the call's slot.
func (c *Call) SetMute(mute bool) error {
	c.mu.Lock()
	kind := c.kind
	slot := c.slotID
	c.mu.Unlock()
	if kind == KindOTT {
		return ErrOttFunctionNotSupported
	}
	if err := c.backend.SetMute(slot, mute); err != nil {
		return err
	}
	c.mu.Lock()
	c.muted = mute
	c.mu.Unlock()
	return nil
}

// StartRtt begins real-time text on an IMS call.
func (c *Call) StartRtt(msg string) error {
	c.mu.RLock()
	kind := c.kind
	info := c.info()
	c.mu.RUnlock()
	if kind != KindIMS {
		return fmt.Errorf("%w: rtt requires an ims call", ErrIllegalCallOperation)
	}
	return c.backend.StartRtt(info, msg)
}

// StopRtt ends real-time text on an IMS call.
func (c *Call) StopRtt() error {
	c.mu.RLock()
	kind := c.kind
	info := c.info()
	c.mu.RUnlock()
	if kind != KindIMS {
		return fmt.Errorf("%w: rtt requires an ims call", ErrIllegalCallOperation)
	}
	return c.backend.StopRtt(info)
}

// UpdateMediaMode requests an IMS media mode change.
func (c *Call) UpdateMediaMode(mode ImsCallMode) error {
	c.mu.RLock()
	info := c.info()
	c.mu.RUnlock()
	return c.backend.UpdateMediaMode(info, mode)
}

// AttributeInfo snapshots the call for observers. Durations are zero until
// both boundary timestamps exist.
func (c *Call) AttributeInfo() AttributeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attr := AttributeInfo{
		CallID:         c.id,
		Kind:           c.kind,
		Direction:      c.direction,
		State:          c.state,
		RunningState:   c.runningState,
		ConferenceRole: c.confRole,
		VideoState:     c.videoState,
		Number:         c.number,
		SlotID:         c.slotID,
		Emergency:      c.emergency,
		Muted:          c.muted,
		StartTime:      c.startTime,
		AnswerType:     c.answerType,
		Contact:        c.contact,
	}
	if !c.beginTime.IsZero() && !c.endTime.IsZero() {
		attr.CallDuration = c.endTime.Sub(c.beginTime)
	}
	if !c.ringBeginTime.IsZero() && !c.ringEndTime.IsZero() {
		attr.RingDuration = c.ringEndTime.Sub(c.ringBeginTime)
	}
	return attr
}

func validDtmf(d byte) bool {
	switch {
	case d >= '0' && d <= '9':
		return true
	case d == '*' || d == '#':
		return true
	case d >= 'A' && d <= 'D':
		return true
	default:
		return false
	}
}
