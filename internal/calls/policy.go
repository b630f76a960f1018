package calls

import (
	"fmt"
)

// Bounds applied to caller-supplied input.
const (
	MaxNumberLen     = 100
	MaxInviteNumbers = 10
)

// Policy is the stateless precondition layer consulted before every
// mutating operation. Each check reads the registry and conference groups
// and returns a typed error without performing the operation, so failures
// surface before any lower-layer request is attempted.
type Policy struct {
	registry    *Registry
	conferences map[CallKind]*Conference
}

// NewPolicy wires the precondition layer over the registry and the per-kind
// conference groups.
func NewPolicy(registry *Registry, conferences map[CallKind]*Conference) *Policy {
	return &Policy{registry: registry, conferences: conferences}
}

// CheckNumber validates a dialable phone number.
func (p *Policy) CheckNumber(number string) error {
	if number == "" {
		return fmt.Errorf("%w: empty phone number", ErrInvalidArgument)
	}
	if len(number) > MaxNumberLen {
		return fmt.Errorf("%w: number length %d exceeds %d", ErrInvalidArgument, len(number), MaxNumberLen)
	}
	return nil
}

// DialPolicy gates a new outgoing call.
func (p *Policy) DialPolicy(params DialParams) error {
	if err := p.CheckNumber(params.Number); err != nil {
		return err
	}
	if !ValidVideoState(params.VideoState) {
		return fmt.Errorf("%w: video state %d", ErrInvalidArgument, params.VideoState)
	}
	if params.SlotID < 0 {
		return fmt.Errorf("%w: slot %d", ErrInvalidArgument, params.SlotID)
	}
	// Emergency dialing preempts the concurrency caps.
	if params.Scene == DialSceneEmergency {
		return nil
	}
	if !p.registry.NewCallAllowed() {
		return fmt.Errorf("%w: new calls not allowed now", ErrIllegalCallOperation)
	}
	return nil
}

// AnswerPolicy requires a ringing call and a legal media type.
func (p *Policy) AnswerPolicy(id CallID, videoState VideoState) error {
	if !ValidVideoState(videoState) {
		return fmt.Errorf("%w: video state %d", ErrInvalidArgument, videoState)
	}
	return p.requireState(id, StateIncoming, StateWaiting)
}

// RejectPolicy requires a ringing call.
func (p *Policy) RejectPolicy(id CallID) error {
	return p.requireState(id, StateIncoming, StateWaiting)
}

// HangUpPolicy forbids releasing a call that never started or already ended.
func (p *Policy) HangUpPolicy(id CallID) error {
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	switch call.State() {
	case StateIdle, StateDisconnecting, StateDisconnected:
		return fmt.Errorf("%w: hang up from %s", ErrIllegalCallOperation, call.State())
	}
	return nil
}

// HoldPolicy requires an active call.
func (p *Policy) HoldPolicy(id CallID) error {
	return p.requireState(id, StateActive)
}

// UnHoldPolicy requires a held call.
func (p *Policy) UnHoldPolicy(id CallID) error {
	return p.requireState(id, StateHolding)
}

// SwitchPolicy requires a held target, at least two carrier calls, and no
// leg still connecting.
func (p *Policy) SwitchPolicy(id CallID) error {
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if call.Kind() == KindOTT {
		return fmt.Errorf("%w: switch on ott call", ErrIllegalCallOperation)
	}
	if p.registry.CarrierCallCount() < 2 {
		return fmt.Errorf("%w: too few calls to switch", ErrIllegalCallOperation)
	}
	if call.State() != StateHolding {
		return fmt.Errorf("%w: switch target is %s, want %s", ErrIllegalCallOperation, call.State(), StateHolding)
	}
	if p.registry.HasDialingMax() {
		return fmt.Errorf("%w: a call is still connecting", ErrIllegalCallOperation)
	}
	return nil
}

// CombineConferencePolicy requires an active anchor with a held call of the
// same kind and room in the conference group.
func (p *Policy) CombineConferencePolicy(mainID CallID) error {
	call, err := p.registry.Get(mainID)
	if err != nil {
		return err
	}
	if call.State() != StateActive {
		return fmt.Errorf("%w: main call is %s, want %s", ErrIllegalCallOperation, call.State(), StateActive)
	}
	if p.registry.CountByKindAndState(call.Kind(), StateHolding) == 0 {
		return fmt.Errorf("%w: no %s call holding", ErrIllegalCallOperation, call.Kind())
	}
	return call.CanCombineConference()
}

// SeparateConferencePolicy probes a split before it is queued.
func (p *Policy) SeparateConferencePolicy(id CallID) error {
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	return call.CanSeparateConference()
}

// UpdateMediaModePolicy requires an IMS call and a known mode.
func (p *Policy) UpdateMediaModePolicy(id CallID, mode ImsCallMode) error {
	if mode < ImsModeAudioOnly || mode > ImsModeVideoPaused {
		return fmt.Errorf("%w: ims call mode %d", ErrInvalidArgument, mode)
	}
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if call.Kind() != KindIMS {
		return fmt.Errorf("%w: media mode on %s call", ErrIllegalCallOperation, call.Kind())
	}
	return nil
}

// StartRttPolicy requires an established IMS call.
func (p *Policy) StartRttPolicy(id CallID) error {
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if call.Kind() != KindIMS {
		return fmt.Errorf("%w: rtt on %s call", ErrIllegalCallOperation, call.Kind())
	}
	if call.State() != StateActive {
		return fmt.Errorf("%w: rtt while %s", ErrIllegalCallOperation, call.State())
	}
	return nil
}

// StopRttPolicy requires an IMS call.
func (p *Policy) StopRttPolicy(id CallID) error {
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if call.Kind() != KindIMS {
		return fmt.Errorf("%w: rtt on %s call", ErrIllegalCallOperation, call.Kind())
	}
	return nil
}

// InviteToConferencePolicy requires a bounded, non-empty number list and an
// IMS conference anchored on the given call.
func (p *Policy) InviteToConferencePolicy(id CallID, numbers []string) error {
	if len(numbers) == 0 {
		return fmt.Errorf("%w: empty invite list", ErrInvalidArgument)
	}
	if len(numbers) > MaxInviteNumbers {
		return fmt.Errorf("%w: invite list size %d exceeds %d", ErrInvalidArgument, len(numbers), MaxInviteNumbers)
	}
	for _, number := range numbers {
		if err := p.CheckNumber(number); err != nil {
			return err
		}
	}
	conf, ok := p.conferences[KindIMS]
	if !ok {
		return ErrConferenceNotSupported
	}
	if conf.State() == ConferenceIdle || conf.MainCallID() != id {
		return fmt.Errorf("%w: call %d is not the ims conference anchor", ErrCallNotInConference, id)
	}
	return nil
}

func (p *Policy) requireState(id CallID, states ...TelCallState) error {
	call, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	current := call.State()
	for _, s := range states {
		if current == s {
			return nil
		}
	}
	return fmt.Errorf("%w: call %d is %s", ErrIllegalCallOperation, id, current)
}
