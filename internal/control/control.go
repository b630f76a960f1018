package control

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
	"github.com/mobiletel/callcore/internal/listener"
)

// emergencyNumbers are dialable without a SIM and preempt the concurrency
// caps.
var emergencyNumbers = map[string]struct{}{
	"110": {}, "112": {}, "119": {}, "120": {}, "122": {},
	"911": {}, "999": {}, "000": {}, "08": {}, "118": {},
}

// IsEmergencyNumber reports whether a number reaches an emergency service.
func IsEmergencyNumber(number string) bool {
	_, ok := emergencyNumbers[calls.NormalizeNumber(number)]
	return ok
}

// CallControl is the inbound API of the call-control core. Every mutating
// operation is checked against policy first and then queued; a policy
// failure surfaces synchronously and nothing reaches the lower layer.
type CallControl struct {
	registry    *calls.Registry
	policy      *calls.Policy
	requests    *RequestDispatcher
	listeners   *listener.Registry
	backends    map[calls.CallKind]calls.Backend
	conferences map[calls.CallKind]*calls.Conference
	log         *logrus.Entry

	dialMu   sync.Mutex
	lastDial calls.DialParams
}

// NewCallControl wires the inbound API over the assembled core.
func NewCallControl(
	registry *calls.Registry,
	policy *calls.Policy,
	requests *RequestDispatcher,
	listeners *listener.Registry,
	backends map[calls.CallKind]calls.Backend,
	conferences map[calls.CallKind]*calls.Conference,
	log *logrus.Entry,
) *CallControl {
	return &CallControl{
		registry:    registry,
		policy:      policy,
		requests:    requests,
		listeners:   listeners,
		backends:    backends,
		conferences: conferences,
		log:         log,
	}
}

// DialCall starts an outgoing call and returns its id. Emergency numbers are
// reclassified before policy so the caps never block them.
func (cc *CallControl) DialCall(params calls.DialParams) (calls.CallID, error) {
	if IsEmergencyNumber(params.Number) {
		params.Emergency = true
		params.Scene = calls.DialSceneEmergency
		if params.Kind == calls.KindOTT {
			params.Kind = calls.KindCS
		}
	}
	if err := cc.policy.DialPolicy(params); err != nil {
		return calls.InvalidCallID, err
	}

	call := calls.NewOutgoingCall(params, cc.backends[params.Kind], cc.conferences[params.Kind])
	id, err := cc.registry.Add(call)
	if err != nil {
		return calls.InvalidCallID, err
	}
	if err := cc.requests.Enqueue(Request{Op: OpDial, CallID: id}); err != nil {
		cc.registry.Remove(id)
		return calls.InvalidCallID, err
	}

	cc.dialMu.Lock()
	cc.lastDial = params
	cc.dialMu.Unlock()
	cc.log.Infof("dialing %s call %d to %s", params.Kind, id, params.Number)
	return id, nil
}

// AnswerCall accepts a ringing call with the requested media type.
func (cc *CallControl) AnswerCall(id calls.CallID, videoState calls.VideoState) error {
	if err := cc.policy.AnswerPolicy(id, videoState); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpAnswer, CallID: id, VideoState: videoState})
}

// RejectCall declines a ringing call, optionally texting the caller.
func (cc *CallControl) RejectCall(id calls.CallID, sendMessage bool, message string) error {
	if err := cc.policy.RejectPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpReject, CallID: id, SendMessage: sendMessage, Message: message})
}

// HangUpCall releases a call.
func (cc *CallControl) HangUpCall(id calls.CallID) error {
	if err := cc.policy.HangUpPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpHangUp, CallID: id})
}

// HoldCall parks an active call.
func (cc *CallControl) HoldCall(id calls.CallID) error {
	if err := cc.policy.HoldPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpHold, CallID: id})
}

// UnHoldCall resumes a held call.
func (cc *CallControl) UnHoldCall(id calls.CallID) error {
	if err := cc.policy.UnHoldPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpUnHold, CallID: id})
}

// SwitchCall swaps the held call with the active one.
func (cc *CallControl) SwitchCall(id calls.CallID) error {
	if err := cc.policy.SwitchPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpSwitch, CallID: id})
}

// CombineConference merges the active call with the held call of its kind.
func (cc *CallControl) CombineConference(mainID calls.CallID) error {
	if err := cc.policy.CombineConferencePolicy(mainID); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpCombineConference, CallID: mainID})
}

// SeparateConference splits one participant back out of its conference.
func (cc *CallControl) SeparateConference(id calls.CallID) error {
	if err := cc.policy.SeparateConferencePolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpSeparateConference, CallID: id})
}

// JoinConference invites remote numbers into the IMS conference anchored on
// the given call.
func (cc *CallControl) JoinConference(id calls.CallID, numbers []string) error {
	if err := cc.policy.InviteToConferencePolicy(id, numbers); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpJoinConference, CallID: id, Numbers: numbers})
}

// UpdateImsCallMode requests an IMS media mode change; the outcome arrives
// later through OnReportAsyncResults.
func (cc *CallControl) UpdateImsCallMode(id calls.CallID, mode calls.ImsCallMode) error {
	if err := cc.policy.UpdateMediaModePolicy(id, mode); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpUpdateMediaMode, CallID: id, Mode: mode})
}

// StartRtt begins real-time text on an established IMS call.
func (cc *CallControl) StartRtt(id calls.CallID, msg string) error {
	if err := cc.policy.StartRttPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpStartRtt, CallID: id, Rtt: msg})
}

// StopRtt ends real-time text.
func (cc *CallControl) StopRtt(id calls.CallID) error {
	if err := cc.policy.StopRttPolicy(id); err != nil {
		return err
	}
	return cc.requests.Enqueue(Request{Op: OpStopRtt, CallID: id})
}

// SetMuted toggles microphone mute on the call's slot. Mute takes effect
// immediately, it never queues behind pending call operations.
func (cc *CallControl) SetMuted(id calls.CallID, mute bool) error {
	call, err := cc.registry.Get(id)
	if err != nil {
		return err
	}
	return call.SetMute(mute)
}

// StartDtmf sends one touch-tone digit on a live call.
func (cc *CallControl) StartDtmf(id calls.CallID, digit byte) error {
	call, err := cc.registry.Get(id)
	if err != nil {
		return err
	}
	return call.StartDtmf(digit)
}

// StopDtmf ends the current touch-tone.
func (cc *CallControl) StopDtmf(id calls.CallID) error {
	call, err := cc.registry.Get(id)
	if err != nil {
		return err
	}
	return call.StopDtmf()
}

// GetCallState returns the call's current state.
func (cc *CallControl) GetCallState(id calls.CallID) (calls.TelCallState, error) {
	call, err := cc.registry.Get(id)
	if err != nil {
		return calls.StateIdle, err
	}
	return call.State(), nil
}

// GetCallAttributeInfo snapshots a call for observers.
func (cc *CallControl) GetCallAttributeInfo(id calls.CallID) (calls.AttributeInfo, error) {
	call, err := cc.registry.Get(id)
	if err != nil {
		return calls.AttributeInfo{}, err
	}
	return call.AttributeInfo(), nil
}

// HasCall reports whether any call is live.
func (cc *CallControl) HasCall() bool {
	return cc.registry.HasCall()
}

// IsRinging reports whether a call is waiting to be answered.
func (cc *CallControl) IsRinging() bool {
	return cc.registry.CountByState(calls.StateIncoming)+cc.registry.CountByState(calls.StateWaiting) > 0
}

// IsNewCallAllowed reports whether another call may start now.
func (cc *CallControl) IsNewCallAllowed() bool {
	return cc.registry.NewCallAllowed()
}

// HasEmergency reports whether a live emergency call exists.
func (cc *CallControl) HasEmergency() bool {
	return cc.registry.HasEmergency()
}

// GetMainCallID returns the anchor of the given call's conference.
func (cc *CallControl) GetMainCallID(id calls.CallID) (calls.CallID, error) {
	call, err := cc.registry.Get(id)
	if err != nil {
		return calls.InvalidCallID, err
	}
	conf, ok := cc.conferences[call.Kind()]
	if !ok {
		return calls.InvalidCallID, calls.ErrConferenceNotSupported
	}
	return conf.MainCallID(), nil
}

// GetSubCallIDList lists the participants below the conference anchor.
func (cc *CallControl) GetSubCallIDList(id calls.CallID) ([]calls.CallID, error) {
	call, err := cc.registry.Get(id)
	if err != nil {
		return nil, err
	}
	conf, ok := cc.conferences[call.Kind()]
	if !ok {
		return nil, calls.ErrConferenceNotSupported
	}
	return conf.GetSubCallIDList(id)
}

// GetCallIDListForConference lists every conference participant.
func (cc *CallControl) GetCallIDListForConference(id calls.CallID) ([]calls.CallID, error) {
	call, err := cc.registry.Get(id)
	if err != nil {
		return nil, err
	}
	conf, ok := cc.conferences[call.Kind()]
	if !ok {
		return nil, calls.ErrConferenceNotSupported
	}
	return conf.GetCallIDListForConference(id)
}

// GetDialParaInfo returns the parameters of the most recent dial request.
func (cc *CallControl) GetDialParaInfo() calls.DialParams {
	cc.dialMu.Lock()
	defer cc.dialMu.Unlock()
	return cc.lastDial
}

// SubscribeListener registers a call activity observer.
func (cc *CallControl) SubscribeListener(l listener.Listener) string {
	return cc.listeners.Subscribe(l)
}

// UnsubscribeListener removes an observer by subscription key.
func (cc *CallControl) UnsubscribeListener(key string) bool {
	return cc.listeners.Unsubscribe(key)
}
