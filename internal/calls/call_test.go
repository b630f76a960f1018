package calls

import (
	"errors"
	"sync"
	"testing"
)

// fakeBackend records the operations a call forwards to the lower layer and
// can be told to fail specific ones.
type fakeBackend struct {
	mu  sync.Mutex
	ops []string

	failDial   bool
	failAnswer bool
	failHangUp bool
}

func (f *fakeBackend) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeBackend) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *fakeBackend) Dial(info BackendInfo, scene DialScene) error {
	f.record("dial")
	if f.failDial {
		return errors.New("no carrier")
	}
	return nil
}

func (f *fakeBackend) Answer(info BackendInfo) error {
	f.record("answer")
	if f.failAnswer {
		return errors.New("answer failed")
	}
	return nil
}

func (f *fakeBackend) Reject(info BackendInfo, sendMessage bool, message string) error {
	f.record("reject")
	return nil
}

func (f *fakeBackend) HangUp(info BackendInfo, mode HangUpMode) error {
	f.record("hangup")
	if f.failHangUp {
		return errors.New("hangup failed")
	}
	return nil
}

func (f *fakeBackend) Hold(info BackendInfo) error   { f.record("hold"); return nil }
func (f *fakeBackend) UnHold(info BackendInfo) error { f.record("unhold"); return nil }
func (f *fakeBackend) Switch(info BackendInfo) error { f.record("switch"); return nil }

func (f *fakeBackend) CombineConference(info BackendInfo) error {
	f.record("combine")
	return nil
}

func (f *fakeBackend) SeparateConference(info BackendInfo) error {
	f.record("separate")
	return nil
}

func (f *fakeBackend) StartDtmf(digit byte, info BackendInfo) error {
	f.record("startDtmf")
	return nil
}

func (f *fakeBackend) StopDtmf(info BackendInfo) error { f.record("stopDtmf"); return nil }

func (f *fakeBackend) SetMute(slotID int32, mute bool) error { f.record("setMute"); return nil }

func (f *fakeBackend) StartRtt(info BackendInfo, msg string) error {
	f.record("startRtt")
	return nil
}

func (f *fakeBackend) StopRtt(info BackendInfo) error { f.record("stopRtt"); return nil }

func (f *fakeBackend) UpdateMediaMode(info BackendInfo, mode ImsCallMode) error {
	f.record("updateMediaMode")
	return nil
}

func (f *fakeBackend) JoinConference(info BackendInfo, numbers []string) error {
	f.record("joinConference")
	return nil
}

func newTestCall(t *testing.T, kind CallKind, backend Backend) *Call {
	t.Helper()
	return NewOutgoingCall(DialParams{
		Kind:   kind,
		Number: "5551111",
	}, backend, nil)
}

func TestDialMovesIdleToDialing(t *testing.T) {
	backend := &fakeBackend{}
	call := newTestCall(t, KindCS, backend)

	if err := call.Dial(); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got := call.State(); got != StateDialing {
		t.Errorf("state = %s, want %s", got, StateDialing)
	}
	if got := call.Running(); got != RunningDialing {
		t.Errorf("running = %s, want %s", got, RunningDialing)
	}

	// A second dial must be rejected.
	if err := call.Dial(); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("second Dial = %v, want ErrIllegalCallOperation", err)
	}
}

func TestDialFailureUnwindsCall(t *testing.T) {
	backend := &fakeBackend{failDial: true}
	call := newTestCall(t, KindCS, backend)

	if err := call.Dial(); err == nil {
		t.Fatal("Dial succeeded, want failure")
	}
	if got := call.State(); got != StateDisconnected {
		t.Errorf("state after failed dial = %s, want %s", got, StateDisconnected)
	}
	// The Idle leg never reached the lower layer, so no hangup goes out.
	for _, op := range backend.calls() {
		if op == "hangup" {
			t.Error("failed dial sent a lower-layer hangup for an idle leg")
		}
	}
}

func TestAnswerOnlyFromRinging(t *testing.T) {
	backend := &fakeBackend{}
	call := NewIncomingCall(CallReport{Kind: KindCS, Number: "5552222"}, backend, nil)
	if err := call.SetState(StateIncoming); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if err := call.Answer(VideoStateVoice); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got := call.State(); got != StateActive {
		t.Errorf("state = %s, want %s", got, StateActive)
	}
	if got := call.AttributeInfo().AnswerType; got != AnswerAccepted {
		t.Errorf("answer type = %d, want %d", got, AnswerAccepted)
	}

	if err := call.Answer(VideoStateVoice); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("Answer on active call = %v, want ErrIllegalCallOperation", err)
	}
}

func TestAnswerRejectsBadVideoState(t *testing.T) {
	backend := &fakeBackend{}
	call := NewIncomingCall(CallReport{Kind: KindCS, Number: "5552222"}, backend, nil)
	_ = call.SetState(StateIncoming)

	if err := call.Answer(VideoState(42)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Answer = %v, want ErrInvalidArgument", err)
	}
}

func TestRejectMarksAnswerType(t *testing.T) {
	backend := &fakeBackend{}
	call := NewIncomingCall(CallReport{Kind: KindCS, Number: "5552222"}, backend, nil)
	_ = call.SetState(StateIncoming)

	if err := call.Reject(true, "busy right now"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got := call.State(); got != StateDisconnecting {
		t.Errorf("state = %s, want %s", got, StateDisconnecting)
	}
	if got := call.AttributeInfo().AnswerType; got != AnswerRejected {
		t.Errorf("answer type = %d, want %d", got, AnswerRejected)
	}
}

func TestUnansweredIncomingMarkedMissed(t *testing.T) {
	backend := &fakeBackend{}
	call := NewIncomingCall(CallReport{Kind: KindCS, Number: "5552222"}, backend, nil)
	_ = call.SetState(StateIncoming)
	_ = call.SetState(StateDisconnected)

	attr := call.AttributeInfo()
	if attr.AnswerType != AnswerMissed {
		t.Errorf("answer type = %d, want %d", attr.AnswerType, AnswerMissed)
	}
	if attr.RingDuration < 0 {
		t.Errorf("ring duration = %v, want >= 0", attr.RingDuration)
	}
}

func TestHangUpFromEndedStates(t *testing.T) {
	backend := &fakeBackend{}
	call := newTestCall(t, KindCS, backend)
	_ = call.Dial()
	_ = call.SetState(StateDisconnecting)

	if err := call.HangUp(); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("HangUp while disconnecting = %v, want ErrIllegalCallOperation", err)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  TelCallState
		to    TelCallState
		legal bool
	}{
		{"idle to dialing", StateIdle, StateDialing, true},
		{"idle to incoming", StateIdle, StateIncoming, true},
		{"dialing to alerting", StateDialing, StateAlerting, true},
		{"dialing to active", StateDialing, StateActive, true},
		{"alerting to active", StateAlerting, StateActive, true},
		{"incoming to active", StateIncoming, StateActive, true},
		{"active to holding", StateActive, StateHolding, true},
		{"holding to active", StateHolding, StateActive, true},
		{"any to disconnected", StateAlerting, StateDisconnected, true},
		{"same state", StateActive, StateActive, true},
		{"holding to alerting", StateHolding, StateAlerting, false},
		{"incoming to dialing", StateIncoming, StateDialing, false},
		{"disconnected to active", StateDisconnected, StateActive, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := legalTransition(tc.from, tc.to); got != tc.legal {
				t.Errorf("legalTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.legal)
			}
		})
	}
}

func TestDtmfValidation(t *testing.T) {
	backend := &fakeBackend{}
	call := newTestCall(t, KindCS, backend)
	_ = call.SetState(StateDialing)
	_ = call.SetState(StateActive)

	if err := call.StartDtmf('5'); err != nil {
		t.Errorf("StartDtmf('5'): %v", err)
	}
	if err := call.StartDtmf('#'); err != nil {
		t.Errorf("StartDtmf('#'): %v", err)
	}
	if err := call.StartDtmf('x'); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("StartDtmf('x') = %v, want ErrInvalidArgument", err)
	}
}

func TestRttRequiresIms(t *testing.T) {
	backend := &fakeBackend{}
	call := newTestCall(t, KindCS, backend)

	if err := call.StartRtt("hello"); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("StartRtt on cs call = %v, want ErrIllegalCallOperation", err)
	}

	imsCall := newTestCall(t, KindIMS, backend)
	if err := imsCall.StartRtt("hello"); err != nil {
		t.Errorf("StartRtt on ims call: %v", err)
	}
}

func TestAttributeDurations(t *testing.T) {
	backend := &fakeBackend{}
	call := NewIncomingCall(CallReport{Kind: KindCS, Number: "5553333"}, backend, nil)
	_ = call.SetState(StateIncoming)

	// While ringing neither duration exists yet.
	attr := call.AttributeInfo()
	if attr.CallDuration != 0 || attr.RingDuration != 0 {
		t.Errorf("durations before answer = %v/%v, want 0/0", attr.CallDuration, attr.RingDuration)
	}

	_ = call.SetState(StateActive)
	_ = call.SetState(StateDisconnected)

	attr = call.AttributeInfo()
	if attr.RingDuration < 0 {
		t.Errorf("ring duration = %v, want >= 0", attr.RingDuration)
	}
	if attr.CallDuration < 0 {
		t.Errorf("call duration = %v, want >= 0", attr.CallDuration)
	}
}
