package calls

import (
	"errors"
	"strings"
	"testing"
)

func newTestPolicy(r *Registry) *Policy {
	return NewPolicy(r, map[CallKind]*Conference{
		KindCS:  NewConference(KindCS, DefaultConferenceLimit),
		KindIMS: NewConference(KindIMS, DefaultConferenceLimit),
	})
}

func TestDialPolicy(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		p := newTestPolicy(NewRegistry())
		if err := p.DialPolicy(DialParams{Kind: KindCS, Number: "5551111"}); err != nil {
			t.Errorf("DialPolicy: %v", err)
		}
	})

	t.Run("empty number", func(t *testing.T) {
		p := newTestPolicy(NewRegistry())
		if err := p.DialPolicy(DialParams{Kind: KindCS}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("DialPolicy = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("oversized number", func(t *testing.T) {
		p := newTestPolicy(NewRegistry())
		long := strings.Repeat("5", MaxNumberLen+1)
		if err := p.DialPolicy(DialParams{Kind: KindCS, Number: long}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("DialPolicy = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("blocked while dialing", func(t *testing.T) {
		r := NewRegistry()
		addCall(t, r, "5551111", KindCS, StateDialing)
		p := newTestPolicy(r)
		if err := p.DialPolicy(DialParams{Kind: KindCS, Number: "5552222"}); !errors.Is(err, ErrIllegalCallOperation) {
			t.Errorf("DialPolicy = %v, want ErrIllegalCallOperation", err)
		}
	})

	t.Run("emergency preempts caps", func(t *testing.T) {
		r := NewRegistry()
		addCall(t, r, "5551111", KindCS, StateDialing)
		p := newTestPolicy(r)
		err := p.DialPolicy(DialParams{Kind: KindCS, Number: "911", Scene: DialSceneEmergency, Emergency: true})
		if err != nil {
			t.Errorf("emergency DialPolicy: %v", err)
		}
	})
}

func TestAnswerPolicy(t *testing.T) {
	r := NewRegistry()
	ringing := NewIncomingCall(CallReport{Kind: KindCS, Number: "5551111"}, &fakeBackend{}, nil)
	if _, err := r.Add(ringing); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_ = ringing.SetState(StateIncoming)
	active := addCall(t, r, "5552222", KindCS, StateActive)
	p := newTestPolicy(r)

	if err := p.AnswerPolicy(ringing.ID(), VideoStateVoice); err != nil {
		t.Errorf("AnswerPolicy on ringing call: %v", err)
	}
	if err := p.AnswerPolicy(active.ID(), VideoStateVoice); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("AnswerPolicy on active call = %v, want ErrIllegalCallOperation", err)
	}
	if err := p.AnswerPolicy(ringing.ID(), VideoState(9)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AnswerPolicy bad media = %v, want ErrInvalidArgument", err)
	}
	if err := p.AnswerPolicy(CallID(999), VideoStateVoice); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("AnswerPolicy unknown id = %v, want ErrCallNotFound", err)
	}
}

func TestHangUpPolicy(t *testing.T) {
	r := NewRegistry()
	idle := addCall(t, r, "5551111", KindCS, StateIdle)
	active := addCall(t, r, "5552222", KindCS, StateActive)
	p := newTestPolicy(r)

	if err := p.HangUpPolicy(active.ID()); err != nil {
		t.Errorf("HangUpPolicy on active call: %v", err)
	}
	if err := p.HangUpPolicy(idle.ID()); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("HangUpPolicy on idle call = %v, want ErrIllegalCallOperation", err)
	}
}

func TestSwitchPolicy(t *testing.T) {
	t.Run("too few calls", func(t *testing.T) {
		r := NewRegistry()
		held := addCall(t, r, "5551111", KindCS, StateHolding)
		p := newTestPolicy(r)
		if err := p.SwitchPolicy(held.ID()); !errors.Is(err, ErrIllegalCallOperation) {
			t.Errorf("SwitchPolicy = %v, want ErrIllegalCallOperation", err)
		}
	})

	t.Run("target not holding", func(t *testing.T) {
		r := NewRegistry()
		active := addCall(t, r, "5551111", KindCS, StateActive)
		addCall(t, r, "5552222", KindCS, StateActive)
		p := newTestPolicy(r)
		if err := p.SwitchPolicy(active.ID()); !errors.Is(err, ErrIllegalCallOperation) {
			t.Errorf("SwitchPolicy = %v, want ErrIllegalCallOperation", err)
		}
	})

	t.Run("valid swap", func(t *testing.T) {
		r := NewRegistry()
		held := addCall(t, r, "5551111", KindCS, StateHolding)
		addCall(t, r, "5552222", KindCS, StateActive)
		p := newTestPolicy(r)
		if err := p.SwitchPolicy(held.ID()); err != nil {
			t.Errorf("SwitchPolicy: %v", err)
		}
	})

	t.Run("ott excluded", func(t *testing.T) {
		r := NewRegistry()
		ottCall := addCall(t, r, "5551111", KindOTT, StateHolding)
		addCall(t, r, "5552222", KindCS, StateActive)
		p := newTestPolicy(r)
		if err := p.SwitchPolicy(ottCall.ID()); !errors.Is(err, ErrIllegalCallOperation) {
			t.Errorf("SwitchPolicy on ott call = %v, want ErrIllegalCallOperation", err)
		}
	})
}

func TestCombineConferencePolicy(t *testing.T) {
	r := NewRegistry()
	active := addCall(t, r, "5551111", KindCS, StateActive)
	p := newTestPolicy(r)

	// No held call of the same kind yet.
	if err := p.CombineConferencePolicy(active.ID()); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("CombineConferencePolicy = %v, want ErrIllegalCallOperation", err)
	}

	addCall(t, r, "5552222", KindCS, StateHolding)
	if err := p.CombineConferencePolicy(active.ID()); err != nil {
		t.Errorf("CombineConferencePolicy with held call: %v", err)
	}
}

func TestUpdateMediaModePolicy(t *testing.T) {
	r := NewRegistry()
	ims := addCall(t, r, "5551111", KindIMS, StateActive)
	cs := addCall(t, r, "5552222", KindCS, StateActive)
	p := newTestPolicy(r)

	if err := p.UpdateMediaModePolicy(ims.ID(), ImsModeSendReceive); err != nil {
		t.Errorf("UpdateMediaModePolicy: %v", err)
	}
	if err := p.UpdateMediaModePolicy(cs.ID(), ImsModeSendReceive); !errors.Is(err, ErrIllegalCallOperation) {
		t.Errorf("UpdateMediaModePolicy on cs = %v, want ErrIllegalCallOperation", err)
	}
	if err := p.UpdateMediaModePolicy(ims.ID(), ImsCallMode(99)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateMediaModePolicy bad mode = %v, want ErrInvalidArgument", err)
	}
}

func TestInviteToConferencePolicy(t *testing.T) {
	r := NewRegistry()
	conferences := map[CallKind]*Conference{
		KindCS:  NewConference(KindCS, DefaultConferenceLimit),
		KindIMS: NewConference(KindIMS, DefaultConferenceLimit),
	}
	p := NewPolicy(r, conferences)
	anchor := addCall(t, r, "5551111", KindIMS, StateActive)

	if err := p.InviteToConferencePolicy(anchor.ID(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty invite = %v, want ErrInvalidArgument", err)
	}
	if err := p.InviteToConferencePolicy(anchor.ID(), []string{"5552222"}); !errors.Is(err, ErrCallNotInConference) {
		t.Errorf("invite without conference = %v, want ErrCallNotInConference", err)
	}

	_ = conferences[KindIMS].SetMainCall(anchor.ID())
	if err := p.InviteToConferencePolicy(anchor.ID(), []string{"5552222"}); err != nil {
		t.Errorf("invite on anchored conference: %v", err)
	}
}
