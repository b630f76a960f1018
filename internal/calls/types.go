package calls

import "time"

// CallID identifies a call for its entire lifetime. Ids are assigned by the
// registry and never reused within a process.
type CallID int32

// InvalidCallID marks an unassigned or unknown call id.
const InvalidCallID CallID = -1

// CallKind distinguishes how a call leg is routed.
type CallKind int

const (
	KindCS CallKind = iota
	KindIMS
	KindOTT
)

func (k CallKind) String() string {
	switch k {
	case KindCS:
		return "cs"
	case KindIMS:
		return "ims"
	case KindOTT:
		return "ott"
	default:
		return "unknown"
	}
}

// Direction of a call leg: mobile-originated or mobile-terminated.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "incoming"
	}
	return "outgoing"
}

// VideoState is the requested media type of a call.
type VideoState int

const (
	VideoStateVoice VideoState = iota
	VideoStateVideo
)

// ValidVideoState reports whether v names a known media type.
func ValidVideoState(v VideoState) bool {
	return v == VideoStateVoice || v == VideoStateVideo
}

// DialScene classifies an outgoing call attempt.
type DialScene int

const (
	DialSceneNormal DialScene = iota
	DialScenePrivileged
	DialSceneEmergency
)

// ImsCallMode is the IMS media mode requested by UpdateImsCallMode.
type ImsCallMode int

const (
	ImsModeAudioOnly ImsCallMode = iota
	ImsModeSendOnly
	ImsModeReceiveOnly
	ImsModeSendReceive
	ImsModeVideoPaused
)

// AnswerType records how a terminated ringing call was resolved.
type AnswerType int

const (
	AnswerMissed AnswerType = iota
	AnswerAccepted
	AnswerRejected
)

// HangUpMode tells the lower layer which leg to release or recover during a
// multi-call hang-up.
type HangUpMode int

const (
	// HangUpDefault releases the addressed call only.
	HangUpDefault HangUpMode = iota
	// HangUpActiveRecoverHold releases the active call and resumes the held one.
	HangUpActiveRecoverHold
)

// DialParams describes one requested outgoing call. Consumed once at call
// creation and not persisted.
type DialParams struct {
	Kind       CallKind
	Scene      DialScene
	Number     string
	VideoState VideoState
	SlotID     int32
	BundleName string
	Emergency  bool
}

// CallReport is one call leg as reported by the lower layer.
type CallReport struct {
	Kind       CallKind
	SlotID     int32
	Index      int32
	Number     string
	State      TelCallState
	VideoState VideoState
}

// BatchReport is the lower layer's full snapshot of calls on one slot.
type BatchReport struct {
	SlotID int32
	Calls  []CallReport
}

// DisconnectDetails carries the lower layer's cause for a call teardown.
type DisconnectDetails struct {
	Cause   int32
	Message string
}

// ContactInfo is the cached contact-database view of the remote party.
type ContactInfo struct {
	Name      string
	Number    string
	Exists    bool
	Ringtone  string
	Voicemail bool
}

// AttributeInfo is a read-only snapshot of a call's externally visible state.
type AttributeInfo struct {
	CallID         CallID
	Kind           CallKind
	Direction      Direction
	State          TelCallState
	RunningState   RunningState
	ConferenceRole ConferenceRole
	VideoState     VideoState
	Number         string
	SlotID         int32
	Emergency      bool
	Muted          bool
	StartTime      time.Time
	// CallDuration and RingDuration are zero unless both boundary
	// timestamps were recorded.
	CallDuration time.Duration
	RingDuration time.Duration
	AnswerType   AnswerType
	Contact      ContactInfo
}

// EventID names an application-level call event produced by the report path.
type EventID int

const (
	EventDialNoCarrier EventID = iota
	EventOttFunctionUnsupported
)

// EventInfo is delivered to listeners on OnCallEventChange.
type EventInfo struct {
	Event      EventID
	Number     string
	BundleName string
}
