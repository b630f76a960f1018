package cellular

import (
	"fmt"

	"github.com/mobiletel/callcore/internal/calls"
)

// command is one outbound request frame on the control channel.
type command struct {
	Command string     `json:"command"`
	Token   string     `json:"token"`
	Call    *wireCall  `json:"call,omitempty"`
	Params  wireParams `json:"params,omitempty"`
}

// wireCall addresses one call leg at the cellular call service.
type wireCall struct {
	CallID     int32  `json:"callId"`
	Kind       string `json:"kind"`
	SlotID     int32  `json:"slotId"`
	Index      int32  `json:"index"`
	Number     string `json:"number"`
	VideoState int32  `json:"videoState"`
}

type wireParams map[string]any

// response is the service's reply to a command, correlated by token.
type response struct {
	Response bool   `json:"response"`
	OK       bool   `json:"ok"`
	Data     string `json:"data,omitempty"`
	Token    string `json:"token"`
}

// ReportKind discriminates inbound report frames.
type ReportKind string

const (
	ReportCallState      ReportKind = "CALL_STATE"
	ReportCallBatch      ReportKind = "CALL_STATE_BATCH"
	ReportDisconnect     ReportKind = "DISCONNECT_CAUSE"
	ReportEventResult    ReportKind = "EVENT_RESULT"
	ReportMediaModeReply ReportKind = "MEDIA_MODE_RESPONSE"
	ReportServiceRestart ReportKind = "SERVICE_RESTART"
)

// reportFrame is the raw inbound report as framed by the service.
type reportFrame struct {
	Report  bool       `json:"report"`
	Type    ReportKind `json:"type"`
	SlotID  int32      `json:"slotId"`
	Call    *wireLeg   `json:"call,omitempty"`
	Calls   []wireLeg  `json:"calls,omitempty"`
	Cause   int32      `json:"cause,omitempty"`
	Message string     `json:"message,omitempty"`
	EventID int32      `json:"eventId,omitempty"`
	Mode    int32      `json:"mode,omitempty"`
	OK      bool       `json:"ok,omitempty"`
}

// wireLeg is one reported call leg.
type wireLeg struct {
	Kind       string `json:"kind"`
	Index      int32  `json:"index"`
	Number     string `json:"number"`
	State      string `json:"state"`
	VideoState int32  `json:"videoState"`
}

// Report is a decoded inbound report delivered on the client's report
// channel.
type Report struct {
	Kind       ReportKind
	SlotID     int32
	Call       calls.CallReport
	Batch      calls.BatchReport
	Disconnect calls.DisconnectDetails
	EventID    int32
	Mode       int32
	OK         bool
}

func kindToWire(kind calls.CallKind) string {
	return kind.String()
}

func kindFromWire(s string) (calls.CallKind, error) {
	switch s {
	case "cs":
		return calls.KindCS, nil
	case "ims":
		return calls.KindIMS, nil
	case "ott":
		return calls.KindOTT, nil
	default:
		return calls.KindCS, fmt.Errorf("unknown call kind %q", s)
	}
}

func stateFromWire(s string) (calls.TelCallState, error) {
	switch s {
	case "DIALING":
		return calls.StateDialing, nil
	case "ALERTING":
		return calls.StateAlerting, nil
	case "INCOMING":
		return calls.StateIncoming, nil
	case "WAITING":
		return calls.StateWaiting, nil
	case "ACTIVE":
		return calls.StateActive, nil
	case "HOLDING":
		return calls.StateHolding, nil
	case "DISCONNECTING":
		return calls.StateDisconnecting, nil
	case "DISCONNECTED":
		return calls.StateDisconnected, nil
	default:
		return calls.StateIdle, fmt.Errorf("unknown call state %q", s)
	}
}

func legToReport(slot int32, leg wireLeg) (calls.CallReport, error) {
	kind, err := kindFromWire(leg.Kind)
	if err != nil {
		return calls.CallReport{}, err
	}
	state, err := stateFromWire(leg.State)
	if err != nil {
		return calls.CallReport{}, err
	}
	return calls.CallReport{
		Kind:       kind,
		SlotID:     slot,
		Index:      leg.Index,
		Number:     leg.Number,
		State:      state,
		VideoState: calls.VideoState(leg.VideoState),
	}, nil
}

func infoToWire(info calls.BackendInfo) *wireCall {
	return &wireCall{
		CallID:     int32(info.CallID),
		Kind:       kindToWire(info.Kind),
		SlotID:     info.SlotID,
		Index:      info.Index,
		Number:     info.Number,
		VideoState: int32(info.VideoState),
	}
}
