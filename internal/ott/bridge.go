package ott

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
)

// RequestType names one forwarded call operation.
type RequestType string

const (
	RequestDial   RequestType = "DIAL"
	RequestAnswer RequestType = "ANSWER"
	RequestReject RequestType = "REJECT"
	RequestHangUp RequestType = "HANGUP"
	RequestHold   RequestType = "HOLD"
	RequestUnHold RequestType = "UNHOLD"
)

// Request is one call operation forwarded to the registered OTT application.
type Request struct {
	ID          string      `json:"id"`
	Type        RequestType `json:"type"`
	CallID      int32       `json:"callId"`
	Number      string      `json:"number"`
	SlotID      int32       `json:"slotId"`
	VideoState  int32       `json:"videoState"`
	BundleName  string      `json:"bundleName,omitempty"`
	SendMessage bool        `json:"sendMessage,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// Update is one inbound frame from the OTT application: either a call state
// change or a disconnect with cause.
type Update struct {
	Call       calls.CallReport
	Disconnect *calls.DisconnectDetails
}

// updateFrame is the wire form of an Update.
type updateFrame struct {
	Type       string `json:"type"`
	Index      int32  `json:"index"`
	Number     string `json:"number"`
	State      string `json:"state"`
	SlotID     int32  `json:"slotId"`
	VideoState int32  `json:"videoState"`
	Cause      int32  `json:"cause,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Bridge links the core to the single registered OTT calling application
// over a websocket. It implements calls.Backend for OTT call legs; the
// carrier-only operations report ErrOttFunctionNotSupported so callers can
// translate them into the unsupported-function event.
type Bridge struct {
	log      *logrus.Entry
	upgrader websocket.Upgrader

	connMu sync.Mutex
	conn   *websocket.Conn

	// notify, when set, observes every request forwarded to the
	// application. Set once at wiring time, before any call traffic.
	notify func(Request)

	updates chan Update
}

// NewBridge builds an OTT bridge with no application registered yet.
func NewBridge(log *logrus.Entry) *Bridge {
	return &Bridge{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		updates: make(chan Update, 100),
	}
}

// SetNotify registers an observer for forwarded requests.
func (b *Bridge) SetNotify(fn func(Request)) {
	b.notify = fn
}

// Updates returns the stream of inbound OTT call state changes.
func (b *Bridge) Updates() <-chan Update {
	return b.updates
}

// Registered reports whether an OTT application is currently connected.
func (b *Bridge) Registered() bool {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn != nil
}

// ServeHTTP accepts the OTT application's registration. A new registration
// replaces any previous one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("ott registration upgrade failed")
		return
	}
	b.connMu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.connMu.Unlock()
	b.log.Infof("ott application registered from %s", conn.RemoteAddr())
	go b.readLoop(conn)
}

// Close disconnects the registered application, if any.
func (b *Bridge) Close() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		var frame updateFrame
		if err := conn.ReadJSON(&frame); err != nil {
			b.log.WithError(err).Info("ott application disconnected")
			b.connMu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			b.connMu.Unlock()
			return
		}
		update, err := frame.decode()
		if err != nil {
			b.log.WithError(err).Warn("dropping malformed ott update")
			continue
		}
		select {
		case b.updates <- update:
		default:
			b.log.Warn("ott update channel full, dropping update")
		}
	}
}

func (f updateFrame) decode() (Update, error) {
	state, err := stateFromWire(f.State)
	if err != nil {
		return Update{}, err
	}
	update := Update{
		Call: calls.CallReport{
			Kind:       calls.KindOTT,
			SlotID:     f.SlotID,
			Index:      f.Index,
			Number:     f.Number,
			State:      state,
			VideoState: calls.VideoState(f.VideoState),
		},
	}
	if f.Type == "disconnect" {
		update.Disconnect = &calls.DisconnectDetails{Cause: f.Cause, Message: f.Message}
	}
	return update, nil
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
		return calls.StateIdle, fmt.Errorf("unknown ott call state %q", s)
	}
}

func (b *Bridge) send(req Request) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("%w: no ott application registered", calls.ErrOttFunctionNotSupported)
	}
	if err := b.conn.WriteJSON(req); err != nil {
		b.conn.Close()
		b.conn = nil
		return fmt.Errorf("forward %s to ott application: %w", req.Type, err)
	}
	if b.notify != nil {
		b.notify(req)
	}
	return nil
}

func request(t RequestType, info calls.BackendInfo) Request {
	return Request{
		ID:         uuid.NewString(),
		Type:       t,
		CallID:     int32(info.CallID),
		Number:     info.Number,
		SlotID:     info.SlotID,
		VideoState: int32(info.VideoState),
	}
}

// --- calls.Backend ---

func (b *Bridge) Dial(info calls.BackendInfo, scene calls.DialScene) error {
	if scene == calls.DialSceneEmergency {
		return fmt.Errorf("%w: emergency dial over ott", calls.ErrOttFunctionNotSupported)
	}
	return b.send(request(RequestDial, info))
}

func (b *Bridge) Answer(info calls.BackendInfo) error {
	return b.send(request(RequestAnswer, info))
}

func (b *Bridge) Reject(info calls.BackendInfo, sendMessage bool, message string) error {
	req := request(RequestReject, info)
	req.SendMessage = sendMessage
	req.Message = message
	return b.send(req)
}

func (b *Bridge) HangUp(info calls.BackendInfo, _ calls.HangUpMode) error {
	return b.send(request(RequestHangUp, info))
}

func (b *Bridge) Hold(info calls.BackendInfo) error {
	return b.send(request(RequestHold, info))
}

func (b *Bridge) UnHold(info calls.BackendInfo) error {
	return b.send(request(RequestUnHold, info))
}

func (b *Bridge) Switch(calls.BackendInfo) error {
	return fmt.Errorf("%w: switch", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) CombineConference(calls.BackendInfo) error {
	return fmt.Errorf("%w: conference", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) SeparateConference(calls.BackendInfo) error {
	return fmt.Errorf("%w: conference", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) StartDtmf(byte, calls.BackendInfo) error {
	return fmt.Errorf("%w: dtmf", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) StopDtmf(calls.BackendInfo) error {
	return fmt.Errorf("%w: dtmf", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) SetMute(int32, bool) error {
	return fmt.Errorf("%w: mute", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) StartRtt(calls.BackendInfo, string) error {
	return fmt.Errorf("%w: rtt", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) StopRtt(calls.BackendInfo) error {
	return fmt.Errorf("%w: rtt", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) UpdateMediaMode(calls.BackendInfo, calls.ImsCallMode) error {
	return fmt.Errorf("%w: media mode", calls.ErrOttFunctionNotSupported)
}

func (b *Bridge) JoinConference(calls.BackendInfo, []string) error {
	return fmt.Errorf("%w: conference", calls.ErrOttFunctionNotSupported)
}
