package ott

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("name", "test")
}

func dialBridge(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Registration happens in the server's handler goroutine.
	deadline := time.Now().Add(time.Second)
	for !b.Registered() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never registered the application")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestBridgeForwardsOperations(t *testing.T) {
	b := NewBridge(testLogger())
	conn := dialBridge(t, b)

	info := calls.BackendInfo{CallID: 3, Number: "5551111", VideoState: calls.VideoStateVoice}
	if err := b.Dial(info, calls.DialSceneNormal); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if req.Type != RequestDial || req.CallID != 3 || req.Number != "5551111" {
		t.Errorf("request = %+v", req)
	}
	if req.ID == "" {
		t.Error("request carries no id")
	}
}

func TestBridgeNotifiesForwardedRequests(t *testing.T) {
	b := NewBridge(testLogger())
	var forwarded []Request
	b.SetNotify(func(req Request) { forwarded = append(forwarded, req) })
	dialBridge(t, b)

	if err := b.Answer(calls.BackendInfo{CallID: 4, Number: "5551111"}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(forwarded) != 1 || forwarded[0].Type != RequestAnswer || forwarded[0].CallID != 4 {
		t.Errorf("forwarded = %+v, want one ANSWER for call 4", forwarded)
	}

	// A refused operation forwards nothing.
	_ = b.Switch(calls.BackendInfo{CallID: 4})
	if len(forwarded) != 1 {
		t.Errorf("forwarded = %d requests after refused switch, want 1", len(forwarded))
	}
}

func TestBridgeWithoutApplication(t *testing.T) {
	b := NewBridge(testLogger())
	err := b.Dial(calls.BackendInfo{Number: "5551111"}, calls.DialSceneNormal)
	if !errors.Is(err, calls.ErrOttFunctionNotSupported) {
		t.Errorf("Dial = %v, want ErrOttFunctionNotSupported", err)
	}
}

func TestBridgeUnsupportedOperations(t *testing.T) {
	b := NewBridge(testLogger())
	dialBridge(t, b)

	info := calls.BackendInfo{CallID: 1}
	checks := map[string]error{
		"switch":    b.Switch(info),
		"combine":   b.CombineConference(info),
		"dtmf":      b.StartDtmf('1', info),
		"mute":      b.SetMute(0, true),
		"rtt":       b.StartRtt(info, "hi"),
		"mediaMode": b.UpdateMediaMode(info, calls.ImsModeSendReceive),
		"emergency": b.Dial(info, calls.DialSceneEmergency),
	}
	for name, err := range checks {
		if !errors.Is(err, calls.ErrOttFunctionNotSupported) {
			t.Errorf("%s = %v, want ErrOttFunctionNotSupported", name, err)
		}
	}
}

func TestBridgeDeliversUpdates(t *testing.T) {
	b := NewBridge(testLogger())
	conn := dialBridge(t, b)

	if err := conn.WriteJSON(updateFrame{
		Type: "state", Index: 2, Number: "5552222", State: "INCOMING",
	}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	select {
	case update := <-b.Updates():
		if update.Call.Kind != calls.KindOTT {
			t.Errorf("kind = %s, want ott", update.Call.Kind)
		}
		if update.Call.State != calls.StateIncoming || update.Call.Number != "5552222" {
			t.Errorf("update = %+v", update.Call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}
