package cellular

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("name", "test")
}

// fakeService accepts one connection and answers every command; commands
// named in failOps are rejected.
type fakeService struct {
	listener net.Listener
	failOps  map[string]bool
	reports  chan []byte
}

func startFakeService(t *testing.T, failOps map[string]bool) *fakeService {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := &fakeService{listener: listener, failOps: failOps, reports: make(chan []byte, 10)}
	go svc.serve()
	t.Cleanup(func() { listener.Close() })
	return svc
}

func (s *fakeService) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	reader := newFrameReader(conn)
	writer := newFrameWriter(conn)

	go func() {
		for payload := range s.reports {
			_ = writer.WriteFrame(payload)
		}
	}()

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			continue
		}
		if cmd.Command == "registerCallback" {
			continue
		}
		resp := response{Response: true, OK: !s.failOps[cmd.Command], Token: cmd.Token}
		if !resp.OK {
			resp.Data = "operation not allowed"
		}
		out, _ := json.Marshal(resp)
		_ = writer.WriteFrame(out)
	}
}

func (s *fakeService) addr() string {
	return s.listener.Addr().String()
}

func TestClientInvoke(t *testing.T) {
	svc := startFakeService(t, map[string]bool{"hold": true})
	client := NewClient(svc.addr(), time.Second, testLogger())
	defer client.Close()

	info := calls.BackendInfo{CallID: 1, Kind: calls.KindCS, Number: "5551111"}
	if err := client.Dial(info, calls.DialSceneNormal); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if !client.Connected() {
		t.Error("client not connected after a successful command")
	}

	// The service rejects holds; the error must carry its data.
	if err := client.Hold(info); err == nil {
		t.Error("Hold succeeded, want service rejection")
	}
}

func TestClientConnectFailure(t *testing.T) {
	// Port 1 is never listening.
	client := NewClient("127.0.0.1:1", 500*time.Millisecond, testLogger())
	defer client.Close()

	err := client.Answer(calls.BackendInfo{CallID: 1, Kind: calls.KindCS})
	if !errors.Is(err, calls.ErrIPCConnectFailed) {
		t.Errorf("Answer = %v, want ErrIPCConnectFailed", err)
	}
}

func TestClientCloseWhileReportsArrive(t *testing.T) {
	svc := startFakeService(t, nil)
	client := NewClient(svc.addr(), time.Second, testLogger())

	if err := client.EnsureConnected(); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	frame, _ := json.Marshal(reportFrame{
		Report: true,
		Type:   ReportCallState,
		Call:   &wireLeg{Kind: "cs", Index: 1, Number: "5551111", State: "ACTIVE"},
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			svc.reports <- frame
		}
	}()

	// Closing mid-stream must never panic the read loop's delivery.
	time.Sleep(10 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for range client.Reports() {
	}
	<-done
}

func TestClientReceivesReports(t *testing.T) {
	svc := startFakeService(t, nil)
	client := NewClient(svc.addr(), time.Second, testLogger())
	defer client.Close()

	if err := client.EnsureConnected(); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	frame, _ := json.Marshal(reportFrame{
		Report: true,
		Type:   ReportCallState,
		SlotID: 0,
		Call:   &wireLeg{Kind: "cs", Index: 1, Number: "5551111", State: "INCOMING"},
	})
	svc.reports <- frame

	select {
	case report := <-client.Reports():
		if report.Kind != ReportCallState {
			t.Errorf("report kind = %s, want %s", report.Kind, ReportCallState)
		}
		if report.Call.State != calls.StateIncoming || report.Call.Number != "5551111" {
			t.Errorf("report call = %+v", report.Call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report delivered")
	}
}
