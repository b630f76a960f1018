package cellular

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
)

const (
	defaultCmdTimeout = 5 * time.Second
	dialTimeout       = 3 * time.Second
)

// Client is the IPC client for the external cellular call service. Every
// outbound operation first ensures the control channel is up, reconnecting
// lazily when the handle was lost, so callers never observe a stale handle.
// Inbound status reports are delivered on Reports().
type Client struct {
	addr       string
	cmdTimeout time.Duration
	log        *logrus.Entry

	connMu sync.Mutex
	conn   net.Conn
	writer *frameWriter

	tokenCounter atomic.Uint64
	pendingMu    sync.Mutex
	pending      map[string]chan response

	// reportsMu orders report delivery against Close so the channel is
	// never closed under an in-flight send.
	reportsMu sync.Mutex
	reports   chan Report
	closed    atomic.Bool
}

// NewClient builds a client for the service at addr. No connection is made
// until the first call or an explicit EnsureConnected.
func NewClient(addr string, cmdTimeout time.Duration, log *logrus.Entry) *Client {
	if cmdTimeout <= 0 {
		cmdTimeout = defaultCmdTimeout
	}
	return &Client{
		addr:       addr,
		cmdTimeout: cmdTimeout,
		log:        log,
		pending:    make(map[string]chan response),
		reports:    make(chan Report, 100),
	}
}

// Reports returns the stream of inbound status reports.
func (c *Client) Reports() <-chan Report {
	return c.reports
}

// Connected reports whether a control channel is currently held.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// EnsureConnected establishes the control channel if it is down and
// registers this client as the service's status callback.
func (c *Client) EnsureConnected() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.ensureConnectedLocked()
}

func (c *Client) ensureConnectedLocked() error {
	if c.conn != nil {
		return nil
	}
	if c.closed.Load() {
		return fmt.Errorf("%w: client closed", calls.ErrIPCConnectFailed)
	}
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", calls.ErrIPCConnectFailed, err)
	}
	writer := newFrameWriter(conn)

	// Register as the status callback before anything else travels the
	// channel; reports start flowing immediately after.
	register := command{Command: "registerCallback", Token: c.nextToken()}
	payload, err := json.Marshal(register)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", calls.ErrIPCConnectFailed, err)
	}
	if err := writer.WriteFrame(payload); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", calls.ErrIPCConnectFailed, err)
	}

	c.conn = conn
	c.writer = writer
	go c.readLoop(conn)
	c.log.Infof("connected to cellular call service at %s", c.addr)
	return nil
}

// NotifyServiceRestart drops the current handle and attempts one fresh
// connect. Retry cadence beyond that belongs to whoever delivers restart
// notifications, not to this client.
func (c *Client) NotifyServiceRestart() {
	c.log.Warn("cellular call service restarted, reconnecting")
	c.dropConn(nil)
	if err := c.EnsureConnected(); err != nil {
		c.log.WithError(err).Error("reconnect after service restart failed")
	}
}

// Close tears the channel down for good.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.dropConn(nil)
	c.reportsMu.Lock()
	close(c.reports)
	c.reportsMu.Unlock()
	return nil
}

// dropConn clears the handle. When current is non-nil the handle is only
// cleared if it still is that connection, so a stale reader cannot kill a
// fresh channel.
func (c *Client) dropConn(current net.Conn) {
	c.connMu.Lock()
	if c.conn != nil && (current == nil || c.conn == current) {
		c.conn.Close()
		c.conn = nil
		c.writer = nil
	}
	c.connMu.Unlock()
	c.failPending()
}

// failPending wakes every waiter; a closed channel reads as a lost channel.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for token, ch := range c.pending {
		close(ch)
		delete(c.pending, token)
	}
	c.pendingMu.Unlock()
}

func (c *Client) readLoop(conn net.Conn) {
	reader := newFrameReader(conn)
	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			if !c.closed.Load() {
				c.log.WithError(err).Warn("control channel read failed")
			}
			c.dropConn(conn)
			return
		}
		c.dispatchFrame(payload)
	}
}

func (c *Client) dispatchFrame(payload []byte) {
	var probe struct {
		Response bool `json:"response"`
		Report   bool `json:"report"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		c.log.WithError(err).Warn("dropping malformed frame")
		return
	}
	switch {
	case probe.Response:
		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			c.log.WithError(err).Warn("dropping malformed response")
			return
		}
		c.pendingMu.Lock()
		if ch, ok := c.pending[resp.Token]; ok {
			ch <- resp
			delete(c.pending, resp.Token)
		}
		c.pendingMu.Unlock()
	case probe.Report:
		var frame reportFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.WithError(err).Warn("dropping malformed report")
			return
		}
		c.handleReport(frame)
	default:
		c.log.Warnf("dropping unclassified frame: %s", payload)
	}
}

func (c *Client) handleReport(frame reportFrame) {
	if frame.Type == ReportServiceRestart {
		go c.NotifyServiceRestart()
		return
	}
	report, err := c.decodeReport(frame)
	if err != nil {
		c.log.WithError(err).Warn("dropping undecodable report")
		return
	}
	c.deliverReport(report)
}

func (c *Client) deliverReport(report Report) {
	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.reports <- report:
	default:
		c.log.Warnf("report channel full, dropping %s report", report.Kind)
	}
}

func (c *Client) decodeReport(frame reportFrame) (Report, error) {
	report := Report{
		Kind:    frame.Type,
		SlotID:  frame.SlotID,
		EventID: frame.EventID,
		Mode:    frame.Mode,
		OK:      frame.OK,
	}
	switch frame.Type {
	case ReportCallState:
		if frame.Call == nil {
			return Report{}, fmt.Errorf("call state report without call")
		}
		leg, err := legToReport(frame.SlotID, *frame.Call)
		if err != nil {
			return Report{}, err
		}
		report.Call = leg
	case ReportCallBatch:
		batch := calls.BatchReport{SlotID: frame.SlotID}
		for _, wire := range frame.Calls {
			leg, err := legToReport(frame.SlotID, wire)
			if err != nil {
				return Report{}, err
			}
			batch.Calls = append(batch.Calls, leg)
		}
		report.Batch = batch
	case ReportDisconnect:
		report.Disconnect = calls.DisconnectDetails{Cause: frame.Cause, Message: frame.Message}
	case ReportEventResult, ReportMediaModeReply:
	default:
		return Report{}, fmt.Errorf("unknown report type %q", frame.Type)
	}
	return report, nil
}

func (c *Client) nextToken() string {
	return fmt.Sprintf("tok%d", c.tokenCounter.Add(1))
}

// invoke is the ensure-and-call combinator every outbound operation runs
// through: reconnect if needed, send, wait for the correlated response.
func (c *Client) invoke(name string, call *wireCall, params wireParams) error {
	c.connMu.Lock()
	if err := c.ensureConnectedLocked(); err != nil {
		c.connMu.Unlock()
		return err
	}
	writer := c.writer
	conn := c.conn

	token := c.nextToken()
	cmd := command{Command: name, Token: token, Call: call, Params: params}
	payload, err := json.Marshal(cmd)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	respCh := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[token] = respCh
	c.pendingMu.Unlock()

	err = writer.WriteFrame(payload)
	c.connMu.Unlock()
	if err != nil {
		c.forgetToken(token)
		c.dropConn(conn)
		return fmt.Errorf("%w: write %s: %v", calls.ErrIPCConnectFailed, name, err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return fmt.Errorf("%w: channel dropped during %s", calls.ErrIPCConnectFailed, name)
		}
		if !resp.OK {
			return fmt.Errorf("%s rejected by cellular call service: %s", name, resp.Data)
		}
		return nil
	case <-time.After(c.cmdTimeout):
		c.forgetToken(token)
		return fmt.Errorf("%s timed out after %s", name, c.cmdTimeout)
	}
}

func (c *Client) forgetToken(token string) {
	c.pendingMu.Lock()
	delete(c.pending, token)
	c.pendingMu.Unlock()
}

// --- calls.Backend ---

func (c *Client) Dial(info calls.BackendInfo, scene calls.DialScene) error {
	return c.invoke("dial", infoToWire(info), wireParams{"scene": int32(scene)})
}

func (c *Client) Answer(info calls.BackendInfo) error {
	return c.invoke("answer", infoToWire(info), nil)
}

func (c *Client) Reject(info calls.BackendInfo, sendMessage bool, message string) error {
	return c.invoke("reject", infoToWire(info), wireParams{
		"sendMessage": sendMessage,
		"message":     message,
	})
}

func (c *Client) HangUp(info calls.BackendInfo, mode calls.HangUpMode) error {
	return c.invoke("hangup", infoToWire(info), wireParams{"mode": int32(mode)})
}

func (c *Client) Hold(info calls.BackendInfo) error {
	return c.invoke("hold", infoToWire(info), nil)
}

func (c *Client) UnHold(info calls.BackendInfo) error {
	return c.invoke("unhold", infoToWire(info), nil)
}

func (c *Client) Switch(info calls.BackendInfo) error {
	return c.invoke("switch", infoToWire(info), nil)
}

func (c *Client) CombineConference(info calls.BackendInfo) error {
	return c.invoke("combineConference", infoToWire(info), nil)
}

func (c *Client) SeparateConference(info calls.BackendInfo) error {
	return c.invoke("separateConference", infoToWire(info), nil)
}

func (c *Client) StartDtmf(digit byte, info calls.BackendInfo) error {
	return c.invoke("startDtmf", infoToWire(info), wireParams{"digit": string(digit)})
}

func (c *Client) StopDtmf(info calls.BackendInfo) error {
	return c.invoke("stopDtmf", infoToWire(info), nil)
}

func (c *Client) SetMute(slotID int32, mute bool) error {
	return c.invoke("setMute", nil, wireParams{"slotId": slotID, "mute": mute})
}

func (c *Client) StartRtt(info calls.BackendInfo, msg string) error {
	return c.invoke("startRtt", infoToWire(info), wireParams{"msg": msg})
}

func (c *Client) StopRtt(info calls.BackendInfo) error {
	return c.invoke("stopRtt", infoToWire(info), nil)
}

func (c *Client) UpdateMediaMode(info calls.BackendInfo, mode calls.ImsCallMode) error {
	return c.invoke("updateMediaMode", infoToWire(info), wireParams{"mode": int32(mode)})
}

func (c *Client) JoinConference(info calls.BackendInfo, numbers []string) error {
	return c.invoke("joinConference", infoToWire(info), wireParams{"numbers": numbers})
}
