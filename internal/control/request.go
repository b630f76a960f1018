package control

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
	"github.com/mobiletel/callcore/internal/listener"
)

// RequestOp is the closed set of operations the request dispatcher executes.
type RequestOp int

const (
	OpDial RequestOp = iota
	OpAnswer
	OpReject
	OpHangUp
	OpHold
	OpUnHold
	OpSwitch
	OpCombineConference
	OpSeparateConference
	OpUpdateMediaMode
	OpStartRtt
	OpStopRtt
	OpJoinConference
)

var opNames = []string{
	"dial", "answer", "reject", "hangup", "hold", "unhold", "switch",
	"combineConference", "separateConference", "updateMediaMode",
	"startRtt", "stopRtt", "joinConference",
}

func (op RequestOp) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Request is one queued call operation. Fields beyond Op and CallID are
// consulted only by the operations that need them.
type Request struct {
	Op          RequestOp
	CallID      calls.CallID
	VideoState  calls.VideoState
	SendMessage bool
	Message     string
	Mode        calls.ImsCallMode
	Rtt         string
	Numbers     []string
}

const requestQueueSize = 64

// RequestDispatcher serializes outbound call operations through one worker,
// so lower-layer requests never interleave. Enqueue never blocks; a full
// queue fails fast with ErrResourceExhausted.
type RequestDispatcher struct {
	registry  *calls.Registry
	listeners *listener.Registry
	log       *logrus.Entry

	queue chan Request
	stop  chan struct{}
	done  chan struct{}
}

// NewRequestDispatcher builds a stopped dispatcher; Start launches its worker.
func NewRequestDispatcher(registry *calls.Registry, listeners *listener.Registry, log *logrus.Entry) *RequestDispatcher {
	return &RequestDispatcher{
		registry:  registry,
		listeners: listeners,
		log:       log,
		queue:     make(chan Request, requestQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (d *RequestDispatcher) Start() {
	go d.worker()
}

// Stop signals the worker and waits for it to exit. Queued requests are
// dropped; late Enqueue calls fail instead of blocking or panicking.
func (d *RequestDispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// Enqueue queues a request without blocking.
func (d *RequestDispatcher) Enqueue(req Request) error {
	select {
	case <-d.stop:
		return fmt.Errorf("%w: dispatcher stopped", calls.ErrResourceExhausted)
	default:
	}
	select {
	case d.queue <- req:
		return nil
	default:
		return fmt.Errorf("%w: request queue full", calls.ErrResourceExhausted)
	}
}

func (d *RequestDispatcher) worker() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case req := <-d.queue:
			if err := d.handle(req); err != nil {
				d.log.WithError(err).Warnf("%s on call %d failed", req.Op, req.CallID)
			}
		}
	}
}

func (d *RequestDispatcher) handle(req Request) error {
	call, err := d.registry.Get(req.CallID)
	if err != nil {
		return err
	}
	switch req.Op {
	case OpDial:
		return d.handleDial(call)
	case OpAnswer:
		err = call.Answer(req.VideoState)
		if err == nil {
			d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
		}
	case OpReject:
		err = call.Reject(req.SendMessage, req.Message)
		if err == nil {
			d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
		}
	case OpHangUp:
		return d.handleHangUp(call)
	case OpHold:
		err = call.Hold()
	case OpUnHold:
		err = call.UnHold()
	case OpSwitch:
		err = call.Switch()
	case OpCombineConference:
		err = call.CombineConference()
	case OpSeparateConference:
		err = call.SeparateConference()
	case OpUpdateMediaMode:
		err = call.UpdateMediaMode(req.Mode)
	case OpStartRtt:
		err = call.StartRtt(req.Rtt)
	case OpStopRtt:
		err = call.StopRtt()
	case OpJoinConference:
		err = d.handleJoinConference(call, req.Numbers)
	default:
		return fmt.Errorf("%w: unknown op %d", calls.ErrInvalidArgument, req.Op)
	}
	return d.translateOttFailure(call, err)
}

// handleDial issues the outgoing request. A failed dial never leaves an
// orphan behind: the leg lands in Disconnected, is dropped from the registry,
// and observers get the terminal snapshot plus a no-carrier event.
func (d *RequestDispatcher) handleDial(call *calls.Call) error {
	err := call.Dial()
	if err == nil {
		d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
		return nil
	}
	d.registry.Remove(call.ID())
	d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
	if errors.Is(err, calls.ErrOttFunctionNotSupported) {
		return d.translateOttFailure(call, err)
	}
	d.listeners.NotifyCallEventChange(calls.EventInfo{
		Event:  calls.EventDialNoCarrier,
		Number: call.Number(),
	})
	return err
}

// handleHangUp releases a call. When the target is active while another call
// holds, the lower layer is told to recover the held leg; when the target is
// still connecting, the held leg is resumed locally once the release is out.
func (d *RequestDispatcher) handleHangUp(call *calls.Call) error {
	state := call.State()
	held, heldErr := d.registry.GetByState(calls.StateHolding)

	if state == calls.StateActive && heldErr == nil {
		call.ArmHangUpMode(calls.HangUpActiveRecoverHold)
	}
	if err := call.HangUp(); err != nil {
		return d.translateOttFailure(call, err)
	}
	d.listeners.NotifyCallDetailsChange(call.AttributeInfo())

	if (state == calls.StateDialing || state == calls.StateAlerting) && heldErr == nil {
		if err := held.UnHold(); err != nil {
			d.log.WithError(err).Warnf("failed to resume held call %d", held.ID())
		}
	}
	return nil
}

func (d *RequestDispatcher) handleJoinConference(call *calls.Call, numbers []string) error {
	if call.Kind() != calls.KindIMS {
		return fmt.Errorf("%w: invite on %s call", calls.ErrIllegalCallOperation, call.Kind())
	}
	return call.JoinConferenceInvite(numbers)
}

// translateOttFailure converts an unsupported OTT operation into the event
// observers expect instead of a silent log line.
func (d *RequestDispatcher) translateOttFailure(call *calls.Call, err error) error {
	if err != nil && errors.Is(err, calls.ErrOttFunctionNotSupported) {
		d.listeners.NotifyCallEventChange(calls.EventInfo{
			Event:  calls.EventOttFunctionUnsupported,
			Number: call.Number(),
		})
	}
	return err
}
