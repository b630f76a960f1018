package control

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
	"github.com/mobiletel/callcore/internal/cellular"
	"github.com/mobiletel/callcore/internal/listener"
	"github.com/mobiletel/callcore/internal/ott"
)

// ContactQuery resolves the remote party of an incoming call against the
// contact database. Lookup failures only cost the caller display data.
type ContactQuery interface {
	Lookup(number string) (calls.ContactInfo, error)
}

type itemKind int

const (
	itemCall itemKind = iota
	itemBatch
	itemDisconnect
	itemAsync
	itemEvent
)

type reportItem struct {
	kind       itemKind
	call       calls.CallReport
	batch      calls.BatchReport
	disconnect calls.DisconnectDetails
	result     listener.AsyncResult
	event      calls.EventInfo
}

const reportQueueSize = 128

// ReportDispatcher consumes lower-layer status reports through one worker,
// keeping the registry the single ordered view of call state. Batch reports
// are diffed against the previous snapshot per slot so only changed legs are
// processed and vanished legs are torn down.
type ReportDispatcher struct {
	registry    *calls.Registry
	listeners   *listener.Registry
	backends    map[calls.CallKind]calls.Backend
	conferences map[calls.CallKind]*calls.Conference
	contacts    ContactQuery
	log         *logrus.Entry

	queue chan reportItem
	stop  chan struct{}
	done  chan struct{}

	// prev is worker-owned: slot -> leg index -> last reported leg.
	prev map[int32]map[int32]calls.CallReport
}

// NewReportDispatcher builds a stopped dispatcher; Start launches its worker.
// contacts may be nil when no contact database is available.
func NewReportDispatcher(
	registry *calls.Registry,
	listeners *listener.Registry,
	backends map[calls.CallKind]calls.Backend,
	conferences map[calls.CallKind]*calls.Conference,
	contacts ContactQuery,
	log *logrus.Entry,
) *ReportDispatcher {
	return &ReportDispatcher{
		registry:    registry,
		listeners:   listeners,
		backends:    backends,
		conferences: conferences,
		contacts:    contacts,
		log:         log,
		queue:       make(chan reportItem, reportQueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		prev:        make(map[int32]map[int32]calls.CallReport),
	}
}

// Start launches the worker goroutine.
func (d *ReportDispatcher) Start() {
	go d.worker()
}

// Stop signals the worker and waits for it to exit. Late submissions fail
// instead of blocking or panicking.
func (d *ReportDispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *ReportDispatcher) submit(item reportItem) error {
	select {
	case <-d.stop:
		return fmt.Errorf("%w: dispatcher stopped", calls.ErrResourceExhausted)
	default:
	}
	select {
	case d.queue <- item:
		return nil
	default:
		return fmt.Errorf("%w: report queue full", calls.ErrResourceExhausted)
	}
}

// SubmitCallReport queues a single-leg state report.
func (d *ReportDispatcher) SubmitCallReport(report calls.CallReport) error {
	return d.submit(reportItem{kind: itemCall, call: report})
}

// SubmitBatch queues a full slot snapshot.
func (d *ReportDispatcher) SubmitBatch(batch calls.BatchReport) error {
	return d.submit(reportItem{kind: itemBatch, batch: batch})
}

// SubmitDisconnect queues a teardown cause.
func (d *ReportDispatcher) SubmitDisconnect(details calls.DisconnectDetails) error {
	return d.submit(reportItem{kind: itemDisconnect, disconnect: details})
}

// SubmitAsyncResult queues an out-of-band request outcome.
func (d *ReportDispatcher) SubmitAsyncResult(result listener.AsyncResult) error {
	return d.submit(reportItem{kind: itemAsync, result: result})
}

// SubmitEvent queues an application-level call event.
func (d *ReportDispatcher) SubmitEvent(event calls.EventInfo) error {
	return d.submit(reportItem{kind: itemEvent, event: event})
}

// PumpCellular translates the cellular client's report stream into queued
// items until the channel closes.
func (d *ReportDispatcher) PumpCellular(reports <-chan cellular.Report) {
	for r := range reports {
		var err error
		switch r.Kind {
		case cellular.ReportCallState:
			err = d.SubmitCallReport(r.Call)
		case cellular.ReportCallBatch:
			err = d.SubmitBatch(r.Batch)
		case cellular.ReportDisconnect:
			err = d.SubmitDisconnect(r.Disconnect)
		case cellular.ReportEventResult:
			err = d.SubmitEvent(calls.EventInfo{Event: calls.EventID(r.EventID)})
		case cellular.ReportMediaModeReply:
			err = d.SubmitAsyncResult(listener.AsyncResult{Name: "updateMediaMode", OK: r.OK})
		default:
			d.log.Warnf("ignoring cellular report %s", r.Kind)
			continue
		}
		if err != nil {
			d.log.WithError(err).Warnf("dropping cellular %s report", r.Kind)
		}
	}
}

// PumpOtt translates the OTT bridge's update stream into queued items until
// the channel closes.
func (d *ReportDispatcher) PumpOtt(updates <-chan ott.Update) {
	for u := range updates {
		if u.Disconnect != nil {
			if err := d.SubmitDisconnect(*u.Disconnect); err != nil {
				d.log.WithError(err).Warn("dropping ott disconnect")
			}
		}
		if err := d.SubmitCallReport(u.Call); err != nil {
			d.log.WithError(err).Warn("dropping ott call update")
		}
	}
}

func (d *ReportDispatcher) worker() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case item := <-d.queue:
			switch item.kind {
			case itemCall:
				d.handleCallReport(item.call)
			case itemBatch:
				d.handleBatch(item.batch)
			case itemDisconnect:
				d.listeners.NotifyCallDisconnectedCause(item.disconnect)
			case itemAsync:
				d.listeners.NotifyReportAsyncResults(item.result)
			case itemEvent:
				d.listeners.NotifyCallEventChange(item.event)
			}
		}
	}
}

// handleBatch diffs a slot snapshot against the previous one. Changed legs
// are handled individually; legs missing from the new snapshot are treated
// as disconnected.
func (d *ReportDispatcher) handleBatch(batch calls.BatchReport) {
	prev := d.prev[batch.SlotID]
	next := make(map[int32]calls.CallReport, len(batch.Calls))
	for _, leg := range batch.Calls {
		next[leg.Index] = leg
		old, seen := prev[leg.Index]
		if !seen || old.State != leg.State || old.Number != leg.Number || old.Kind != leg.Kind {
			d.handleCallReport(leg)
		}
	}
	for index, old := range prev {
		if _, ok := next[index]; !ok {
			old.State = calls.StateDisconnected
			d.handleCallReport(old)
		}
	}
	d.prev[batch.SlotID] = next
}

func (d *ReportDispatcher) handleCallReport(report calls.CallReport) {
	call := d.resolve(report)
	switch report.State {
	case calls.StateIncoming, calls.StateWaiting:
		d.handleRinging(call, report)
	case calls.StateDialing:
		d.handleDialing(call, report)
	case calls.StateAlerting:
		d.applyState(call, report, calls.StateAlerting)
	case calls.StateActive:
		d.handleActive(call, report)
	case calls.StateHolding:
		d.handleHolding(call, report)
	case calls.StateDisconnecting:
		d.applyState(call, report, calls.StateDisconnecting)
	case calls.StateDisconnected:
		d.handleDisconnected(call, report)
	default:
		d.log.Warnf("ignoring report state %s for %s", report.State, report.Number)
	}
}

// resolve matches a reported leg to a registered call. A number match with a
// different kind means the lower layer migrated the leg, as in an IMS call
// falling back to CS; the registered call is rebound rather than duplicated.
func (d *ReportDispatcher) resolve(report calls.CallReport) *calls.Call {
	if call, err := d.registry.GetByNumberAndKind(report.Number, report.Kind); err == nil {
		return call
	}
	call, err := d.registry.GetByNumber(report.Number)
	if err != nil {
		return nil
	}
	d.log.Infof("call %d migrated from %s to %s", call.ID(), call.Kind(), report.Kind)
	call.Refresh(report.Kind, d.backends[report.Kind], d.conferences[report.Kind], report.VideoState)
	return call
}

func (d *ReportDispatcher) handleRinging(call *calls.Call, report calls.CallReport) {
	if call != nil {
		// Duplicate ringing reports for a known leg carry no new state.
		d.log.Debugf("duplicate %s report for call %d", report.State, call.ID())
		return
	}

	state := calls.StateIncoming
	if d.registry.HasActiveOrHolding() {
		state = calls.StateWaiting
	}
	overloaded := d.registry.HasRingingMax()

	created := calls.NewIncomingCall(report, d.backends[report.Kind], d.conferences[report.Kind])
	id, err := d.registry.Add(created)
	if err != nil {
		d.log.WithError(err).Warnf("failed to register incoming call from %s", report.Number)
		return
	}
	if err := created.SetState(state); err != nil {
		d.log.WithError(err).Warnf("incoming call %d", id)
	}

	if overloaded {
		// Past the ringing cap the new leg is shed immediately.
		d.log.Warnf("ringing cap reached, releasing call %d from %s", id, report.Number)
		if err := created.HangUp(); err != nil {
			d.log.WithError(err).Warnf("failed to shed call %d", id)
		}
		d.listeners.NotifyCallDetailsChange(created.AttributeInfo())
		return
	}

	if d.contacts != nil {
		if info, err := d.contacts.Lookup(report.Number); err == nil {
			created.SetContact(info)
		}
	}
	d.listeners.NotifyCallDetailsChange(created.AttributeInfo())
}

// handleDialing binds the lower layer's leg index to the call created at
// dial time, or registers a leg dialed outside this process.
func (d *ReportDispatcher) handleDialing(call *calls.Call, report calls.CallReport) {
	if call != nil {
		call.SetIndex(report.Index)
		d.applyState(call, report, calls.StateDialing)
		return
	}
	created := calls.NewOutgoingCall(calls.DialParams{
		Kind:       report.Kind,
		Number:     report.Number,
		SlotID:     report.SlotID,
		VideoState: report.VideoState,
	}, d.backends[report.Kind], d.conferences[report.Kind])
	created.SetIndex(report.Index)
	id, err := d.registry.Add(created)
	if err != nil {
		d.log.WithError(err).Warnf("failed to register dialing call to %s", report.Number)
		return
	}
	if err := created.SetState(calls.StateDialing); err != nil {
		d.log.WithError(err).Warnf("dialing call %d", id)
		return
	}
	d.listeners.NotifyCallDetailsChange(created.AttributeInfo())
}

func (d *ReportDispatcher) handleActive(call *calls.Call, report calls.CallReport) {
	if call == nil {
		d.log.Warnf("active report for unknown call %s", report.Number)
		return
	}
	prior := call.State()
	if !d.applyState(call, report, calls.StateActive) {
		return
	}
	if conf := d.conferences[report.Kind]; conf != nil {
		switch conf.State() {
		case calls.ConferenceCreating:
			d.joinConference(call)
		case calls.ConferenceActive, calls.ConferenceHolding:
			// A held leg going active while its group lives is the merged leg.
			if prior == calls.StateHolding && call.ConferenceRole() == calls.ConferenceNone {
				d.joinConference(call)
			}
		}
	}
	d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
}

func (d *ReportDispatcher) joinConference(call *calls.Call) {
	if err := call.LaunchConference(); err != nil {
		d.log.WithError(err).Warnf("call %d failed to join its conference", call.ID())
	}
}

func (d *ReportDispatcher) handleHolding(call *calls.Call, report calls.CallReport) {
	if call == nil {
		d.log.Warnf("holding report for unknown call %s", report.Number)
		return
	}
	if !d.applyState(call, report, calls.StateHolding) {
		return
	}
	if call.ConferenceRole() != calls.ConferenceNone {
		if err := call.HoldConference(); err != nil {
			d.log.WithError(err).Warnf("call %d failed to hold its conference", call.ID())
		}
	}
	d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
}

func (d *ReportDispatcher) handleDisconnected(call *calls.Call, report calls.CallReport) {
	if call == nil {
		d.log.Debugf("disconnect report for unknown call %s", report.Number)
		return
	}
	if call.ConferenceRole() != calls.ConferenceNone {
		if err := call.ExitConference(); err != nil {
			d.log.WithError(err).Warnf("call %d failed to leave its conference", call.ID())
		}
	}
	if err := call.SetState(calls.StateDisconnected); err != nil {
		d.log.WithError(err).Warnf("call %d", call.ID())
	}
	d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
	d.registry.Remove(call.ID())
}

// applyState moves a resolved call to the reported state, telling observers
// only when something changed.
func (d *ReportDispatcher) applyState(call *calls.Call, report calls.CallReport, state calls.TelCallState) bool {
	if call == nil {
		d.log.Warnf("%s report for unknown call %s", state, report.Number)
		return false
	}
	if call.State() == state {
		return false
	}
	if err := call.SetState(state); err != nil {
		d.log.WithError(err).Warnf("call %d", call.ID())
		return false
	}
	if state != calls.StateActive && state != calls.StateHolding {
		d.listeners.NotifyCallDetailsChange(call.AttributeInfo())
	}
	return true
}
