package listener

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
	"github.com/mobiletel/callcore/internal/ott"
)

// AsyncResult reports the outcome of a request the lower layer answers out
// of band, such as an IMS media mode change.
type AsyncResult struct {
	Name   string
	OK     bool
	CallID calls.CallID
}

// Listener observes call activity. Implementations must not block; delivery
// is best effort and a panicking listener only costs a log line.
type Listener interface {
	OnCallDetailsChange(info calls.AttributeInfo)
	OnCallEventChange(event calls.EventInfo)
	OnCallDisconnectedCause(details calls.DisconnectDetails)
	OnReportAsyncResults(result AsyncResult)
	OnOttCallRequest(req ott.Request)
}

// Registry fans call activity out to all subscribed listeners.
type Registry struct {
	log *logrus.Entry

	mu        sync.RWMutex
	listeners map[string]Listener
}

// NewRegistry creates an empty listener registry.
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{log: log, listeners: make(map[string]Listener)}
}

// Subscribe adds a listener and returns its subscription key.
func (r *Registry) Subscribe(l Listener) string {
	key := uuid.NewString()
	r.mu.Lock()
	r.listeners[key] = l
	r.mu.Unlock()
	return key
}

// Unsubscribe removes the listener with the given key.
func (r *Registry) Unsubscribe(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[key]; !ok {
		return false
	}
	delete(r.listeners, key)
	return true
}

// Count returns the number of subscribed listeners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

func (r *Registry) snapshot() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		list = append(list, l)
	}
	return list
}

func (r *Registry) deliver(name string, fn func(Listener)) {
	for _, l := range r.snapshot() {
		func() {
			defer func() {
				if err := recover(); err != nil {
					r.log.Warnf("listener panicked in %s: %v", name, err)
				}
			}()
			fn(l)
		}()
	}
}

// NotifyCallDetailsChange fans out a call attribute snapshot.
func (r *Registry) NotifyCallDetailsChange(info calls.AttributeInfo) {
	r.deliver("OnCallDetailsChange", func(l Listener) { l.OnCallDetailsChange(info) })
}

// NotifyCallEventChange fans out an application-level call event.
func (r *Registry) NotifyCallEventChange(event calls.EventInfo) {
	r.deliver("OnCallEventChange", func(l Listener) { l.OnCallEventChange(event) })
}

// NotifyCallDisconnectedCause fans out a teardown cause.
func (r *Registry) NotifyCallDisconnectedCause(details calls.DisconnectDetails) {
	r.deliver("OnCallDisconnectedCause", func(l Listener) { l.OnCallDisconnectedCause(details) })
}

// NotifyReportAsyncResults fans out an out-of-band request outcome.
func (r *Registry) NotifyReportAsyncResults(result AsyncResult) {
	r.deliver("OnReportAsyncResults", func(l Listener) { l.OnReportAsyncResults(result) })
}

// NotifyOttCallRequest fans out an operation forwarded to the OTT application.
func (r *Registry) NotifyOttCallRequest(req ott.Request) {
	r.deliver("OnOttCallRequest", func(l Listener) { l.OnOttCallRequest(req) })
}
