package backend

import (
	"fmt"
	"time"
)

// Kind names an Outcome variant on the wire and in metrics.
type Kind string

const (
	KindSuccess          Kind = "success"
	KindBackendFailure   Kind = "backend_failure"
	KindTransportFailure Kind = "transport_failure"
	KindTimeout          Kind = "timeout"
	KindSkipped          Kind = "skipped"
)

// Outcome is the result of one backend call. It is a closed set: Success,
// BackendFailure, TransportFailure, Timeout and Skipped.
type Outcome interface {
	Kind() Kind
	// Payload is the raw document reported to the caller for this backend.
	Payload() map[string]any
	outcome()
}

// Success carries the backend's decoded response body.
type Success struct {
	Body map[string]any
}

// BackendFailure means the backend answered but did not succeed.
type BackendFailure struct {
	StatusCode int
	Message    string
	Log        string
	// Body is the decoded response, when the backend sent JSON.
	Body map[string]any
}

// TransportFailure means the backend could not be reached or the exchange broke.
type TransportFailure struct {
	Err error
}

// Timeout means the call exceeded its own deadline.
type Timeout struct {
	After time.Duration
}

// Skipped means the backend was deliberately not invoked.
type Skipped struct {
	Reason string
}

func (Success) Kind() Kind          { return KindSuccess }
func (BackendFailure) Kind() Kind   { return KindBackendFailure }
func (TransportFailure) Kind() Kind { return KindTransportFailure }
func (Timeout) Kind() Kind          { return KindTimeout }
func (Skipped) Kind() Kind          { return KindSkipped }

func (Success) outcome()          {}
func (BackendFailure) outcome()   {}
func (TransportFailure) outcome() {}
func (Timeout) outcome()          {}
func (Skipped) outcome()          {}

func (o Success) Payload() map[string]any {
	if o.Body == nil {
		return map[string]any{"success": true}
	}
	return o.Body
}

func (o BackendFailure) Payload() map[string]any {
	p := make(map[string]any, len(o.Body)+4)
	for k, v := range o.Body {
		p[k] = v
	}
	p["success"] = false
	p["error_type"] = string(KindBackendFailure)
	p["error_message"] = o.Message
	if o.Log != "" {
		p["log"] = o.Log
	}
	if o.StatusCode != 0 {
		p["status_code"] = o.StatusCode
	}
	return p
}

func (o TransportFailure) Payload() map[string]any {
	msg := "transport failure"
	if o.Err != nil {
		msg = o.Err.Error()
	}
	return map[string]any{
		"success":       false,
		"error_type":    string(KindTransportFailure),
		"error_message": msg,
	}
}

func (o Timeout) Payload() map[string]any {
	return map[string]any{
		"success":       false,
		"error_type":    string(KindTimeout),
		"error_message": fmt.Sprintf("backend did not answer within %s", o.After),
	}
}

func (o Skipped) Payload() map[string]any {
	return map[string]any{
		"skipped": true,
		"reason":  o.Reason,
	}
}
