// janus.go: Core types for the Janus controller registry
//
// Janus maps a request handle (numeric id, type name, archive name or one of
// two reserved sentinels) to the controller that serves it, keeps that mapping
// compiled into a durable versioned document, and runs a guard chain in front
// of every action.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"strings"
)

// SchemaVersion is the registry document schema written by this build.
// Documents carrying any other version are discarded and rebuilt.
const SchemaVersion = "janus/3"

// Reserved handles for the fallback controllers.
const (
	HandleDefault  = "_default"
	HandleNotFound = "_404"
)

// Error codes for Janus operations
const (
	ErrCodeInvalidConfig   = "JANUS_INVALID_CONFIG"
	ErrCodeRegistration    = "JANUS_REGISTRATION"
	ErrCodeValidation      = "JANUS_VALIDATION"
	ErrCodeCacheCorruption = "JANUS_CACHE_CORRUPTION"
	ErrCodeStoreIO         = "JANUS_STORE_IO"
	ErrCodeSerialization   = "JANUS_SERIALIZATION"
	ErrCodeDocumentIO      = "JANUS_DOCUMENT_IO"
	ErrCodeUnknownAction   = "JANUS_UNKNOWN_ACTION"
	ErrCodeUnknownStore    = "JANUS_UNKNOWN_STORE"
	ErrCodeInvalidToken    = "JANUS_INVALID_TOKEN"
	ErrCodeWatcherBusy     = "JANUS_WATCHER_BUSY"
	ErrCodeWatcherStopped  = "JANUS_WATCHER_STOPPED"
)

// ControllerType is the namespace a handle is registered in.
type ControllerType int

const (
	TypeView ControllerType = iota
	TypeAdmin
	TypeWidget
	TypeDefault
	TypeNotFound
)

func (t ControllerType) String() string {
	switch t {
	case TypeView:
		return "view"
	case TypeAdmin:
		return "admin"
	case TypeWidget:
		return "widget"
	case TypeDefault:
		return "default"
	case TypeNotFound:
		return "notfound"
	default:
		return "unknown"
	}
}

// ParseControllerType converts the textual form produced by String back
// into a ControllerType. Matching is case-insensitive.
func ParseControllerType(s string) (ControllerType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "view":
		return TypeView, true
	case "admin":
		return TypeAdmin, true
	case "widget":
		return TypeWidget, true
	case "default":
		return TypeDefault, true
	case "notfound", "not_found", "404":
		return TypeNotFound, true
	default:
		return TypeView, false
	}
}

// MarshalText implements encoding.TextMarshaler so documents carry the
// readable type name.
func (t ControllerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ControllerType) UnmarshalText(b []byte) error {
	parsed, ok := ParseControllerType(string(b))
	if !ok {
		return newCorruption("unknown controller type").WithContext("type", string(b))
	}
	*t = parsed
	return nil
}

// Action is the value object naming the method a request targets and
// carrying its named arguments.
type Action struct {
	Name string
	Args map[string]string
}

// Arg returns a named argument or "" if absent.
func (a Action) Arg(name string) string {
	return a.Args[name]
}

// Principal is the identity a request acts on behalf of.
type Principal interface {
	ID() string
	Can(capability string) bool
}

// StaticPrincipal is a Principal with a fixed capability set.
type StaticPrincipal struct {
	Name         string
	Capabilities []string
}

// ID implements Principal.
func (p StaticPrincipal) ID() string { return p.Name }

// Can implements Principal.
func (p StaticPrincipal) Can(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Request is the narrow view of an inbound request the registry needs.
type Request struct {
	Action    Action
	Params    map[string]string
	Principal Principal
	Session   string
}

// Param returns a request parameter or "" if absent.
func (r *Request) Param(name string) string {
	if r == nil {
		return ""
	}
	return r.Params[name]
}

// Reply is the outcome of a handler call. It is what the response cache
// stores, so it only holds plain data.
type Reply struct {
	Status  int               `msgpack:"status" json:"status"`
	Headers map[string]string `msgpack:"headers,omitempty" json:"headers,omitempty"`
	Body    []byte            `msgpack:"body" json:"body"`
}

// Clone returns a deep copy of r. A nil reply stays nil.
func (r *Reply) Clone() *Reply {
	if r == nil {
		return nil
	}
	out := &Reply{Status: r.Status}
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Handler is the capability every controller implements.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Reply, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*Reply, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Reply, error) {
	return f(ctx, req)
}

// Configurer is implemented by admin controllers that describe their menu
// placement. The returned map is consumed by the host's menu registration.
type Configurer interface {
	Configure() map[string]any
}

// HandlerFactory constructs a controller instance.
type HandlerFactory func() Handler
