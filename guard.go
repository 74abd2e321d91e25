// guard.go: Guard pipeline evaluated in front of controller actions
//
// Every attached guard is evaluated in order. Failures are collected into
// one ValidationError; a guard may also replace the call's outcome by
// short-circuiting with a stored reply.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"log/slog"
	"sync"
)

// OutcomeKind classifies a guard result.
type OutcomeKind int

const (
	OutcomeProceed OutcomeKind = iota
	OutcomeFail
	OutcomeShortCircuit
)

// Outcome is the result of a single guard check.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Reply  *Reply
}

// Proceed lets the invocation continue.
func Proceed() Outcome { return Outcome{Kind: OutcomeProceed} }

// Fail rejects the invocation with reason.
func Fail(reason string) Outcome { return Outcome{Kind: OutcomeFail, Reason: reason} }

// ShortCircuit replaces the invocation result with reply.
func ShortCircuit(reply *Reply) Outcome { return Outcome{Kind: OutcomeShortCircuit, Reply: reply} }

// GuardContext is what a guard sees about the invocation it protects.
type GuardContext struct {
	Descriptor GuardDescriptor
	Identity   string
	Method     string
	Instance   Handler
	Request    *Request
}

// Guard evaluates one rule type.
type Guard interface {
	Check(ctx context.Context, gc *GuardContext) Outcome
}

// Completer is implemented by guards that need to observe a successful reply.
type Completer interface {
	Complete(ctx context.Context, gc *GuardContext, reply *Reply)
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(ctx context.Context, gc *GuardContext) Outcome

// Check implements Guard.
func (f GuardFunc) Check(ctx context.Context, gc *GuardContext) Outcome { return f(ctx, gc) }

// Invocation identifies the call a pipeline protects.
type Invocation struct {
	Identity string
	Method   string
	Instance Handler
	Request  *Request
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithUnknownGuardPolicy selects how rules without a guard are treated.
func WithUnknownGuardPolicy(p UnknownGuardPolicy) PipelineOption {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(pl *Pipeline) { pl.logger = l }
}

// WithPipelineAudit records rejections to an audit logger.
func WithPipelineAudit(a *AuditLogger) PipelineOption {
	return func(pl *Pipeline) { pl.audit = a }
}

// Pipeline holds the guard handlers by rule type and the descriptors
// attached to each (identity, method). Guards declared by compiled
// descriptors are kept apart from the ones added with Attach, so a rebuild
// can replace the former without touching the latter.
type Pipeline struct {
	mu       sync.RWMutex
	guards   map[string]Guard
	declared map[string][]GuardDescriptor
	attached map[string][]GuardDescriptor
	policy   UnknownGuardPolicy
	logger   *slog.Logger
	audit    *AuditLogger
}

// NewPipeline returns an empty pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		guards:   make(map[string]Guard),
		declared: make(map[string][]GuardDescriptor),
		attached: make(map[string][]GuardDescriptor),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func attachKey(identity, method string) string { return identity + "::" + method }

// Handle registers the guard evaluating rule.
func (p *Pipeline) Handle(rule string, g Guard) *Pipeline {
	p.mu.Lock()
	p.guards[rule] = g
	p.mu.Unlock()
	return p
}

// Attach appends guards to (identity, method), after any already attached.
// They survive AttachDescriptors and run after the declared guards.
func (p *Pipeline) Attach(identity, method string, guards ...GuardDescriptor) *Pipeline {
	p.mu.Lock()
	key := attachKey(identity, method)
	p.attached[key] = append(p.attached[key], guards...)
	p.mu.Unlock()
	return p
}

// AttachDescriptors replaces every declared guard with the ones descs
// declare. Actions and controllers missing from descs lose their declared
// guards.
func (p *Pipeline) AttachDescriptors(descs []ControllerDescriptor) {
	declared := make(map[string][]GuardDescriptor)
	for _, d := range descs {
		for method, guards := range d.Guards {
			if len(guards) > 0 {
				declared[attachKey(d.Identity, method)] = append([]GuardDescriptor(nil), guards...)
			}
		}
	}
	p.mu.Lock()
	p.declared = declared
	p.mu.Unlock()
}

// Guards returns the descriptors attached to (identity, method): the
// declared ones first, then the ones added with Attach.
func (p *Pipeline) Guards(identity, method string) []GuardDescriptor {
	key := attachKey(identity, method)
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]GuardDescriptor, 0, len(p.declared[key])+len(p.attached[key]))
	out = append(out, p.declared[key]...)
	return append(out, p.attached[key]...)
}

func (p *Pipeline) guard(rule string) (Guard, bool) {
	p.mu.RLock()
	g, ok := p.guards[rule]
	p.mu.RUnlock()
	return g, ok
}

type pendingCompletion struct {
	completer Completer
	gc        *GuardContext
}

// Invoke evaluates every guard attached to inv, then either rejects with a
// *ValidationError, returns the first short-circuit reply, or runs call.
// Completers run only after call succeeds.
func (p *Pipeline) Invoke(ctx context.Context, inv Invocation, call func(context.Context) (*Reply, error)) (*Reply, error) {
	var (
		failures  []GuardFailure
		short     *Reply
		completes []pendingCompletion
	)

	for _, desc := range p.Guards(inv.Identity, inv.Method) {
		gc := &GuardContext{
			Descriptor: desc,
			Identity:   inv.Identity,
			Method:     inv.Method,
			Instance:   inv.Instance,
			Request:    inv.Request,
		}

		g, ok := p.guard(desc.Rule)
		if !ok {
			switch p.policy {
			case UnknownGuardReject:
				failures = append(failures, GuardFailure{Rule: desc.Rule, Reason: "unknown guard rule " + desc.Rule})
			case UnknownGuardWarn:
				p.logger.Warn("no guard registered for rule, passing",
					"rule", desc.Rule, "identity", inv.Identity, "method", inv.Method)
			}
			continue
		}

		out := g.Check(ctx, gc)
		switch out.Kind {
		case OutcomeFail:
			failures = append(failures, GuardFailure{Rule: desc.Rule, Reason: out.Reason})
		case OutcomeShortCircuit:
			if short == nil && out.Reply != nil {
				short = out.Reply
			}
		default:
			if c, ok := g.(Completer); ok {
				completes = append(completes, pendingCompletion{completer: c, gc: gc})
			}
		}
	}

	if len(failures) > 0 {
		err := &ValidationError{Identity: inv.Identity, Method: inv.Method, Failures: failures}
		p.audit.LogGuardRejection(inv.Identity, inv.Method, err.Reasons())
		return nil, err
	}
	if short != nil {
		return short, nil
	}

	reply, err := call(ctx)
	if err != nil {
		return nil, err
	}
	for _, pc := range completes {
		pc.completer.Complete(ctx, pc.gc, reply)
	}
	return reply, nil
}
