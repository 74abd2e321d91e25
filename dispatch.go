// dispatch.go: Request dispatch and subsystem wiring
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/agilira/go-errors"
)

// Dispatcher resolves a request to a controller, runs its guards and calls
// it. The cache is flushed once at the end of every dispatch.
type Dispatcher struct {
	resolver    *Resolver
	instances   *Instances
	pipeline    *Pipeline
	cache       *Cache
	descriptors atomic.Pointer[map[string]ControllerDescriptor]
	logger      *slog.Logger
}

// NewDispatcher wires a dispatcher. cache may be nil.
func NewDispatcher(resolver *Resolver, instances *Instances, pipeline *Pipeline, cache *Cache, descs []ControllerDescriptor) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		instances: instances,
		pipeline:  pipeline,
		cache:     cache,
		logger:    resolver.logger,
	}
	d.SetDescriptors(descs)
	return d
}

// SetDescriptors replaces the declared actions the dispatcher checks against.
func (d *Dispatcher) SetDescriptors(descs []ControllerDescriptor) {
	m := make(map[string]ControllerDescriptor, len(descs))
	for _, desc := range descs {
		m[desc.Identity] = desc
	}
	d.descriptors.Store(&m)
}

// Dispatch serves req for (t, handle). Unknown handles go to the not-found
// controller's Handle, whatever action the request names, and skip the
// action check and guards. An empty action name calls the controller's
// Handle without guards. Guard rejections are returned as *ValidationError.
func (d *Dispatcher) Dispatch(ctx context.Context, t ControllerType, handle string, req *Request) (*Reply, error) {
	if d.cache != nil {
		defer func() {
			if err := d.cache.Flush(ctx); err != nil {
				d.logger.Warn("cache flush failed", "error", err)
			}
		}()
	}

	if req == nil {
		req = &Request{}
	}

	identity, ok := d.resolver.Resolve(t, handle)
	if !ok {
		notFound, err := d.resolver.NotFoundController()
		if err != nil {
			return nil, err
		}
		handler, err := d.instances.Get(notFound)
		if err != nil {
			return nil, err
		}
		// The requested action belongs to the missing controller.
		return handler.Handle(ctx, req)
	}

	handler, err := d.instances.Get(identity)
	if err != nil {
		return nil, err
	}

	method := req.Action.Name
	if method == "" {
		return handler.Handle(ctx, req)
	}
	if desc, known := (*d.descriptors.Load())[identity]; !known || !desc.HasAction(method) {
		return nil, errors.New(ErrCodeUnknownAction, "controller does not declare action").
			WithContext("identity", identity).WithContext("action", method)
	}

	return d.pipeline.Invoke(ctx, Invocation{
		Identity: identity,
		Method:   method,
		Instance: handler,
		Request:  req,
	}, func(ctx context.Context) (*Reply, error) {
		return handler.Handle(ctx, req)
	})
}

// Serve is Dispatch with guard rejections mapped to a 403 reply.
func (d *Dispatcher) Serve(ctx context.Context, t ControllerType, handle string, req *Request) (*Reply, error) {
	reply, err := d.Dispatch(ctx, t, handle, req)
	if err != nil {
		if rejected := RejectionReply(err); rejected != nil {
			return rejected, nil
		}
		return nil, err
	}
	return reply, nil
}
