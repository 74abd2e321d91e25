// Package janus provides a controller registry and guard dispatch pipeline
// for Go services: it maps a request handle to the controller that serves
// it, keeps that mapping compiled into a durable versioned document, and runs
// a declarative guard chain in front of every controller action.
//
// # Architecture Overview
//
// Janus consists of five cooperating parts:
//  1. **Scanner**: walks a tree of HCL handler manifests and turns each concrete
//     controller into a ControllerDescriptor
//  2. **Compiler and Loader**: serialize descriptors into one JSON or YAML
//     document written by atomic rename, and decide at boot whether that
//     document can be trusted or must be rebuilt
//  3. **Resolver**: answers (type, handle) lookups in O(1) with rewrite and
//     autoload hooks, plus the default and not-found fallbacks
//  4. **Pipeline**: evaluates every guard attached to an action, aggregates all
//     failures into a single ValidationError, and lets guards short-circuit
//     the call with a stored reply
//  5. **Cache**: an in-memory tier plus a durable tier (file, SQLite, Redis)
//     with dirty-tracked flushes, used by the response cache and token guards
//     and by Memoize
//
// # Registration
//
// Controllers register explicitly at startup; a manifest without a catalog
// entry is not a concrete controller.
//
//	catalog := janus.NewCatalog()
//	catalog.Register("controllers.catalog.product", func() janus.Handler { return &ProductController{} })
//
//	sys, err := janus.Boot(ctx, &janus.Config{HandlerDir: "handlers"}, catalog)
//	if err != nil {
//		log.Fatal(err) // registration errors are fatal
//	}
//	defer sys.Close(ctx)
//
// # Manifests
//
// A manifest under the handler directory declares the handle, mixins and
// actions of one controller. Its identity is the namespace followed by the
// relative path segments, so handlers/catalog/product.hcl becomes
// controllers.catalog.product.
//
//	controller {
//	  handle = "product"
//	  action "view" {
//	    guard "capability" { require = ["catalog.read"] }
//	    guard "cache" {
//	      ttl     = 600
//	      vary_by = ["page"]
//	    }
//	  }
//	}
//
// # Modes
//
// In production a document with the current schema version is trusted
// without touching the handler tree. In development the loader compares
// critical files, then every manifest, against the document mtime and
// rebuilds on the first change.
//
// Long-running processes can poll for changes and apply rebuilds in place:
//
//	w := sys.Watcher(janus.WithPollInterval(time.Second))
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
//
// # Errors
//
// All errors carry a JANUS_* code (see ErrCodeRegistration and friends) and
// can be inspected with HasCode. Guard rejections are *ValidationError and map
// to a 403 reply through RejectionReply. Cache and document corruption is
// logged and healed, never returned.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package janus
