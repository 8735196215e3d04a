// Package coreplane is the runtime core of a modular control-plane daemon
// for a storage appliance. It dispatches named operations to pluggable
// service components, runs long-running operations as managed jobs with
// mutual-exclusion and admission control, and exposes a uniform
// create/read/update/delete contract over configuration and collection
// data that may be stored locally or replicated across a cluster with
// graceful degradation.
//
// Coreplane is designed as a library, not a service. Import it, configure
// a datastore, register services, and call methods through the engine.
//
// # Quick Start
//
//	eng, err := engine.New(logger, coreplane.Config{ThreadPoolSize: 8})
//	if err != nil {
//	    return err
//	}
//	if err := eng.RegisterService(&engine.ServiceDef{Name: "ntp", Config: cfgStore}); err != nil {
//	    return err
//	}
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	res, err := eng.Call(ctx, "core.ping")
//
// # Architecture
//
// The root package defines shared leaf types (records, version stamps,
// the error taxonomy, runtime configuration). Each subsystem lives in its
// own package: lock (named lock registries), job (job model and method
// registry), scheduler (admission control and execution placement),
// entry (the Config/CRUD store contract), replicated (the clustered-store
// wrapper), event (change notifications), ext (lifecycle hooks), and
// store (datastore and replicated-backend boundaries with memory, bun,
// and redis implementations).
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package coreplane
