// Package engine wires all coreplane subsystems together and provides
// the method dispatch boundary the transport layer calls into.
//
// The engine package exists to sit above every subsystem package:
// entry stores, the job scheduler, the worker pool, the event bus, and
// the extension registry are all created here and handed to each other.
// Nothing below engine imports it.
//
// # Building an Engine
//
//	eng, err := engine.New(logger, coreplane.DefaultConfig(),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering Services
//
//	err := eng.RegisterService(&engine.ServiceDef{
//	    Name:   "interface",
//	    CRUD:   interfaceStore,
//	    Methods: []*job.Method{
//	        {Name: "sync", Handler: syncHandler, Job: &syncOpts},
//	    },
//	})
//
// Registration is fail-fast: a duplicate service name or a method name
// collision is reported immediately instead of shadowing silently.
//
// # Dispatching
//
//	result, err := eng.Call(ctx, "interface.query")
//
// Calls to job-wrapped methods return the job id immediately; the
// caller waits via core.job_wait or a bus subscription. Every engine
// carries a builtin "core" service with ping, job table access, service
// listing, and bulk invocation.
package engine
