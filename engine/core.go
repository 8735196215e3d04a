package engine

import (
	"context"
	"fmt"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/job"
)

// coreService is the builtin service every engine carries: liveness,
// job table access, service introspection, and bulk invocation.
func coreService(eng *Engine) *ServiceDef {
	bulkOpts := job.Build(job.AsAbortable())
	return &ServiceDef{
		Name:        "core",
		Description: "Engine introspection and job control",
		Methods: []*job.Method{
			{
				Name:        "ping",
				Description: "Liveness probe",
				Handler: func(ctx context.Context, _ *job.Job, _ []any) (any, error) {
					return "pong", nil
				},
			},
			{
				Name:        "get_jobs",
				Description: "Query the job table with filters and options",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					filters, opts, err := queryArgs(args)
					if err != nil {
						return nil, err
					}
					snaps, err := eng.sched.List(filters, opts)
					if err != nil {
						return nil, err
					}
					return filter.Shape("core.get_jobs", snaps, opts)
				},
			},
			{
				Name:        "job_wait",
				Description: "Block until the given job finishes and return its result",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					jobID, err := stringArg(args, 0, "job_id")
					if err != nil {
						return nil, err
					}
					return eng.sched.Wait(ctx, jobID)
				},
			},
			{
				Name:        "job_update",
				Description: "Set progress on a running job from outside its body",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					jobID, err := stringArg(args, 0, "job_id")
					if err != nil {
						return nil, err
					}
					fields, err := recordArg(args, 1)
					if err != nil {
						return nil, err
					}
					j, err := eng.sched.Get(jobID)
					if err != nil {
						return nil, err
					}
					percent, _ := fields["percent"].(float64)
					description, _ := fields["description"].(string)
					j.SetProgress(percent, description, fields["extra"])
					return true, nil
				},
			},
			{
				Name:        "job_abort",
				Description: "Request the given job stop",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					jobID, err := stringArg(args, 0, "job_id")
					if err != nil {
						return nil, err
					}
					return true, eng.sched.Abort(jobID)
				},
			},
			{
				Name:        "get_services",
				Description: "List registered services with their kind and description",
				Handler: func(ctx context.Context, _ *job.Job, _ []any) (any, error) {
					defs := eng.Services()
					out := make([]coreplane.Record, 0, len(defs))
					for _, def := range defs {
						out = append(out, coreplane.Record{
							"name":        def.Name,
							"type":        def.Kind(),
							"description": def.Description,
						})
					}
					return out, nil
				},
			},
			{
				Name:        "get_methods",
				Description: "List registered public method names",
				Handler: func(ctx context.Context, _ *job.Job, _ []any) (any, error) {
					names := eng.registry.Names()
					public := make([]string, 0, len(names))
					for _, name := range names {
						m, err := eng.registry.Get(name)
						if err != nil || m.Private {
							continue
						}
						public = append(public, name)
					}
					return public, nil
				},
			},
			{
				Name:        "bulk",
				Description: "Call a method once per parameter set, collecting per-item results",
				Job:         &bulkOpts,
				Handler:     bulkHandler(eng),
			},
		},
	}
}

// bulkHandler runs `core.bulk(method, params)`: one call per parameter
// set, sequentially, recording each item's result or error. The bulk
// job itself always succeeds; per-item failures live in its result.
func bulkHandler(eng *Engine) job.HandlerFunc {
	return func(ctx context.Context, j *job.Job, args []any) (any, error) {
		method, err := stringArg(args, 0, "method")
		if err != nil {
			return nil, err
		}
		var params [][]any
		if len(args) > 1 && args[1] != nil {
			switch v := args[1].(type) {
			case [][]any:
				params = v
			case []any:
				for _, raw := range v {
					set, ok := raw.([]any)
					if !ok {
						return nil, &coreplane.ValidationError{
							Field:   "params",
							Message: fmt.Sprintf("expected a parameter list, got %T", raw),
						}
					}
					params = append(params, set)
				}
			default:
				return nil, &coreplane.ValidationError{
					Field:   "params",
					Message: fmt.Sprintf("expected a list of parameter lists, got %T", args[1]),
				}
			}
		}

		results := make([]coreplane.Record, 0, len(params))
		for i, set := range params {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			j.SetProgress(float64(i)/float64(len(params))*100,
				fmt.Sprintf("%s %d of %d", method, i+1, len(params)), nil)

			item := coreplane.Record{"result": nil, "error": nil}
			result, err := eng.callAndWait(ctx, method, set)
			if err != nil {
				item["error"] = err.Error()
			} else {
				item["result"] = result
			}
			results = append(results, item)
		}
		j.SetProgress(100, "done", nil)
		return results, nil
	}
}

// callAndWait dispatches a method and, when it is job-wrapped, waits
// for the resulting job instead of returning its id.
func (eng *Engine) callAndWait(ctx context.Context, name string, args []any) (any, error) {
	m, err := eng.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !m.JobWrapped() {
		return eng.Call(ctx, name, args...)
	}
	if err := eng.throttle(ctx, name); err != nil {
		return nil, err
	}
	j, err := eng.sched.Submit(ctx, m, args, nil)
	if err != nil {
		return nil, err
	}
	return j.Wait(ctx)
}

func stringArg(args []any, i int, field string) (string, error) {
	if len(args) <= i {
		return "", &coreplane.ValidationError{Field: field, Message: "required"}
	}
	s, ok := args[i].(string)
	if !ok {
		return "", &coreplane.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("expected a string, got %T", args[i]),
		}
	}
	return s, nil
}
