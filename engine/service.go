package engine

import (
	"context"
	"fmt"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/job"
	"github.com/arkstor/coreplane/replicated"
	"github.com/arkstor/coreplane/store"
)

// ConfigAPI is the surface a config service's store exposes. Both
// entry.ConfigStore and replicated.ConfigWrapper satisfy it.
type ConfigAPI interface {
	Config(ctx context.Context) (coreplane.Record, error)
	Update(ctx context.Context, delta coreplane.Record) (coreplane.Record, error)
}

// CRUDAPI is the surface a crud service's store exposes.
// entry.CRUDStore satisfies it directly; wrap a
// replicated.CRUDWrapper with ReplicatedCRUD.
type CRUDAPI interface {
	Query(ctx context.Context, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error)
	GetInstance(ctx context.Context, pk any) (coreplane.Record, error)
	Create(ctx context.Context, rec coreplane.Record) (coreplane.Record, error)
	Update(ctx context.Context, pk any, delta coreplane.Record) (coreplane.Record, error)
	Delete(ctx context.Context, pk any) error
}

// ServiceDef declares one service: its entry store (config or crud,
// at most one), its explicit methods, and the foreign-key references
// other stores hold into it.
type ServiceDef struct {
	// Name prefixes every method name, "service.method" style.
	Name        string
	Description string

	// Config and CRUD are mutually exclusive. Either adds the
	// generated entry methods for its store kind.
	Config ConfigAPI
	CRUD   CRUDAPI

	// Methods are the service's explicit methods, named without the
	// service prefix.
	Methods []*job.Method

	// Dependencies are backrefs registered on the CRUD store, feeding
	// dependency-guarded deletion.
	Dependencies []store.Backref
}

// ReplicatedCRUD adapts a replicated CRUD wrapper, whose primary keys
// are int64, to the CRUDAPI surface.
func ReplicatedCRUD(w *replicated.CRUDWrapper) CRUDAPI {
	return replicatedCRUD{w}
}

type replicatedCRUD struct {
	w *replicated.CRUDWrapper
}

func (a replicatedCRUD) Query(ctx context.Context, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error) {
	return a.w.Query(ctx, filters, opts)
}

func (a replicatedCRUD) GetInstance(ctx context.Context, pk any) (coreplane.Record, error) {
	id, err := pkInt64(pk)
	if err != nil {
		return nil, err
	}
	return a.w.GetInstance(ctx, id)
}

func (a replicatedCRUD) Create(ctx context.Context, rec coreplane.Record) (coreplane.Record, error) {
	return a.w.Create(ctx, rec)
}

func (a replicatedCRUD) Update(ctx context.Context, pk any, delta coreplane.Record) (coreplane.Record, error) {
	id, err := pkInt64(pk)
	if err != nil {
		return nil, err
	}
	return a.w.Update(ctx, id, delta)
}

func (a replicatedCRUD) Delete(ctx context.Context, pk any) error {
	id, err := pkInt64(pk)
	if err != nil {
		return err
	}
	return a.w.Delete(ctx, id)
}

func pkInt64(pk any) (int64, error) {
	switch v := pk.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	}
	return 0, &coreplane.ValidationError{
		Field:   "id",
		Message: fmt.Sprintf("expected an integer primary key, got %T", pk),
	}
}

// Kind classifies the service for listings: "config", "crud", or
// "service".
func (d *ServiceDef) Kind() string {
	switch {
	case d.Config != nil:
		return "config"
	case d.CRUD != nil:
		return "crud"
	default:
		return "service"
	}
}

// generatedMethods builds the entry-store methods a config or crud
// service exposes without declaring them.
func generatedMethods(def *ServiceDef) []*job.Method {
	switch {
	case def.Config != nil:
		cfg := def.Config
		return []*job.Method{
			{
				Name:        "config",
				Description: "Return the service configuration, seeding defaults on first use",
				Handler: func(ctx context.Context, _ *job.Job, _ []any) (any, error) {
					return cfg.Config(ctx)
				},
			},
			{
				Name:        "update",
				Description: "Merge the given fields into the service configuration",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					delta, err := recordArg(args, 0)
					if err != nil {
						return nil, err
					}
					return cfg.Update(ctx, delta)
				},
			},
		}
	case def.CRUD != nil:
		crud := def.CRUD
		svc := def.Name
		return []*job.Method{
			{
				Name:        "query",
				Description: "Query entries with filters and options",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					filters, opts, err := queryArgs(args)
					if err != nil {
						return nil, err
					}
					recs, err := crud.Query(ctx, filters, opts)
					if err != nil {
						return nil, err
					}
					return filter.Shape(svc, recs, opts)
				},
			},
			{
				Name:        "get_instance",
				Description: "Return the entry with the given primary key",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					if len(args) < 1 {
						return nil, &coreplane.ValidationError{Field: "id", Message: "required"}
					}
					return crud.GetInstance(ctx, args[0])
				},
			},
			{
				Name:        "create",
				Description: "Create an entry",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					rec, err := recordArg(args, 0)
					if err != nil {
						return nil, err
					}
					return crud.Create(ctx, rec)
				},
			},
			{
				Name:        "update",
				Description: "Update the entry with the given primary key",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					if len(args) < 1 {
						return nil, &coreplane.ValidationError{Field: "id", Message: "required"}
					}
					delta, err := recordArg(args, 1)
					if err != nil {
						return nil, err
					}
					return crud.Update(ctx, args[0], delta)
				},
			},
			{
				Name:        "delete",
				Description: "Delete the entry with the given primary key",
				Handler: func(ctx context.Context, _ *job.Job, args []any) (any, error) {
					if len(args) < 1 {
						return nil, &coreplane.ValidationError{Field: "id", Message: "required"}
					}
					return true, crud.Delete(ctx, args[0])
				},
			},
		}
	default:
		return nil
	}
}

// recordArg extracts a Record argument at position i. A missing
// trailing argument is an empty record; a wrong type is a validation
// error.
func recordArg(args []any, i int) (coreplane.Record, error) {
	if len(args) <= i {
		return coreplane.Record{}, nil
	}
	switch v := args[i].(type) {
	case coreplane.Record:
		return v, nil
	case map[string]any:
		return coreplane.Record(v), nil
	default:
		return nil, &coreplane.ValidationError{
			Field:   fmt.Sprintf("args[%d]", i),
			Message: fmt.Sprintf("expected an object, got %T", args[i]),
		}
	}
}

// queryArgs decodes the optional (filters, options) argument pair. The
// wire form is a list of [field, op, value] triples plus an options
// object; typed values pass straight through.
func queryArgs(args []any) ([]filter.Filter, filter.Options, error) {
	var filters []filter.Filter
	var opts filter.Options

	if len(args) > 0 && args[0] != nil {
		switch v := args[0].(type) {
		case []filter.Filter:
			filters = v
		case [][]any:
			for _, triple := range v {
				f, err := tripleFilter(triple)
				if err != nil {
					return nil, opts, err
				}
				filters = append(filters, f)
			}
		case []any:
			for _, raw := range v {
				triple, ok := raw.([]any)
				if !ok {
					return nil, opts, &coreplane.ValidationError{
						Field:   "query-filters",
						Message: fmt.Sprintf("expected a [field, op, value] triple, got %T", raw),
					}
				}
				f, err := tripleFilter(triple)
				if err != nil {
					return nil, opts, err
				}
				filters = append(filters, f)
			}
		default:
			return nil, opts, &coreplane.ValidationError{
				Field:   "query-filters",
				Message: fmt.Sprintf("expected a filter list, got %T", args[0]),
			}
		}
	}

	if len(args) > 1 && args[1] != nil {
		switch v := args[1].(type) {
		case filter.Options:
			opts = v
		case map[string]any:
			if get, ok := v["get"].(bool); ok {
				opts.Get = get
			}
			if count, ok := v["count"].(bool); ok {
				opts.Count = count
			}
			if limit, ok := toInt(v["limit"]); ok {
				opts.Limit = limit
			}
			if offset, ok := toInt(v["offset"]); ok {
				opts.Offset = offset
			}
			if orderBy, ok := v["order_by"].([]any); ok {
				for _, f := range orderBy {
					if s, ok := f.(string); ok {
						opts.OrderBy = append(opts.OrderBy, s)
					}
				}
			}
		default:
			return nil, opts, &coreplane.ValidationError{
				Field:   "query-options",
				Message: fmt.Sprintf("expected an options object, got %T", args[1]),
			}
		}
	}
	return filters, opts, nil
}

func tripleFilter(triple []any) (filter.Filter, error) {
	if len(triple) != 3 {
		return filter.Filter{}, &coreplane.ValidationError{
			Field:   "query-filters",
			Message: fmt.Sprintf("expected a [field, op, value] triple, got %d elements", len(triple)),
		}
	}
	field, fok := triple[0].(string)
	op, ook := triple[1].(string)
	if !fok || !ook {
		return filter.Filter{}, &coreplane.ValidationError{
			Field:   "query-filters",
			Message: "field and op must be strings",
		}
	}
	return filter.F(field, op, triple[2]), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
