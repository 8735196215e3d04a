package coreplane

// Record is a keyed mapping of field name to value, the unit of data
// exchanged with the datastore and replicated backends. The primary key
// field name is configurable per store (default "id").
type Record map[string]any

// Clone returns a deep copy of the record. Nested Records, generic maps
// and slices are copied; other values are shared (they are treated as
// immutable by convention).
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return Record(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []Record:
		return CloneRecords(t)
	default:
		return v
	}
}
