package filter_test

import (
	"errors"
	"testing"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/filter"
)

func sampleRecords() []coreplane.Record {
	return []coreplane.Record{
		{"id": 1, "name": "tank", "size": 100, "locked": false},
		{"id": 2, "name": "dozer", "size": 250, "locked": true},
		{"id": 3, "name": "trinity", "size": 50, "locked": true},
		{"id": 4, "name": "tank-backup", "size": 100, "locked": false},
	}
}

func TestMatchOperators(t *testing.T) {
	t.Parallel()
	rec := coreplane.Record{"name": "tank", "size": 100, "locked": true}

	tests := []struct {
		name string
		f    filter.Filter
		want bool
	}{
		{"eq string", filter.F("name", "=", "tank"), true},
		{"eq string miss", filter.F("name", "=", "dozer"), false},
		{"eq bool", filter.F("locked", "=", true), true},
		{"neq", filter.F("name", "!=", "dozer"), true},
		{"neq missing field", filter.F("ghost", "!=", "x"), true},
		{"gt", filter.F("size", ">", 50), true},
		{"gte boundary", filter.F("size", ">=", 100), true},
		{"lt", filter.F("size", "<", 100), false},
		{"lte", filter.F("size", "<=", 100), true},
		{"gt cross numeric types", filter.F("size", ">", int64(99)), true},
		{"in", filter.F("name", "in", []any{"tank", "dozer"}), true},
		{"nin", filter.F("name", "nin", []any{"dozer"}), true},
		{"regex", filter.F("name", "~", "^ta.k$"), true},
		{"prefix", filter.F("name", "^", "ta"), true},
		{"suffix", filter.F("name", "$", "nk"), true},
		{"missing field eq", filter.F("ghost", "=", 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filter.Match(rec, tt.f)
			if err != nil {
				t.Fatalf("Match returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.f, got, tt.want)
			}
		})
	}
}

func TestMatchUnknownOperator(t *testing.T) {
	t.Parallel()
	_, err := filter.Match(coreplane.Record{"a": 1}, filter.F("a", "<>", 1))
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestApplyFilters(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), []filter.Filter{filter.F("locked", "=", true)}, filter.Options{})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	for _, rec := range out {
		if rec["locked"] != true {
			t.Errorf("record %v should be locked", rec)
		}
	}
}

func TestApplyOrderLimitOffset(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), nil, filter.Options{
		OrderBy: []string{"-size", "name"},
		Offset:  1,
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	// Full descending-size order is dozer(250), tank(100), tank-backup(100),
	// trinity(50); ties broken by name ascending. Offset 1 drops dozer.
	if out[0]["name"] != "tank" || out[1]["name"] != "tank-backup" {
		t.Errorf("unexpected order: %v, %v", out[0]["name"], out[1]["name"])
	}
}

func TestApplySelect(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), nil, filter.Options{Select: []string{"id", "name"}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	for _, rec := range out {
		if len(rec) != 2 {
			t.Errorf("expected projection to 2 fields, got %v", rec)
		}
		if _, ok := rec["size"]; ok {
			t.Errorf("size should have been projected away: %v", rec)
		}
	}
}

func TestApplyCount(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), []filter.Filter{filter.F("locked", "=", true)}, filter.Options{Count: true})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(out) != 1 || out[0]["count"] != 2 {
		t.Fatalf("count result = %v, want one {count: 2} record", out)
	}

	shaped, err := filter.Shape("volumes", out, filter.Options{Count: true})
	if err != nil {
		t.Fatalf("Shape returned error: %v", err)
	}
	if shaped != 2 {
		t.Errorf("Shape count = %v, want 2", shaped)
	}
}

func TestApplyGet(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), nil, filter.Options{Get: true, OrderBy: []string{"-size"}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(out) != 1 || out[0]["name"] != "dozer" {
		t.Fatalf("get result = %v, want just dozer", out)
	}

	shaped, err := filter.Shape("volumes", out, filter.Options{Get: true})
	if err != nil {
		t.Fatalf("Shape returned error: %v", err)
	}
	rec, ok := shaped.(coreplane.Record)
	if !ok || rec["name"] != "dozer" {
		t.Errorf("Shape get = %v, want the dozer record", shaped)
	}
}

func TestShapeGetNoMatch(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), []filter.Filter{filter.F("name", "=", "ghost")}, filter.Options{Get: true})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	_, err = filter.Shape("volumes", out, filter.Options{Get: true})
	var nf *coreplane.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if nf.Namespace != "volumes" {
		t.Errorf("namespace = %q", nf.Namespace)
	}
}

func TestCountMatches(t *testing.T) {
	t.Parallel()
	n, err := filter.CountMatches(sampleRecords(), []filter.Filter{filter.F("size", "=", 100)})
	if err != nil {
		t.Fatalf("CountMatches returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
}

func TestApplyOffsetBeyondEnd(t *testing.T) {
	t.Parallel()
	out, err := filter.Apply(sampleRecords(), nil, filter.Options{Offset: 10})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d records", len(out))
	}
}
