package shared

import (
	"net/url"
	"sort"
	"strings"
)

// Operator is the comparison a Condition applies.
type Operator string

const (
	OpEq       Operator = "="
	OpGte      Operator = ">="
	OpLte      Operator = "<="
	OpContains Operator = "contains"
)

// Condition is one storage-agnostic predicate.
type Condition struct {
	Column string
	Op     Operator
	Value  any
}

// Conditions is an ordered condition set consumed by a data-access layer.
type Conditions []Condition

// With returns a copy of c where the condition on (column, op) is set to value.
func (c Conditions) With(column string, op Operator, value any) Conditions {
	out := make(Conditions, 0, len(c)+1)
	replaced := false
	for _, cond := range c {
		if cond.Column == column && cond.Op == op {
			cond.Value = value
			replaced = true
		}
		out = append(out, cond)
	}
	if !replaced {
		out = append(out, Condition{Column: column, Op: op, Value: value})
	}
	return out
}

// Lookup returns the value of the condition on (column, op).
func (c Conditions) Lookup(column string, op Operator) (any, bool) {
	for _, cond := range c {
		if cond.Column == column && cond.Op == op {
			return cond.Value, true
		}
	}
	return nil, false
}

// FoldFunc folds a filter value into a condition set.
type FoldFunc func(conds Conditions, value string) Conditions

type filterKind int

const (
	filterDirect filterKind = iota + 1
	filterFold
)

// FilterRule maps a public filter key either directly onto a column or onto
// a folding function. Build it with Direct or Fold.
type FilterRule struct {
	kind   filterKind
	column string
	fold   FoldFunc
}

// Direct maps a filter key to an equality condition on column.
func Direct(column string) FilterRule {
	return FilterRule{kind: filterDirect, column: column}
}

// Fold maps a filter key to a custom folding function.
func Fold(fn FoldFunc) FilterRule {
	return FilterRule{kind: filterFold, fold: fn}
}

// FilterSpec declares the filter keys a listing accepts.
type FilterSpec map[string]FilterRule

// Validate checks every rule is usable.
func (s FilterSpec) Validate() error {
	for key, rule := range s {
		switch rule.kind {
		case filterDirect:
			if rule.column == "" {
				return &ConfigError{Component: "filter", Name: key, Err: ErrUnknownFilter}
			}
		case filterFold:
			if rule.fold == nil {
				return &ConfigError{Component: "filter", Name: key, Err: ErrUnknownFilter}
			}
		default:
			return &ConfigError{Component: "filter", Name: key, Err: ErrUnknownFilter}
		}
	}
	return nil
}

// MustFilterSpec panics when spec is invalid. Use it for package level specs.
func MustFilterSpec(spec FilterSpec) FilterSpec {
	if err := spec.Validate(); err != nil {
		panic(err)
	}
	return spec
}

// QueryFilter holds the sanitized filter parameters of one request.
type QueryFilter struct {
	spec   FilterSpec
	params map[string]string
}

// NewQueryFilter sanitizes raw against spec: unknown keys and blank values
// are dropped, "0" is kept.
func NewQueryFilter(spec FilterSpec, raw url.Values) *QueryFilter {
	f := &QueryFilter{spec: spec, params: make(map[string]string)}
	for key := range raw {
		f.set(key, raw.Get(key))
	}
	return f
}

// NewQueryFilterFromMap is NewQueryFilter for a plain map.
func NewQueryFilterFromMap(spec FilterSpec, raw map[string]string) *QueryFilter {
	f := &QueryFilter{spec: spec, params: make(map[string]string)}
	for key, value := range raw {
		f.set(key, value)
	}
	return f
}

func (f *QueryFilter) set(key, value string) {
	if _, ok := f.spec[key]; !ok {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	f.params[key] = value
}

// Params returns a copy of the retained parameters.
func (f *QueryFilter) Params() map[string]string {
	out := make(map[string]string, len(f.params))
	for k, v := range f.params {
		out[k] = v
	}
	return out
}

// Get returns a retained parameter.
func (f *QueryFilter) Get(key string) (string, bool) {
	v, ok := f.params[key]
	return v, ok
}

// Value returns a retained parameter or "".
func (f *QueryFilter) Value(key string) string {
	return f.params[key]
}

// Has reports whether key survived sanitization.
func (f *QueryFilter) Has(key string) bool {
	_, ok := f.params[key]
	return ok
}

// Active reports whether any filter is set.
func (f *QueryFilter) Active() bool {
	return len(f.params) > 0
}

// Apply folds the retained parameters into base, in key order.
func (f *QueryFilter) Apply(base Conditions) Conditions {
	conds := append(Conditions(nil), base...)
	for _, key := range f.keys() {
		value := f.params[key]
		rule := f.spec[key]
		switch rule.kind {
		case filterDirect:
			conds = conds.With(rule.column, OpEq, value)
		case filterFold:
			conds = rule.fold(conds, value)
		}
	}
	return conds
}

// ToQueryString encodes the retained parameters, sorted by key.
func (f *QueryFilter) ToQueryString() string {
	values := url.Values{}
	for k, v := range f.params {
		values.Set(k, v)
	}
	return values.Encode()
}

// FilterURL builds base?query from the retained parameters merged with
// overrides. Overrides win; an empty override removes the key.
func (f *QueryFilter) FilterURL(base string, overrides map[string]string) string {
	values := url.Values{}
	for k, v := range f.params {
		values.Set(k, v)
	}
	for k, v := range overrides {
		if v == "" {
			values.Del(k)
			continue
		}
		values.Set(k, v)
	}
	if len(values) == 0 {
		return base
	}
	return base + "?" + values.Encode()
}

func (f *QueryFilter) keys() []string {
	keys := make([]string, 0, len(f.params))
	for k := range f.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Predicate reports whether item satisfies a filter value.
type Predicate[T any] func(item T, value string) bool

// ResultFilter pairs a QueryFilter with in-memory predicates for the filter
// keys that cannot be pushed into a condition set.
type ResultFilter[T any] struct {
	*QueryFilter
	predicates map[string]Predicate[T]
}

// NewResultFilter builds a ResultFilter.
func NewResultFilter[T any](f *QueryFilter, predicates map[string]Predicate[T]) ResultFilter[T] {
	return ResultFilter[T]{QueryFilter: f, predicates: predicates}
}

// FilterResults returns the items satisfying every active predicate. Items
// are returned unchanged when no predicate is active.
func (rf ResultFilter[T]) FilterResults(items []T) []T {
	type active struct {
		pred  Predicate[T]
		value string
	}
	var preds []active
	for _, key := range rf.keys() {
		if pred, ok := rf.predicates[key]; ok {
			preds = append(preds, active{pred: pred, value: rf.params[key]})
		}
	}
	if len(preds) == 0 {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		keep := true
		for _, p := range preds {
			if !p.pred(item, p.value) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}
