package shared

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ValidationErrors maps a field to its messages.
type ValidationErrors map[string][]string

func (e ValidationErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e[f], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a message for field.
func (e ValidationErrors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// First returns the first message for field, or "".
func (e ValidationErrors) First(field string) string {
	if msgs := e[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// RuleFunc reports whether the value of field passes a rule. data holds the
// whole input.
type RuleFunc func(field, value string, params []string, data map[string]string) bool

// MessageFunc formats the failure message of a rule.
type MessageFunc func(field string, params []string) string

type ruleDef struct {
	fn      RuleFunc
	message MessageFunc
	arity   int // -1 for any number of params
}

// Validator is a registry of named validation rules.
type Validator struct {
	rules    map[string]ruleDef
	validate *validator.Validate
}

// NewValidator returns a Validator with the built-in rules registered.
func NewValidator() *Validator {
	v := &Validator{rules: make(map[string]ruleDef), validate: validator.New()}
	v.registerBuiltins()
	return v
}

// Register adds or replaces a rule. arity is the exact number of parameters
// the rule takes, or -1 for any.
func (v *Validator) Register(name string, arity int, fn RuleFunc, message MessageFunc) {
	v.rules[name] = ruleDef{fn: fn, message: message, arity: arity}
}

// Check evaluates a single rule. Unknown rule names are configuration errors.
func (v *Validator) Check(rule, field, value string, params ...string) (bool, error) {
	def, ok := v.rules[rule]
	if !ok {
		return false, &ConfigError{Component: "validation", Name: rule, Err: ErrUnknownRule}
	}
	if def.arity >= 0 && len(params) != def.arity {
		return false, &ConfigError{Component: "validation", Name: rule, Err: fmt.Errorf("expects %d parameter(s)", def.arity)}
	}
	return def.fn(field, value, params, map[string]string{field: value}), nil
}

type compiledRule struct {
	name   string
	params []string
	def    ruleDef
}

type fieldRules struct {
	field    string
	required bool
	rules    []compiledRule
}

// RuleSet is a compiled field → rules mapping.
type RuleSet struct {
	fields []fieldRules
}

// Compile parses rule strings such as "required|min:3|max:255". Unknown rules
// and wrong parameter counts are reported as configuration errors.
func (v *Validator) Compile(spec map[string]string) (*RuleSet, error) {
	fieldNames := make([]string, 0, len(spec))
	for f := range spec {
		fieldNames = append(fieldNames, f)
	}
	sort.Strings(fieldNames)

	rs := &RuleSet{}
	for _, field := range fieldNames {
		fr := fieldRules{field: field}
		for _, part := range strings.Split(spec[field], "|") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, rawParams, _ := strings.Cut(part, ":")
			var params []string
			if rawParams != "" {
				params = strings.Split(rawParams, ",")
			}
			def, ok := v.rules[name]
			if !ok {
				return nil, &ConfigError{Component: "validation", Name: name, Err: ErrUnknownRule}
			}
			if def.arity >= 0 && len(params) != def.arity {
				return nil, &ConfigError{Component: "validation", Name: part, Err: fmt.Errorf("expects %d parameter(s)", def.arity)}
			}
			if name == "required" {
				fr.required = true
			}
			fr.rules = append(fr.rules, compiledRule{name: name, params: params, def: def})
		}
		rs.fields = append(rs.fields, fr)
	}
	return rs, nil
}

// MustCompile is Compile that panics; use it at startup.
func (v *Validator) MustCompile(spec map[string]string) *RuleSet {
	rs, err := v.Compile(spec)
	if err != nil {
		panic(err)
	}
	return rs
}

// Validate runs the rule set. It returns nil when data passes. Optional
// fields that are blank skip their remaining rules.
func (rs *RuleSet) Validate(data map[string]string) ValidationErrors {
	errs := ValidationErrors{}
	for _, fr := range rs.fields {
		value := data[fr.field]
		if !fr.required && strings.TrimSpace(value) == "" {
			continue
		}
		for _, rule := range fr.rules {
			if rule.def.fn(fr.field, value, rule.params, data) {
				continue
			}
			errs.Add(fr.field, rule.def.message(fr.field, rule.params))
			if rule.name == "required" {
				break
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

var alphaDashRe = regexp.MustCompile(`^[\pL\pN_-]+$`)

func (v *Validator) registerBuiltins() {
	msg := func(format string) MessageFunc {
		return func(field string, params []string) string {
			args := []any{field}
			for _, p := range params {
				args = append(args, p)
			}
			return fmt.Sprintf(format, args...)
		}
	}
	tag := func(t string) RuleFunc {
		return func(_, value string, _ []string, _ map[string]string) bool {
			return v.validate.Var(value, t) == nil
		}
	}

	v.Register("required", 0, func(_, value string, _ []string, _ map[string]string) bool {
		return strings.TrimSpace(value) != ""
	}, msg("%s is required"))
	v.Register("email", 0, tag("email"), msg("%s must be a valid email address"))
	v.Register("url", 0, tag("http_url"), msg("%s must be a valid http(s) URL"))
	v.Register("latitude", 0, tag("latitude"), msg("%s must be a valid latitude"))
	v.Register("longitude", 0, tag("longitude"), msg("%s must be a valid longitude"))
	v.Register("numeric", 0, func(_, value string, _ []string, _ map[string]string) bool {
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	}, msg("%s must be a number"))
	v.Register("integer", 0, func(_, value string, _ []string, _ map[string]string) bool {
		_, err := strconv.Atoi(value)
		return err == nil
	}, msg("%s must be an integer"))
	v.Register("alpha_dash", 0, func(_, value string, _ []string, _ map[string]string) bool {
		return alphaDashRe.MatchString(value)
	}, msg("%s may only contain letters, numbers, dashes and underscores"))
	v.Register("date", 0, func(_, value string, _ []string, _ map[string]string) bool {
		_, err := time.Parse(time.DateOnly, value)
		return err == nil
	}, msg("%s must be a date (YYYY-MM-DD)"))

	// min and max always measure string length in characters, never numeric
	// magnitude, so "00001" is five characters long.
	v.Register("min", 1, func(_, value string, params []string, _ map[string]string) bool {
		n, err := strconv.Atoi(params[0])
		return err == nil && utf8.RuneCountInString(value) >= n
	}, msg("%s must be at least %s characters"))
	v.Register("max", 1, func(_, value string, params []string, _ map[string]string) bool {
		n, err := strconv.Atoi(params[0])
		return err == nil && utf8.RuneCountInString(value) <= n
	}, msg("%s must not exceed %s characters"))
	v.Register("between", 2, func(_, value string, params []string, _ map[string]string) bool {
		lo, err1 := strconv.Atoi(params[0])
		hi, err2 := strconv.Atoi(params[1])
		n := utf8.RuneCountInString(value)
		return err1 == nil && err2 == nil && n >= lo && n <= hi
	}, msg("%s must be between %s and %s characters"))

	v.Register("min_value", 1, func(_, value string, params []string, _ map[string]string) bool {
		n, err1 := strconv.ParseFloat(value, 64)
		lo, err2 := strconv.ParseFloat(params[0], 64)
		return err1 == nil && err2 == nil && n >= lo
	}, msg("%s must be at least %s"))
	v.Register("max_value", 1, func(_, value string, params []string, _ map[string]string) bool {
		n, err1 := strconv.ParseFloat(value, 64)
		hi, err2 := strconv.ParseFloat(params[0], 64)
		return err1 == nil && err2 == nil && n <= hi
	}, msg("%s must not be greater than %s"))

	v.Register("in", -1, func(_, value string, params []string, _ map[string]string) bool {
		for _, p := range params {
			if value == p {
				return true
			}
		}
		return false
	}, func(field string, params []string) string {
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(params, ", "))
	})
	v.Register("confirmed", 0, func(field, value string, _ []string, data map[string]string) bool {
		return data[field+"_confirmation"] == value
	}, msg("%s confirmation does not match"))
}
