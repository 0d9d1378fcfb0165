package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/repodrop/repodrop/pkg/repoapi"
)

// TemplateSource loads template field definitions.
type TemplateSource interface {
	ListTemplateFields(ctx context.Context, repoID, templateName string) ([]repoapi.TemplateFieldInfo, error)
}

// Form is an in-memory FieldContainer. Values are validated against the
// definitions of the selected template.
type Form struct {
	mu       sync.Mutex
	template string
	defs     map[string]repoapi.TemplateFieldInfo
	values   map[string][]string
	errs     map[string]string
}

// NewForm returns an empty form with no template.
func NewForm() *Form {
	return &Form{
		defs:   make(map[string]repoapi.TemplateFieldInfo),
		values: make(map[string][]string),
		errs:   make(map[string]string),
	}
}

// SetTemplate selects a template and its field definitions. An empty name
// clears the template.
func (f *Form) SetTemplate(name string, defs []repoapi.TemplateFieldInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.template = name
	f.defs = make(map[string]repoapi.TemplateFieldInfo, len(defs))
	for _, d := range defs {
		f.defs[d.Name] = d
	}
	f.errs = make(map[string]string)
}

// LoadTemplate fetches the definitions of name and selects it.
func (f *Form) LoadTemplate(ctx context.Context, src TemplateSource, repoID, name string) error {
	if name == "" {
		f.SetTemplate("", nil)
		return nil
	}
	defs, err := src.ListTemplateFields(ctx, repoID, name)
	if err != nil {
		return fmt.Errorf("load template %q: %w", name, err)
	}
	f.SetTemplate(name, defs)
	return nil
}

// Set replaces the values of one field. No values removes the field.
func (f *Form) Set(name string, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(values) == 0 {
		delete(f.values, name)
		return
	}
	f.values[name] = append([]string(nil), values...)
}

// SetPairs sets fields from "name=value" strings. Repeating a name adds a value.
func (f *Form) SetPairs(pairs []string) error {
	collected := make(map[string][]string)
	var order []string
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid field %q, expected name=value", p)
		}
		if _, seen := collected[name]; !seen {
			order = append(order, name)
		}
		collected[name] = append(collected[name], value)
	}
	for _, name := range order {
		f.Set(name, collected[name]...)
	}
	return nil
}

// formJSON is the JSON shape accepted by SetJSON. Field values may be a
// single string or a list of strings.
type formJSON struct {
	Template string                     `json:"template"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

// SetJSON replaces all values from a JSON document and returns the template
// name it names (which the caller loads).
func (f *Form) SetJSON(data []byte) (string, error) {
	template, values, err := ParseJSON(data)
	if err != nil {
		return "", err
	}
	f.ReplaceValues(values)
	return template, nil
}

// ParseJSON reads a {"template": ..., "fields": {...}} document without
// touching any form.
func ParseJSON(data []byte) (template string, values map[string][]string, err error) {
	var doc formJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("parse metadata: %w", err)
	}
	values = make(map[string][]string, len(doc.Fields))
	for name, raw := range doc.Fields {
		var one string
		if err := json.Unmarshal(raw, &one); err == nil {
			values[name] = []string{one}
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err != nil {
			return "", nil, fmt.Errorf("field %q: expected a string or a list of strings", name)
		}
		values[name] = many
	}
	return doc.Template, values, nil
}

// ReplaceValues swaps in values and clears recorded errors.
func (f *Form) ReplaceValues(values map[string][]string) {
	if values == nil {
		values = make(map[string][]string)
	}
	f.mu.Lock()
	f.values = values
	f.errs = make(map[string]string)
	f.mu.Unlock()
}

// Clear removes every value and the template.
func (f *Form) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.template = ""
	f.defs = make(map[string]repoapi.TemplateFieldInfo)
	f.values = make(map[string][]string)
	f.errs = make(map[string]string)
}

// ForceValidation validates every field and records per-field errors.
func (f *Form) ForceValidation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = make(map[string]string)
	for name, def := range f.defs {
		if msg := validate(def, f.values[name]); msg != "" {
			f.errs[name] = msg
		}
	}
	return len(f.errs) == 0
}

// Errors returns the messages recorded by the last ForceValidation.
func (f *Form) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

// FieldValues returns the entered values, numbered from 1.
func (f *Form) FieldValues() map[string]FieldValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]FieldValue, len(f.values))
	for name, vals := range f.values {
		fv := FieldValue{Values: make([]repoapi.ValueToUpdate, len(vals))}
		for i, v := range vals {
			fv.Values[i] = repoapi.ValueToUpdate{Value: v, Position: i + 1}
		}
		out[name] = fv
	}
	return out
}

// TemplateName returns the selected template, or "".
func (f *Form) TemplateName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.template
}

// Fields returns the definitions of the selected template.
func (f *Form) Fields() []repoapi.TemplateFieldInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repoapi.TemplateFieldInfo, 0, len(f.defs))
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out
}

func validate(def repoapi.TemplateFieldInfo, values []string) string {
	var present []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		if def.IsRequired {
			return "required"
		}
		return ""
	}
	if !def.IsMultiValue && len(present) > 1 {
		return "only one value allowed"
	}

	for _, v := range present {
		switch strings.ToLower(def.FieldType) {
		case "number":
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return fmt.Sprintf("%q is not a number", v)
			}
		case "shortinteger", "longinteger":
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Sprintf("%q is not a whole number", v)
			}
		case "date":
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				return fmt.Sprintf("%q is not a date (YYYY-MM-DD)", v)
			}
		case "datetime":
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Sprintf("%q is not a date and time", v)
			}
		}
		if def.Length > 0 && utf8.RuneCountInString(v) > def.Length {
			return fmt.Sprintf("longer than %d characters", def.Length)
		}
		if def.Constraint != "" {
			re, err := regexp.Compile("^(?:" + def.Constraint + ")$")
			if err == nil && !re.MatchString(v) {
				return fmt.Sprintf("%q does not match the field format", v)
			}
		}
	}
	return ""
}
