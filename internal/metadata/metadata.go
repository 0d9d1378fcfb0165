// Package metadata collects template field values and shapes them into the
// import request.
package metadata

import "github.com/repodrop/repodrop/pkg/repoapi"

// FieldValue holds the values entered for one field.
type FieldValue struct {
	Values []repoapi.ValueToUpdate `json:"values"`
}

// FieldContainer is what the save flow needs from a metadata editor.
type FieldContainer interface {
	// ForceValidation checks every field and reports whether all are valid.
	ForceValidation() bool
	FieldValues() map[string]FieldValue
	TemplateName() string
}

// BuildImportRequest reshapes the container's values into an import
// request. The template is attached only when one is selected.
func BuildImportRequest(fc FieldContainer) *repoapi.PostEntryWithEdocMetadataRequest {
	values := fc.FieldValues()
	fields := make(map[string]repoapi.FieldToUpdate, len(values))
	for name, fv := range values {
		src := fv.Values
		out := make([]repoapi.ValueToUpdate, len(src))
		for i, v := range src {
			if v.Position == 0 {
				v.Position = i + 1
			}
			out[i] = v
		}
		fields[name] = repoapi.FieldToUpdate{Values: out}
	}

	req := &repoapi.PostEntryWithEdocMetadataRequest{
		Metadata: &repoapi.PutFieldValsRequest{Fields: fields},
	}
	if name := fc.TemplateName(); name != "" {
		req.Template = name
	}
	return req
}
