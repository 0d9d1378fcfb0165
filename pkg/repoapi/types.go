package repoapi

import (
	"fmt"
	"io"
	"time"
)

// EntryType identifies the kind of a repository entry.
type EntryType string

const (
	EntryTypeFolder   EntryType = "Folder"
	EntryTypeDocument EntryType = "Document"
	EntryTypeShortcut EntryType = "Shortcut"
)

// Repository is a single item of GET /v1/Repositories.
type Repository struct {
	RepoID       string `json:"repoId"`
	RepoName     string `json:"repoName"`
	WebClientURL string `json:"webclientUrl,omitempty"`
}

// Entry is a node in the repository: folder, document or shortcut.
type Entry struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	ParentID         int       `json:"parentId,omitempty"`
	FullPath         string    `json:"fullPath"`
	FolderPath       string    `json:"folderPath,omitempty"`
	EntryType        EntryType `json:"entryType"`
	IsContainer      bool      `json:"isContainer"`
	IsLeaf           bool      `json:"isLeaf"`
	Creator          string    `json:"creator,omitempty"`
	CreationTime     time.Time `json:"creationTime,omitempty"`
	LastModifiedTime time.Time `json:"lastModifiedTime,omitempty"`
	TemplateName     string    `json:"templateName,omitempty"`
	PageCount        int       `json:"pageCount,omitempty"`
	Extension        string    `json:"extension,omitempty"`

	// Set only for shortcuts.
	TargetID   int       `json:"targetId,omitempty"`
	TargetType EntryType `json:"targetType,omitempty"`
}

// IsShortcut reports whether the entry redirects to another entry.
func (e *Entry) IsShortcut() bool {
	return e != nil && e.EntryType == EntryTypeShortcut
}

// FindEntryResult is returned by GET .../Entries/ByPath.
type FindEntryResult struct {
	Entry         *Entry `json:"entry"`
	AncestorEntry *Entry `json:"ancestorEntry,omitempty"`
}

// EntryList is the OData wrapper returned by children listings.
type EntryList struct {
	Value    []Entry `json:"value"`
	NextLink string  `json:"@odata.nextLink,omitempty"`
}

// PostEntryChildrenRequest creates a child entry under a folder.
type PostEntryChildrenRequest struct {
	Name       string    `json:"name"`
	EntryType  EntryType `json:"entryType"`
	TargetID   int       `json:"targetId,omitempty"`
	SourceID   int       `json:"sourceId,omitempty"`
	VolumeName string    `json:"volumeName,omitempty"`
}

// ValueToUpdate is one value of a field, positions start at 1.
type ValueToUpdate struct {
	Value    string `json:"value"`
	Position int    `json:"position"`
}

// FieldToUpdate assigns new values to a single metadata field.
type FieldToUpdate struct {
	Values []ValueToUpdate `json:"values"`
}

// PutFieldValsRequest maps field names to their new values.
type PutFieldValsRequest struct {
	Fields map[string]FieldToUpdate `json:"fields"`
}

// PostEntryWithEdocMetadataRequest is the "request" part of an import.
type PostEntryWithEdocMetadataRequest struct {
	Metadata *PutFieldValsRequest `json:"metadata,omitempty"`
	Template string               `json:"template,omitempty"`
}

// FileParameter is the electronic document part of an import.
type FileParameter struct {
	Data     io.Reader
	FileName string
}

// ImportDocumentParams are the arguments of ImportDocument.
type ImportDocumentParams struct {
	RepoID             string
	ParentEntryID      int
	FileName           string
	AutoRename         bool
	ElectronicDocument FileParameter
	Request            *PostEntryWithEdocMetadataRequest
}

// CreateEntryResult is returned by a successful import.
type CreateEntryResult struct {
	Operations struct {
		EntryCreate struct {
			EntryID    int            `json:"entryId"`
			Exceptions []APIException `json:"exceptions,omitempty"`
		} `json:"entryCreate"`
		SetEdoc struct {
			Exceptions []APIException `json:"exceptions,omitempty"`
		} `json:"setEdoc"`
		SetFields struct {
			FieldCount int            `json:"fieldCount"`
			Exceptions []APIException `json:"exceptions,omitempty"`
		} `json:"setFields"`
		SetTemplate struct {
			Template   string         `json:"template,omitempty"`
			Exceptions []APIException `json:"exceptions,omitempty"`
		} `json:"setTemplate"`
	} `json:"operations"`
	DocumentLink string `json:"documentLink,omitempty"`
}

// APIException is a per-operation failure reported inside a 2xx response.
type APIException struct {
	Message string `json:"message"`
}

// TemplateFieldInfo describes one field of a template.
type TemplateFieldInfo struct {
	Name         string `json:"name"`
	FieldType    string `json:"fieldType"`
	Length       int    `json:"length,omitempty"`
	IsRequired   bool   `json:"isRequired"`
	IsMultiValue bool   `json:"isMultiValue"`
	Constraint   string `json:"constraint,omitempty"`
}

// TemplateFieldList is the OData wrapper for template field definitions.
type TemplateFieldList struct {
	Value []TemplateFieldInfo `json:"value"`
}

// APIError is a non-2xx response from the repository API.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("repository api %d: %s: %s", e.Status, e.Title, e.Detail)
	}
	if e.Title != "" {
		return fmt.Sprintf("repository api %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("repository api returned %d", e.Status)
}
