// Package upload imports a file with its metadata into a repository folder.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/browser"
	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metadata"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

var (
	ErrNoFolder        = errors.New("no folder selected")
	ErrNoFile          = errors.New("no file selected")
	ErrInvalidMetadata = errors.New("one or more fields is invalid")
	ErrEntryNotFound   = errors.New("selected folder was not found")
	ErrNoParentEntry   = errors.New("selected folder has no target entry")
)

// Repository is what a save needs from the repository client.
type Repository interface {
	CurrentRepoID(ctx context.Context) (string, error)
	GetEntryByPath(ctx context.Context, repoID, fullPath string) (*repoapi.FindEntryResult, error)
	ImportDocument(ctx context.Context, p repoapi.ImportDocumentParams) (*repoapi.CreateEntryResult, error)
}

// Journal records the outcome of each import.
type Journal interface {
	Record(ctx context.Context, rec Record) error
}

// Record is one journal line.
type Record struct {
	RepoID        string
	FolderPath    string
	ParentEntryID int
	EntryID       int
	DocumentName  string
	Template      string
	Size          int64
	Success       bool
	Error         string
	CreatedAt     time.Time
}

// Request describes one save.
type Request struct {
	Folder   *browser.SelectedFolder
	File     File
	Metadata metadata.FieldContainer // nil imports without fields
}

// Result describes a completed import.
type Result struct {
	RepoID        string   `json:"repoId"`
	ParentEntryID int      `json:"parentEntryId"`
	EntryID       int      `json:"entryId"`
	DocumentName  string   `json:"documentName"`
	Template      string   `json:"template,omitempty"`
	FieldCount    int      `json:"fieldCount"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Saver imports documents.
type Saver struct {
	repo    Repository
	journal Journal
}

// NewSaver creates a saver. journal may be nil.
func NewSaver(repo Repository, journal Journal) *Saver {
	return &Saver{repo: repo, journal: journal}
}

// Save validates metadata, resolves the destination folder (following a
// shortcut to its target) and issues a single import with auto-rename.
// The request is never modified.
func (s *Saver) Save(ctx context.Context, req Request) (*Result, error) {
	if req.Folder == nil || req.Folder.Path == "" {
		return nil, ErrNoFolder
	}
	if req.File.IsZero() || req.File.BaseName == "" {
		return nil, ErrNoFile
	}

	entryReq := &repoapi.PostEntryWithEdocMetadataRequest{
		Metadata: &repoapi.PutFieldValsRequest{Fields: map[string]repoapi.FieldToUpdate{}},
	}
	if req.Metadata != nil {
		if !req.Metadata.ForceValidation() {
			logging.WithContext(ctx).Warn("metadata invalid")
			return nil, ErrInvalidMetadata
		}
		entryReq = metadata.BuildImportRequest(req.Metadata)
	}

	rec := Record{
		FolderPath:   req.Folder.Path,
		DocumentName: req.File.DocumentName(),
		Template:     entryReq.Template,
		Size:         req.File.Size(),
	}
	res, err := s.importDocument(ctx, req, entryReq, &rec)

	rec.Success = err == nil
	if err != nil {
		rec.Error = err.Error()
	}
	metrics.RecordImport(rec.Size, rec.Success)
	s.record(ctx, rec)

	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx).Info("document imported",
		zap.String("repo_id", res.RepoID),
		zap.Int("parent_entry_id", res.ParentEntryID),
		zap.Int("entry_id", res.EntryID),
		zap.String("document", res.DocumentName))
	return res, nil
}

func (s *Saver) importDocument(ctx context.Context, req Request, entryReq *repoapi.PostEntryWithEdocMetadataRequest, rec *Record) (*Result, error) {
	repoID, err := s.repo.CurrentRepoID(ctx)
	if err != nil {
		return nil, err
	}
	rec.RepoID = repoID

	found, err := s.repo.GetEntryByPath(ctx, repoID, req.Folder.Path)
	if err != nil {
		var apiErr *repoapi.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, req.Folder.Path)
		}
		return nil, err
	}
	if found == nil || found.Entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, req.Folder.Path)
	}

	parentID := found.Entry.ID
	if found.Entry.IsShortcut() {
		parentID = found.Entry.TargetID
	}
	if parentID == 0 {
		return nil, ErrNoParentEntry
	}
	rec.ParentEntryID = parentID

	created, err := s.repo.ImportDocument(ctx, repoapi.ImportDocumentParams{
		RepoID:        repoID,
		ParentEntryID: parentID,
		FileName:      req.File.BaseName,
		AutoRename:    true,
		ElectronicDocument: repoapi.FileParameter{
			Data:     bytes.NewReader(req.File.Data),
			FileName: req.File.DocumentName(),
		},
		Request: entryReq,
	})
	if err != nil {
		return nil, err
	}

	ops := created.Operations
	if ops.EntryCreate.EntryID == 0 {
		if msg := exceptionText(ops.EntryCreate.Exceptions); msg != "" {
			return nil, errors.New(msg)
		}
		return nil, errors.New("import did not create an entry")
	}
	rec.EntryID = ops.EntryCreate.EntryID

	res := &Result{
		RepoID:        repoID,
		ParentEntryID: parentID,
		EntryID:       ops.EntryCreate.EntryID,
		DocumentName:  req.File.DocumentName(),
		Template:      ops.SetTemplate.Template,
		FieldCount:    ops.SetFields.FieldCount,
	}
	for _, exc := range [][]repoapi.APIException{ops.SetEdoc.Exceptions, ops.SetFields.Exceptions, ops.SetTemplate.Exceptions} {
		if msg := exceptionText(exc); msg != "" {
			res.Warnings = append(res.Warnings, msg)
		}
	}
	return res, nil
}

func (s *Saver) record(ctx context.Context, rec Record) {
	if s.journal == nil {
		return
	}
	rec.CreatedAt = time.Now()
	if err := s.journal.Record(ctx, rec); err != nil {
		logging.WithContext(ctx).Warn("journal write failed", zap.Error(err))
	}
}

func exceptionText(excs []repoapi.APIException) string {
	msgs := make([]string, 0, len(excs))
	for _, e := range excs {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
