// Package repotest provides an in-memory repository API server for tests.
package repotest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/repodrop/repodrop/pkg/repoapi"
)

// RootID is the entry id of the repository root folder.
const RootID = 1

// Import records one document import received by the server.
type Import struct {
	RepoID        string
	ParentEntryID int
	FileName      string
	AutoRename    bool
	DocumentName  string
	Data          []byte
	Request       repoapi.PostEntryWithEdocMetadataRequest
}

// Server is a fake repository API backed by a map of entries.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	repoID   string
	repoName string
	entries  map[int]*repoapi.Entry
	nextID   int
	calls    map[string]int
	imports  []Import
	token    string
	fields   map[string][]repoapi.TemplateFieldInfo
	noRepos  bool
	failNext map[string]int
}

// New starts a server with a single repository containing only the root folder.
func New(repoID, repoName string) *Server {
	s := &Server{
		repoID:   repoID,
		repoName: repoName,
		entries:  make(map[int]*repoapi.Entry),
		nextID:   RootID + 1,
		calls:    make(map[string]int),
		fields:   make(map[string][]repoapi.TemplateFieldInfo),
		failNext: make(map[string]int),
	}
	s.entries[RootID] = &repoapi.Entry{
		ID:          RootID,
		Name:        "",
		FullPath:    `\`,
		EntryType:   repoapi.EntryTypeFolder,
		IsContainer: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/Repositories", s.handleRepos)
	mux.HandleFunc("GET /v1/Repositories/{repo}/Entries/ByPath", s.handleByPath)
	mux.HandleFunc("GET /v1/Repositories/{repo}/Entries/{id}", s.handleEntry)
	mux.HandleFunc("GET /v1/Repositories/{repo}/Entries/{id}/Laserfiche.Repository.Folder/children", s.handleChildren)
	mux.HandleFunc("POST /v1/Repositories/{repo}/Entries/{id}/Laserfiche.Repository.Folder/children", s.handleCreateChild)
	mux.HandleFunc("POST /v1/Repositories/{repo}/Entries/{id}/{fileName}", s.handleImport)
	mux.HandleFunc("GET /v1/Repositories/{repo}/TemplateDefinitions/Fields", s.handleTemplateFields)
	s.Server = httptest.NewServer(mux)
	return s
}

// RequireToken makes every request fail with 401 unless it carries this bearer token.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetNoRepositories makes the repository listing return an empty list.
func (s *Server) SetNoRepositories(empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noRepos = empty
}

// FailNext makes the next n calls of op fail with 500.
func (s *Server) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = n
}

// SetTemplateFields registers field definitions for a template.
func (s *Server) SetTemplateFields(template string, fields []repoapi.TemplateFieldInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[template] = fields
}

// AddFolder creates a folder under parentID.
func (s *Server) AddFolder(parentID int, name string) *repoapi.Entry {
	return s.add(parentID, name, repoapi.EntryTypeFolder, nil)
}

// AddDocument creates a document under parentID.
func (s *Server) AddDocument(parentID int, name string) *repoapi.Entry {
	return s.add(parentID, name, repoapi.EntryTypeDocument, nil)
}

// AddShortcut creates a shortcut under parentID pointing at target.
func (s *Server) AddShortcut(parentID int, name string, target *repoapi.Entry) *repoapi.Entry {
	return s.add(parentID, name, repoapi.EntryTypeShortcut, target)
}

func (s *Server) add(parentID int, name string, typ repoapi.EntryType, target *repoapi.Entry) *repoapi.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(parentID, name, typ, target)
}

func (s *Server) addLocked(parentID int, name string, typ repoapi.EntryType, target *repoapi.Entry) *repoapi.Entry {
	parent := s.entries[parentID]
	path := `\` + name
	if parent != nil && parent.FullPath != `\` {
		path = parent.FullPath + `\` + name
	}
	e := &repoapi.Entry{
		ID:           s.nextID,
		Name:         name,
		ParentID:     parentID,
		FullPath:     path,
		EntryType:    typ,
		IsContainer:  typ != repoapi.EntryTypeDocument,
		IsLeaf:       typ == repoapi.EntryTypeDocument,
		Creator:      "tester",
		CreationTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if target != nil {
		e.TargetID = target.ID
		e.TargetType = target.EntryType
	}
	s.entries[e.ID] = e
	s.nextID++
	cp := *e
	return &cp
}

// Calls returns how many times op was requested.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Imports returns the imports received so far.
func (s *Server) Imports() []Import {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Import, len(s.imports))
	copy(out, s.imports)
	return out
}

// Entry returns a copy of the entry with id, or nil.
func (s *Server) Entry(id int) *repoapi.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Client returns an API client pinned to this server.
func (s *Server) Client(handler repoapi.RequestHandler) *repoapi.Client {
	return repoapi.New(repoapi.Config{BaseURL: s.URL}, handler)
}

// begin counts the call and reports whether the request may proceed.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, op string) bool {
	s.mu.Lock()
	s.calls[op]++
	token := s.token
	fail := s.failNext[op]
	if fail > 0 {
		s.failNext[op] = fail - 1
	}
	s.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "")
		return false
	}
	if fail > 0 {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "injected failure")
		return false
	}
	if repo := r.PathValue("repo"); repo != "" && repo != s.repoID {
		writeProblem(w, http.StatusNotFound, "Repository not found", repo)
		return false
	}
	return true
}

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "list_repositories") {
		return
	}
	s.mu.Lock()
	repos := []repoapi.Repository{{RepoID: s.repoID, RepoName: s.repoName}}
	if s.noRepos {
		repos = []repoapi.Repository{}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleByPath(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "get_entry_by_path") {
		return
	}
	path := r.URL.Query().Get("fullPath")
	s.mu.Lock()
	var found *repoapi.Entry
	for _, e := range s.entries {
		if strings.EqualFold(e.FullPath, path) {
			cp := *e
			found = &cp
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		writeProblem(w, http.StatusNotFound, "Entry not found", path)
		return
	}
	writeJSON(w, http.StatusOK, repoapi.FindEntryResult{Entry: found})
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "get_entry") {
		return
	}
	e := s.lookup(r.PathValue("id"))
	if e == nil {
		writeProblem(w, http.StatusNotFound, "Entry not found", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "list_children") {
		return
	}
	id, _ := strconv.Atoi(r.PathValue("id"))
	s.mu.Lock()
	children := []repoapi.Entry{}
	for i := RootID; i < s.nextID; i++ {
		if e, ok := s.entries[i]; ok && e.ParentID == id && e.ID != RootID {
			children = append(children, *e)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, repoapi.EntryList{Value: children})
}

func (s *Server) handleCreateChild(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "create_child") {
		return
	}
	parent := s.lookup(r.PathValue("id"))
	if parent == nil || !parent.IsContainer {
		writeProblem(w, http.StatusNotFound, "Parent folder not found", r.PathValue("id"))
		return
	}
	var req repoapi.PostEntryChildrenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "name is required")
		return
	}
	s.mu.Lock()
	for _, e := range s.entries {
		if e.ParentID == parent.ID && strings.EqualFold(e.Name, req.Name) {
			s.mu.Unlock()
			writeProblem(w, http.StatusConflict, "Entry already exists", req.Name)
			return
		}
	}
	created := s.addLocked(parent.ID, req.Name, req.EntryType, nil)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "import_document") {
		return
	}
	parent := s.lookup(r.PathValue("id"))
	if parent == nil || parent.EntryType != repoapi.EntryTypeFolder {
		writeProblem(w, http.StatusNotFound, "Parent folder not found", r.PathValue("id"))
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid multipart body", err.Error())
		return
	}
	file, hdr, err := r.FormFile("electronicDocument")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Missing electronic document", err.Error())
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	imp := Import{
		RepoID:        r.PathValue("repo"),
		ParentEntryID: parent.ID,
		FileName:      r.PathValue("fileName"),
		AutoRename:    r.URL.Query().Get("autoRename") == "true",
		DocumentName:  hdr.Filename,
		Data:          data,
	}
	if raw := r.FormValue("request"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &imp.Request); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid request part", err.Error())
			return
		}
	}

	s.mu.Lock()
	s.imports = append(s.imports, imp)
	doc := s.addLocked(parent.ID, imp.FileName, repoapi.EntryTypeDocument, nil)
	s.mu.Unlock()

	var result repoapi.CreateEntryResult
	result.Operations.EntryCreate.EntryID = doc.ID
	result.Operations.SetTemplate.Template = imp.Request.Template
	if imp.Request.Metadata != nil {
		result.Operations.SetFields.FieldCount = len(imp.Request.Metadata.Fields)
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTemplateFields(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "list_template_fields") {
		return
	}
	name := r.URL.Query().Get("templateName")
	s.mu.Lock()
	fields, ok := s.fields[name]
	s.mu.Unlock()
	if !ok {
		writeProblem(w, http.StatusNotFound, "Template not found", name)
		return
	}
	writeJSON(w, http.StatusOK, repoapi.TemplateFieldList{Value: fields})
}

func (s *Server) lookup(idStr string) *repoapi.Entry {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, code int, title, detail string) {
	writeJSON(w, code, repoapi.APIError{Status: code, Title: title, Detail: detail})
}
