// Package repoapi provides an HTTP client for the document repository REST API.
package repoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is used when Config.BaseURL is empty. Its host is replaced
// by the regional domain reported by the RequestHandler.
const DefaultBaseURL = "https://api.laserfiche.com/repository"

// RequestHandler decorates every outgoing request and inspects every response.
type RequestHandler interface {
	// BeforeFetch is called before each attempt. It may set headers and
	// returns the regional domain the request should be sent to ("" keeps
	// the configured host).
	BeforeFetch(ctx context.Context, req *http.Request) (regionalDomain string, err error)
	// AfterFetch is called with each response. Returning true re-issues the
	// request once. IsRetry(ctx) reports whether resp belongs to that second
	// attempt.
	AfterFetch(ctx context.Context, resp *http.Response) (retry bool)
}

type retryKey struct{}

// IsRetry reports whether ctx belongs to the re-issued attempt of a request.
func IsRetry(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}

// ObserveFunc receives the outcome of each API operation.
type ObserveFunc func(op string, status int, duration time.Duration)

// Config holds client configuration.
type Config struct {
	// BaseURL pins the API root. When empty, DefaultBaseURL is used and the
	// host follows the regional domain.
	BaseURL string
	Timeout time.Duration
	Observe ObserveFunc
}

// Client is the repository API client.
type Client struct {
	baseURL    string
	regional   bool
	httpClient *http.Client
	handler    RequestHandler
	observe    ObserveFunc
}

// New creates a new client. handler may be nil for unauthenticated use.
func New(cfg Config, handler RequestHandler) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	regional := false
	if base == "" {
		base = DefaultBaseURL
		regional = true
	}

	return &Client{
		baseURL:  base,
		regional: regional,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		handler: handler,
		observe: cfg.Observe,
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListRepositories returns the repositories visible to the caller.
func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	if err := c.send(ctx, "list_repositories", http.MethodGet, "/v1/Repositories", nil, nil, "", &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// GetEntry returns a single entry by id.
func (c *Client) GetEntry(ctx context.Context, repoID string, entryID int) (*Entry, error) {
	var entry Entry
	path := entriesPath(repoID) + "/" + strconv.Itoa(entryID)
	if err := c.send(ctx, "get_entry", http.MethodGet, path, nil, nil, "", &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntryByPath looks up an entry by its full repository path.
func (c *Client) GetEntryByPath(ctx context.Context, repoID, fullPath string) (*FindEntryResult, error) {
	q := url.Values{}
	q.Set("fullPath", fullPath)
	q.Set("fallbackToClosestAncestor", "false")

	var result FindEntryResult
	if err := c.send(ctx, "get_entry_by_path", http.MethodGet, entriesPath(repoID)+"/ByPath", q, nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListChildren returns all children of a folder, following next links.
func (c *Client) ListChildren(ctx context.Context, repoID string, entryID int) ([]Entry, error) {
	path := folderChildrenPath(repoID, entryID)
	var all []Entry
	for path != "" {
		var page EntryList
		if err := c.send(ctx, "list_children", http.MethodGet, path, nil, nil, "", &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		path = page.NextLink
	}
	return all, nil
}

// CreateChild creates a folder (or shortcut) under parentID.
func (c *Client) CreateChild(ctx context.Context, repoID string, parentID int, req PostEntryChildrenRequest, autoRename bool) (*Entry, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("autoRename", strconv.FormatBool(autoRename))

	var entry Entry
	if err := c.send(ctx, "create_child", http.MethodPost, folderChildrenPath(repoID, parentID), q, body, "application/json", &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ImportDocument uploads an electronic document with metadata into a folder.
// The document is buffered so the request can be re-issued after a token refresh.
func (c *Client) ImportDocument(ctx context.Context, p ImportDocumentParams) (*CreateEntryResult, error) {
	if p.ElectronicDocument.Data == nil {
		return nil, fmt.Errorf("import_document: electronic document is required")
	}
	body, contentType, err := encodeImport(p)
	if err != nil {
		return nil, fmt.Errorf("import_document: %w", err)
	}

	path := fmt.Sprintf("%s/%d/%s", entriesPath(p.RepoID), p.ParentEntryID, url.PathEscape(p.FileName))
	q := url.Values{}
	q.Set("autoRename", strconv.FormatBool(p.AutoRename))

	var result CreateEntryResult
	if err := c.send(ctx, "import_document", http.MethodPost, path, q, body, contentType, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTemplateFields returns the field definitions of a template.
func (c *Client) ListTemplateFields(ctx context.Context, repoID, templateName string) ([]TemplateFieldInfo, error) {
	q := url.Values{}
	q.Set("templateName", templateName)

	var list TemplateFieldList
	path := "/v1/Repositories/" + url.PathEscape(repoID) + "/TemplateDefinitions/Fields"
	if err := c.send(ctx, "list_template_fields", http.MethodGet, path, q, nil, "", &list); err != nil {
		return nil, err
	}
	return list.Value, nil
}

func encodeImport(p ImportDocumentParams) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("electronicDocument", p.ElectronicDocument.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, p.ElectronicDocument.Data); err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}

	req := p.Request
	if req == nil {
		req = &PostEntryWithEdocMetadataRequest{}
	}
	meta, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="request"`)
	h.Set("Content-Type", "application/json")
	reqPart, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := reqPart.Write(meta); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// send performs one API operation. body is re-read on every attempt.
func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body []byte, contentType string, out any) error {
	start := time.Now()
	status := 0
	defer func() {
		if c.observe != nil {
			c.observe(op, status, time.Since(start))
		}
	}()

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}

	attemptCtx := ctx
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			attemptCtx = context.WithValue(ctx, retryKey{}, true)
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		if c.handler != nil {
			domain, err := c.handler.BeforeFetch(attemptCtx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if domain != "" && c.regional {
				req.URL.Host = "api." + domain
				req.Host = ""
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		status = resp.StatusCode

		if c.handler != nil && c.handler.AfterFetch(attemptCtx, resp) && attempt == 0 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{}
	if json.Unmarshal(data, apiErr) != nil || (apiErr.Title == "" && apiErr.Detail == "") {
		apiErr = &APIError{Title: strings.TrimSpace(string(data))}
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}

func entriesPath(repoID string) string {
	return "/v1/Repositories/" + url.PathEscape(repoID) + "/Entries"
}

func folderChildrenPath(repoID string, entryID int) string {
	return fmt.Sprintf("%s/%d/Laserfiche.Repository.Folder/children", entriesPath(repoID), entryID)
}
