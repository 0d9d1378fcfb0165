package browser

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/repodrop/repodrop/pkg/repoapi"
)

// RootEntryID is the entry id of every repository's root folder.
const RootEntryID = 1

// Repository is what the tree needs from the repository client.
type Repository interface {
	CurrentRepoID(ctx context.Context) (string, error)
	CurrentRepoName(ctx context.Context) (string, error)
	GetEntry(ctx context.Context, repoID string, entryID int) (*repoapi.Entry, error)
	GetEntryByPath(ctx context.Context, repoID, fullPath string) (*repoapi.FindEntryResult, error)
	ListChildren(ctx context.Context, repoID string, entryID int) ([]repoapi.Entry, error)
}

// Node is one entry as shown in the browser.
type Node struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	EntryType   repoapi.EntryType `json:"entryType"`
	IsContainer bool              `json:"isContainer"`
	IsLeaf      bool              `json:"isLeaf"`
	TargetID    int               `json:"targetId,omitempty"`
	TargetType  repoapi.EntryType `json:"targetType,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// TreeService loads browser nodes from the repository.
type TreeService struct {
	repo Repository

	// ViewableEntryTypes limits which entries are listed. Shortcuts are
	// listed only when their target type is viewable too.
	ViewableEntryTypes []repoapi.EntryType
	// ColumnIDs selects which attributes are filled on each node.
	ColumnIDs []string
}

// NewTreeService creates a tree over folders and shortcuts.
func NewTreeService(repo Repository) *TreeService {
	return &TreeService{
		repo:               repo,
		ViewableEntryTypes: []repoapi.EntryType{repoapi.EntryTypeFolder, repoapi.EntryTypeShortcut},
		ColumnIDs:          ColumnIDs(DefaultColumns()),
	}
}

// Root returns the repository root folder, named after the repository.
func (t *TreeService) Root(ctx context.Context) (*Node, error) {
	repoID, err := t.repo.CurrentRepoID(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := t.repo.GetEntry(ctx, repoID, RootEntryID)
	if err != nil {
		return nil, fmt.Errorf("load root folder: %w", err)
	}
	node := t.node(*entry, `\`)
	if name, err := t.repo.CurrentRepoName(ctx); err == nil {
		node.Name = name
	}
	return &node, nil
}

// Children lists the viewable children of parent. Children of a shortcut
// are those of its target.
func (t *TreeService) Children(ctx context.Context, parent *Node) ([]Node, error) {
	if parent == nil || !parent.IsContainer {
		return nil, fmt.Errorf("list children: node is not a container")
	}
	id, err := EffectiveEntryID(*parent)
	if err != nil {
		return nil, err
	}
	repoID, err := t.repo.CurrentRepoID(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := t.repo.ListChildren(ctx, repoID, id)
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		if !t.viewable(e) {
			continue
		}
		nodes = append(nodes, t.node(e, JoinPath(parent.Path, e.Name)))
	}
	return nodes, nil
}

// NodeByPath resolves a full repository path to a node.
func (t *TreeService) NodeByPath(ctx context.Context, path string) (*Node, error) {
	repoID, err := t.repo.CurrentRepoID(ctx)
	if err != nil {
		return nil, err
	}
	if path == "" || path == `\` {
		return t.Root(ctx)
	}
	res, err := t.repo.GetEntryByPath(ctx, repoID, path)
	if err != nil {
		return nil, err
	}
	if res.Entry == nil {
		return nil, fmt.Errorf("entry %q not found", path)
	}
	node := t.node(*res.Entry, path)
	return &node, nil
}

func (t *TreeService) viewable(e repoapi.Entry) bool {
	if !slices.Contains(t.ViewableEntryTypes, e.EntryType) {
		return false
	}
	if e.EntryType == repoapi.EntryTypeShortcut {
		return slices.Contains(t.ViewableEntryTypes, e.TargetType)
	}
	return true
}

func (t *TreeService) node(e repoapi.Entry, path string) Node {
	n := Node{
		ID:          strconv.Itoa(e.ID),
		Name:        e.Name,
		Path:        path,
		EntryType:   e.EntryType,
		IsContainer: e.EntryType == repoapi.EntryTypeFolder || (e.EntryType == repoapi.EntryTypeShortcut && e.TargetType == repoapi.EntryTypeFolder),
		IsLeaf:      e.EntryType == repoapi.EntryTypeDocument,
		TargetID:    e.TargetID,
		TargetType:  e.TargetType,
	}
	if len(t.ColumnIDs) > 0 {
		n.Attributes = make(map[string]string, len(t.ColumnIDs))
		for _, id := range t.ColumnIDs {
			n.Attributes[id] = attribute(e, id)
		}
	}
	return n
}

func attribute(e repoapi.Entry, column string) string {
	switch column {
	case "name":
		return e.Name
	case "creationTime":
		return formatTime(e.CreationTime)
	case "lastModifiedTime":
		return formatTime(e.LastModifiedTime)
	case "pageCount":
		if e.EntryType != repoapi.EntryTypeDocument {
			return ""
		}
		return strconv.Itoa(e.PageCount)
	case "templateName":
		return e.TemplateName
	case "creator":
		return e.Creator
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

// JoinPath appends name to a backslash-separated repository path.
func JoinPath(parent, name string) string {
	if parent == "" || parent == `\` {
		return `\` + name
	}
	return strings.TrimRight(parent, `\`) + `\` + name
}

// ParentPath returns the path of the folder containing path. The root is its
// own parent.
func ParentPath(path string) string {
	path = strings.TrimRight(path, `\`)
	i := strings.LastIndex(path, `\`)
	if i <= 0 {
		return `\`
	}
	return path[:i]
}

// LastPathSegment returns the text after the final backslash.
func LastPathSegment(path string) string {
	if i := strings.LastIndex(path, `\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
