// Package browser navigates the repository folder tree and turns the opened
// folder into a save destination.
package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/weburl"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

var (
	ErrNotInitialized  = errors.New("folder browser is not initialized")
	ErrNotContainer    = errors.New("entry cannot be opened")
	ErrNothingSelected = errors.New("no entry selected")
	ErrNotSelectable   = errors.New("entry cannot be selected as a folder")
)

// SelectedFolder is a confirmed save destination.
type SelectedFolder struct {
	Path         string `json:"path"`
	EntryID      int    `json:"entryId"`
	DisplayName  string `json:"displayName"`
	WebAccessURL string `json:"webAccessUrl"`
}

// Browser tracks the opened folder, its listing, the highlighted entries
// and the displayed columns. It is safe for concurrent use; repository calls
// are made without holding the lock.
type Browser struct {
	tree *TreeService

	mu          sync.Mutex
	current     *Node
	items       []Node
	highlighted []Node
	columns     []ColumnDef
}

// New creates a browser over tree. Nothing is loaded until Init.
func New(tree *TreeService) *Browser {
	return &Browser{
		tree:    tree,
		columns: DefaultColumns(),
	}
}

// Tree returns the underlying tree service.
func (b *Browser) Tree() *TreeService {
	return b.tree
}

// Initialized reports whether Init has succeeded.
func (b *Browser) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// Init opens startPath, or the root when startPath is empty or cannot be found.
func (b *Browser) Init(ctx context.Context, startPath string) error {
	var start *Node
	if startPath != "" {
		n, err := b.tree.NodeByPath(ctx, startPath)
		if err != nil {
			logging.WithContext(ctx).Debug("start folder unavailable, opening root",
				zap.String("path", startPath), zap.Error(err))
		} else if n.IsContainer {
			start = n
		}
	}
	if start == nil {
		root, err := b.tree.Root(ctx)
		if err != nil {
			return err
		}
		start = root
	}
	return b.Open(ctx, *start)
}

// Open makes node the current folder and lists its children.
func (b *Browser) Open(ctx context.Context, node Node) error {
	if !node.IsContainer {
		return fmt.Errorf("open %q: %w", node.Path, ErrNotContainer)
	}
	items, err := b.tree.Children(ctx, &node)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = &node
	b.items = items
	b.highlighted = nil
	return nil
}

// OpenPath opens the folder at path.
func (b *Browser) OpenPath(ctx context.Context, path string) error {
	node, err := b.tree.NodeByPath(ctx, path)
	if err != nil {
		return err
	}
	return b.Open(ctx, *node)
}

// Up opens the parent of the current folder. At the root it does nothing.
func (b *Browser) Up(ctx context.Context) error {
	cur := b.CurrentFolder()
	if cur == nil {
		return ErrNotInitialized
	}
	if cur.Path == `\` || cur.Path == "" {
		return nil
	}
	return b.OpenPath(ctx, ParentPath(cur.Path))
}

// Refresh reloads the listing of the current folder.
func (b *Browser) Refresh(ctx context.Context) error {
	cur := b.CurrentFolder()
	if cur == nil {
		return ErrNotInitialized
	}
	return b.Open(ctx, *cur)
}

// CurrentFolder returns a copy of the opened folder, or nil.
func (b *Browser) CurrentFolder() *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	n := *b.current
	return &n
}

// Items returns the listing of the current folder.
func (b *Browser) Items() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.items)
}

// Select highlights the listed entries with the given ids. Unknown ids are
// ignored; no ids clears the highlight.
func (b *Browser) Select(ids ...string) []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.highlighted = nil
	for _, id := range ids {
		for _, n := range b.items {
			if n.ID == id {
				b.highlighted = append(b.highlighted, n)
				break
			}
		}
	}
	return slices.Clone(b.highlighted)
}

// Highlighted returns the highlighted entries.
func (b *Browser) Highlighted() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.highlighted)
}

// OpenSelected opens the first highlighted entry.
func (b *Browser) OpenSelected(ctx context.Context) error {
	sel := b.Highlighted()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	return b.Open(ctx, sel[0])
}

// SetColumnsToDisplay replaces the displayed columns.
func (b *Browser) SetColumnsToDisplay(cols []ColumnDef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.columns = slices.Clone(cols)
}

// Columns returns the displayed columns.
func (b *Browser) Columns() []ColumnDef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.columns)
}

// Confirm turns the opened folder into a SelectedFolder. Shortcuts resolve
// to their target.
func (b *Browser) Confirm(repoID, webClientURL string) (SelectedFolder, error) {
	cur := b.CurrentFolder()
	if cur == nil {
		return SelectedFolder{}, ErrNotInitialized
	}
	if !IsSelectable(*cur) {
		return SelectedFolder{}, fmt.Errorf("select %q: %w", cur.Path, ErrNotSelectable)
	}
	id, err := EffectiveEntryID(*cur)
	if err != nil {
		return SelectedFolder{}, err
	}
	link, _ := weburl.EntryWebAccessURL(strconv.Itoa(id), repoID, webClientURL, cur.IsContainer)
	return SelectedFolder{
		Path:         cur.Path,
		EntryID:      id,
		DisplayName:  FolderDisplayName(id, cur.Path, ""),
		WebAccessURL: link,
	}, nil
}

// IsSelectable reports whether node can be picked as a destination: a
// folder, or a shortcut to a folder.
func IsSelectable(node Node) bool {
	switch node.EntryType {
	case repoapi.EntryTypeFolder:
		return true
	case repoapi.EntryTypeShortcut:
		return node.TargetType == repoapi.EntryTypeFolder
	}
	return false
}

// EffectiveEntryID returns the id operations on node should use: the target
// of a shortcut, otherwise the node's own id.
func EffectiveEntryID(node Node) (int, error) {
	if node.EntryType == repoapi.EntryTypeShortcut && node.TargetID != 0 {
		return node.TargetID, nil
	}
	id, err := strconv.Atoi(node.ID)
	if err != nil {
		return 0, fmt.Errorf("invalid entry id %q: %w", node.ID, err)
	}
	return id, nil
}

// FolderDisplayName returns the label for a selected folder: placeholder
// for an empty path, the path itself when entryID is 0, otherwise the last
// path segment (a lone backslash for the root).
func FolderDisplayName(entryID int, path, placeholder string) string {
	if path == "" {
		return placeholder
	}
	if entryID == 0 {
		return path
	}
	if base := LastPathSegment(path); base != "" {
		return base
	}
	return `\`
}
