// Package app holds the state behind the upload screen and the handlers for
// every user action on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/browser"
	"github.com/repodrop/repodrop/internal/dialogs"
	"github.com/repodrop/repodrop/internal/i18n"
	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metadata"
	"github.com/repodrop/repodrop/internal/session"
	"github.com/repodrop/repodrop/internal/upload"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

// Toolbar option names.
const (
	ToolbarRefresh          = "Refresh"
	ToolbarNewFolder        = "New Folder"
	ToolbarAddRemoveColumns = "Add/Remove Columns"
)

var (
	ErrUnknownToolbarOption = errors.New("unknown toolbar option")
	ErrBrowserClosed        = errors.New("folder browser has not been opened")
	ErrNoDialog             = errors.New("dialog is not open")
)

// Repository is the repository client the controller drives.
type Repository interface {
	browser.Repository
	upload.Repository
	metadata.TemplateSource
	CreateChild(ctx context.Context, repoID string, parentID int, req repoapi.PostEntryChildrenRequest, autoRename bool) (*repoapi.Entry, error)
	ClearCurrentRepo()
}

// Auth reports the sign-in state.
type Auth interface {
	IsLoggedIn() bool
	Endpoints() session.AccountEndpoints
}

// Notifier shows blocking messages to the user.
type Notifier interface {
	Alert(ctx context.Context, msg string)
}

// Options configures a Controller.
type Options struct {
	Auth     Auth
	Repo     Repository
	Journal  upload.Journal // optional
	Notifier Notifier       // optional
	Locale   string
	// ViewDocuments lists documents in the browser next to folders.
	ViewDocuments bool
}

// ToolbarOption is one browser toolbar button.
type ToolbarOption struct {
	Name     string `json:"name"`
	Disabled bool   `json:"disabled"`
}

// Controller owns the screen state. Handlers may be called from any
// goroutine; the lock guards state only and is never held across a
// repository call. Overlapping saves are not deduplicated.
type Controller struct {
	auth          Auth
	repo          Repository
	saver         *upload.Saver
	notifier      Notifier
	loc           *i18n.Localizer
	viewDocuments bool

	mu             sync.Mutex
	browser        *browser.Browser
	expanded       bool
	entrySelected  *browser.Node
	selectedFolder *browser.SelectedFolder
	selectedFile   *upload.File
	columns        []browser.ColumnDef
	form           *metadata.Form
	newFolder      *dialogs.NewFolderDialog
	editColumns    *dialogs.EditColumnsDialog
}

// New creates a controller. Call OnLoginCompleted once signed in.
func New(opts Options) *Controller {
	n := opts.Notifier
	if n == nil {
		n = LogNotifier{}
	}
	return &Controller{
		auth:          opts.Auth,
		repo:          opts.Repo,
		saver:         upload.NewSaver(opts.Repo, opts.Journal),
		notifier:      n,
		loc:           i18n.New(opts.Locale),
		viewDocuments: opts.ViewDocuments,
		columns:       browser.DefaultColumns(),
		form:          metadata.NewForm(),
	}
}

// Localizer returns the controller's string table.
func (c *Controller) Localizer() *i18n.Localizer {
	return c.loc
}

// Form returns the metadata form filled before save.
func (c *Controller) Form() *metadata.Form {
	return c.form
}

// OnLoginCompleted prepares the folder browser for the signed-in user.
func (c *Controller) OnLoginCompleted(ctx context.Context) error {
	if !c.auth.IsLoggedIn() {
		return session.ErrNotLoggedIn
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		tree := browser.NewTreeService(c.repo)
		if c.viewDocuments {
			tree.ViewableEntryTypes = append(tree.ViewableEntryTypes, repoapi.EntryTypeDocument)
		}
		tree.ColumnIDs = browser.ColumnIDs(browser.AllColumns())
		c.browser = browser.New(tree)
	}
	logging.WithContext(ctx).Debug("login completed")
	return nil
}

// OnLogoutCompleted forgets the current repository and closes the browser.
// The selected folder and file are kept.
func (c *Controller) OnLogoutCompleted(ctx context.Context) {
	c.repo.ClearCurrentRepo()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.browser = nil
	c.expanded = false
	c.entrySelected = nil
	c.newFolder = nil
	c.editColumns = nil
	logging.WithContext(ctx).Debug("logout completed")
}

// OnClickBrowse expands the folder browser, opening the previously selected
// folder when there is one.
func (c *Controller) OnClickBrowse(ctx context.Context) error {
	c.mu.Lock()
	b := c.browser
	start := ""
	if c.selectedFolder != nil {
		start = c.selectedFolder.Path
	}
	cols := slices.Clone(c.columns)
	c.mu.Unlock()

	if b == nil {
		return c.fail(ctx, session.ErrNotLoggedIn)
	}
	if err := b.Init(ctx, start); err != nil {
		return c.fail(ctx, err)
	}
	b.SetColumnsToDisplay(cols)

	c.mu.Lock()
	c.expanded = true
	c.entrySelected = nil
	c.mu.Unlock()
	return nil
}

// OnSelectFolder confirms the opened folder as the save destination.
func (c *Controller) OnSelectFolder(ctx context.Context) error {
	b, err := c.openBrowser()
	if err != nil {
		return c.fail(ctx, err)
	}
	repoID, err := c.repo.CurrentRepoID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	sf, err := b.Confirm(repoID, c.auth.Endpoints().WebClientURL)
	if err != nil {
		return c.fail(ctx, err)
	}

	c.mu.Lock()
	c.expanded = false
	c.entrySelected = nil
	c.selectedFolder = &sf
	c.mu.Unlock()

	logging.WithContext(ctx).Info("folder selected",
		zap.String("path", sf.Path),
		zap.Int("entry_id", sf.EntryID))
	return nil
}

// OnFolderBrowserCancel collapses the browser without changing the selection.
func (c *Controller) OnFolderBrowserCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = false
}

// OnEntrySelected highlights listed entries. The first one becomes the entry
// that Open acts on.
func (c *Controller) OnEntrySelected(ids ...string) error {
	b, err := c.openBrowser()
	if err != nil {
		return err
	}
	nodes := b.Select(ids...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entrySelected = nil
	if len(nodes) > 0 {
		n := nodes[0]
		c.entrySelected = &n
	}
	return nil
}

// OnOpenNode opens the highlighted entry.
func (c *Controller) OnOpenNode(ctx context.Context) error {
	b, err := c.openBrowser()
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := b.OpenSelected(ctx); err != nil {
		return c.fail(ctx, err)
	}
	c.mu.Lock()
	c.entrySelected = nil
	c.mu.Unlock()
	return nil
}

// OpenFolder opens the folder at path in the browser.
func (c *Controller) OpenFolder(ctx context.Context, path string) error {
	b, err := c.openBrowser()
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := b.OpenPath(ctx, path); err != nil {
		return c.fail(ctx, err)
	}
	c.clearEntrySelected()
	return nil
}

// OnFolderUp opens the parent of the current folder.
func (c *Controller) OnFolderUp(ctx context.Context) error {
	b, err := c.openBrowser()
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := b.Up(ctx); err != nil {
		return c.fail(ctx, err)
	}
	c.clearEntrySelected()
	return nil
}

// ToolbarOptions lists the browser toolbar.
func (c *Controller) ToolbarOptions() []ToolbarOption {
	return []ToolbarOption{
		{Name: ToolbarRefresh},
		{Name: ToolbarNewFolder},
		{Name: ToolbarAddRemoveColumns},
	}
}

// OnToolbarOption runs the handler of the named toolbar option.
func (c *Controller) OnToolbarOption(ctx context.Context, name string) error {
	switch name {
	case ToolbarRefresh:
		b, err := c.openBrowser()
		if err != nil {
			return c.fail(ctx, err)
		}
		if err := b.Refresh(ctx); err != nil {
			return c.fail(ctx, err)
		}
		c.clearEntrySelected()
		return nil
	case ToolbarNewFolder:
		c.OpenNewFolderDialog()
		return nil
	case ToolbarAddRemoveColumns:
		c.OpenEditColumnsDialog()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownToolbarOption, name)
}

// OpenNewFolderDialog opens the new-folder dialog. Confirming it calls
// MakeNewFolder.
func (c *Controller) OpenNewFolderDialog() *dialogs.NewFolderDialog {
	d := dialogs.NewNewFolderDialog(c.loc, c.MakeNewFolder)
	c.mu.Lock()
	c.newFolder = d
	c.mu.Unlock()
	return d
}

// OpenEditColumnsDialog opens the column picker over the current columns.
// Confirming it calls UpdateColumns.
func (c *Controller) OpenEditColumnsDialog() *dialogs.EditColumnsDialog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editColumns = dialogs.NewEditColumnsDialog(c.loc, c.columns, browser.AllColumns(), c.UpdateColumns)
	return c.editColumns
}

// NewFolderDialog returns the open new-folder dialog.
func (c *Controller) NewFolderDialog() (*dialogs.NewFolderDialog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newFolder == nil || !c.newFolder.IsOpen() {
		return nil, ErrNoDialog
	}
	return c.newFolder, nil
}

// EditColumnsDialog returns the open edit-columns dialog.
func (c *Controller) EditColumnsDialog() (*dialogs.EditColumnsDialog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editColumns == nil || !c.editColumns.IsOpen() {
		return nil, ErrNoDialog
	}
	return c.editColumns, nil
}

// MakeNewFolder creates folderName inside the opened folder (or the target
// of an opened shortcut) and refreshes the listing. Errors are returned
// for the dialog to show and are not sent to the notifier.
func (c *Controller) MakeNewFolder(ctx context.Context, folderName string) error {
	if folderName == "" {
		return errors.New(c.loc.Get(i18n.PleaseProvideFolderName))
	}
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return errors.New(c.loc.Get(i18n.NoCurrentlyOpenedFolder))
	}
	cur := b.CurrentFolder()
	if cur == nil {
		return errors.New(c.loc.Get(i18n.NoCurrentlyOpenedFolder))
	}

	parentID, err := browser.EffectiveEntryID(*cur)
	if err != nil {
		return err
	}
	repoID, err := c.repo.CurrentRepoID(ctx)
	if err != nil {
		return err
	}
	if _, err := c.repo.CreateChild(ctx, repoID, parentID, repoapi.PostEntryChildrenRequest{
		Name:      folderName,
		EntryType: repoapi.EntryTypeFolder,
	}, false); err != nil {
		return err
	}
	logging.WithContext(ctx).Info("folder created",
		zap.String("parent", cur.Path),
		zap.String("name", folderName))
	return b.Refresh(ctx)
}

// UpdateColumns replaces the displayed columns.
func (c *Controller) UpdateColumns(cols []browser.ColumnDef) {
	c.mu.Lock()
	c.columns = slices.Clone(cols)
	b := c.browser
	c.mu.Unlock()
	if b != nil {
		b.SetColumnsToDisplay(cols)
	}
}

// SelectFile replaces the selected file. An empty name clears it.
func (c *Controller) SelectFile(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		c.selectedFile = nil
		return
	}
	f := upload.NewFile(name, data)
	c.selectedFile = &f
}

// ClearFileSelected drops the selected file.
func (c *Controller) ClearFileSelected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedFile = nil
}

// EnableSave reports whether both a file and a folder are selected.
func (c *Controller) EnableSave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedFile != nil && c.selectedFolder != nil
}

// LoadTemplate applies the named template to the metadata form. An empty
// name removes the template.
func (c *Controller) LoadTemplate(ctx context.Context, name string) error {
	if name == "" {
		c.form.SetTemplate("", nil)
		return nil
	}
	repoID, err := c.repo.CurrentRepoID(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := c.form.LoadTemplate(ctx, c.repo, repoID, name); err != nil {
		return c.fail(ctx, err)
	}
	return nil
}

// OnClickSave validates the metadata form and imports the selected file
// into the selected folder. The outcome is sent to the notifier; state is
// left unchanged either way.
func (c *Controller) OnClickSave(ctx context.Context) (*upload.Result, error) {
	if !c.form.ForceValidation() {
		logging.WithContext(ctx).Warn("metadata invalid")
		c.notifier.Alert(ctx, c.loc.Get(i18n.InvalidMetadata))
		return nil, upload.ErrInvalidMetadata
	}

	c.mu.Lock()
	req := upload.Request{Metadata: c.form}
	if c.selectedFolder != nil {
		sf := *c.selectedFolder
		req.Folder = &sf
	}
	if c.selectedFile != nil {
		req.File = *c.selectedFile
	}
	c.mu.Unlock()

	res, err := c.saver.Save(ctx, req)
	if err != nil {
		if errors.Is(err, upload.ErrInvalidMetadata) {
			c.notifier.Alert(ctx, c.loc.Get(i18n.InvalidMetadata))
			return nil, err
		}
		logging.WithContext(ctx).Error("save failed", zap.Error(err))
		c.notifier.Alert(ctx, fmt.Sprintf("%s: %s", c.loc.Get(i18n.ErrorSaving), err.Error()))
		return nil, err
	}
	c.notifier.Alert(ctx, c.loc.Get(i18n.SaveSucceeded))
	return res, nil
}

// ShouldShowOpen reports whether an entry is highlighted.
func (c *Controller) ShouldShowOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entrySelected != nil
}

// ShouldShowSelect reports whether the opened folder can be confirmed,
// which is when nothing is highlighted.
func (c *Controller) ShouldShowSelect() bool {
	c.mu.Lock()
	b := c.browser
	highlighted := c.entrySelected != nil
	c.mu.Unlock()
	return !highlighted && b != nil && b.CurrentFolder() != nil
}

// SelectedFolderDisplayName is the label shown for the destination.
func (c *Controller) SelectedFolderDisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedFolder == nil {
		return c.loc.Get(i18n.FolderBrowserPlaceholder)
	}
	return c.selectedFolder.DisplayName
}

func (c *Controller) openBrowser() (*browser.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil || !c.browser.Initialized() {
		return nil, ErrBrowserClosed
	}
	return c.browser, nil
}

func (c *Controller) clearEntrySelected() {
	c.mu.Lock()
	c.entrySelected = nil
	c.mu.Unlock()
}

// fail reports err to the user and returns it.
func (c *Controller) fail(ctx context.Context, err error) error {
	logging.WithContext(ctx).Warn("action failed", zap.Error(err))
	c.notifier.Alert(ctx, err.Error())
	return err
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Alert(ctx context.Context, msg string) {
	logging.WithContext(ctx).Info("alert", zap.String("message", msg))
}
