package app

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/repodrop/repodrop/internal/i18n"
	"github.com/repodrop/repodrop/internal/repoclient"
	"github.com/repodrop/repodrop/internal/repotest"
	"github.com/repodrop/repodrop/internal/session"
	"github.com/repodrop/repodrop/internal/upload"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

type fakeAuth struct {
	loggedIn bool
}

func (a *fakeAuth) IsLoggedIn() bool { return a.loggedIn }

func (a *fakeAuth) Endpoints() session.AccountEndpoints {
	return session.AccountEndpoints{RegionalDomain: "laserfiche.com", WebClientURL: "https://app.laserfiche.com/laserfiche"}
}

type recorder struct {
	mu     sync.Mutex
	alerts []string
}

func (r *recorder) Alert(ctx context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.alerts) == 0 {
		return ""
	}
	return r.alerts[len(r.alerts)-1]
}

type env struct {
	srv      *repotest.Server
	ctrl     *Controller
	notes    *recorder
	clients  *repoapi.Entry
	shortcut *repoapi.Entry
	target   *repoapi.Entry
}

// newEnv builds \Clients\Acme as a shortcut to \Archive\Acme Corp and an
// Invoice template with a required Amount field.
func newEnv(t *testing.T) *env {
	t.Helper()
	srv := repotest.New("r1", "Main")
	t.Cleanup(srv.Close)

	e := &env{srv: srv, notes: &recorder{}}
	archive := srv.AddFolder(repotest.RootID, "Archive")
	e.target = srv.AddFolder(archive.ID, "Acme Corp")
	e.clients = srv.AddFolder(repotest.RootID, "Clients")
	e.shortcut = srv.AddShortcut(e.clients.ID, "Acme", e.target)
	srv.SetTemplateFields("Invoice", []repoapi.TemplateFieldInfo{
		{Name: "Amount", FieldType: "Number", IsRequired: true},
	})

	e.ctrl = New(Options{
		Auth:     &fakeAuth{loggedIn: true},
		Repo:     repoclient.New(srv.Client(nil)),
		Notifier: e.notes,
		Locale:   "en-US",
	})
	if err := e.ctrl.OnLoginCompleted(context.Background()); err != nil {
		t.Fatalf("login completed: %v", err)
	}
	return e
}

// pickAcme browses to \Clients, opens the Acme shortcut and confirms it.
func (e *env) pickAcme(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := e.ctrl.OnClickBrowse(ctx); err != nil {
		t.Fatalf("browse: %v", err)
	}
	if err := e.ctrl.OpenFolder(ctx, `\Clients`); err != nil {
		t.Fatalf("open clients: %v", err)
	}
	if err := e.ctrl.OnEntrySelected(strconv.Itoa(e.shortcut.ID)); err != nil {
		t.Fatalf("entry selected: %v", err)
	}
	if err := e.ctrl.OnOpenNode(ctx); err != nil {
		t.Fatalf("open node: %v", err)
	}
	if err := e.ctrl.OnSelectFolder(ctx); err != nil {
		t.Fatalf("select folder: %v", err)
	}
}

func TestOnLoginCompleted_RequiresLogin(t *testing.T) {
	srv := repotest.New("r1", "Main")
	defer srv.Close()
	c := New(Options{Auth: &fakeAuth{}, Repo: repoclient.New(srv.Client(nil))})
	if err := c.OnLoginCompleted(context.Background()); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
	if err := c.OnClickBrowse(context.Background()); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Errorf("expected browse to fail before login, got %v", err)
	}
}

func TestEnableSave(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl

	if c.EnableSave() {
		t.Error("expected save disabled with nothing selected")
	}
	c.SelectFile("report.pdf", []byte("x"))
	if c.EnableSave() {
		t.Error("expected save disabled without a folder")
	}
	e.pickAcme(t)
	if !c.EnableSave() {
		t.Error("expected save enabled with file and folder")
	}
	c.ClearFileSelected()
	if c.EnableSave() {
		t.Error("expected save disabled after clearing the file")
	}
	c.SelectFile("report.pdf", []byte("x"))
	c.SelectFile("", nil)
	if c.EnableSave() {
		t.Error("expected an empty file input to clear the selection")
	}
}

func TestSelectFolder_ResolvesShortcut(t *testing.T) {
	e := newEnv(t)
	if got := e.ctrl.SelectedFolderDisplayName(); got != "No folder selected" {
		t.Errorf("expected placeholder, got %q", got)
	}
	e.pickAcme(t)

	st := e.ctrl.Snapshot()
	sf := st.SelectedFolder
	if sf == nil {
		t.Fatal("expected a selected folder")
	}
	if sf.Path != `\Clients\Acme` || sf.DisplayName != "Acme" {
		t.Errorf("unexpected folder %+v", sf)
	}
	if sf.EntryID != e.target.ID {
		t.Errorf("expected target id %d, got %d", e.target.ID, sf.EntryID)
	}
	want := "https://app.laserfiche.com/laserfiche/Browse.aspx?repo=r1#?id=" + strconv.Itoa(e.target.ID)
	if sf.WebAccessURL != want {
		t.Errorf("expected %s, got %s", want, sf.WebAccessURL)
	}
	if st.Browser.Expanded {
		t.Error("expected browser collapsed after select")
	}
	if st.SelectedFolderDisplayName != "Acme" {
		t.Errorf("unexpected display name %q", st.SelectedFolderDisplayName)
	}
}

func TestOpenAndSelectAffordances(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	if c.ShouldShowSelect() || c.ShouldShowOpen() {
		t.Error("expected neither affordance before browsing")
	}
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatalf("browse: %v", err)
	}
	if !c.ShouldShowSelect() || c.ShouldShowOpen() {
		t.Error("expected Select with nothing highlighted")
	}
	if err := c.OnEntrySelected(strconv.Itoa(e.clients.ID)); err != nil {
		t.Fatal(err)
	}
	if c.ShouldShowSelect() || !c.ShouldShowOpen() {
		t.Error("expected Open with an entry highlighted")
	}
	c.OnEntrySelected()
	if !c.ShouldShowSelect() {
		t.Error("expected Select after clearing the highlight")
	}

	c.OnFolderBrowserCancel()
	if c.Snapshot().Browser.Expanded {
		t.Error("expected cancel to collapse the browser")
	}
	if c.Snapshot().SelectedFolder != nil {
		t.Error("expected cancel to leave the selection empty")
	}
}

func TestOnClickSave_EndToEnd(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	c.SelectFile("report.pdf", []byte("%PDF-1.7"))
	e.pickAcme(t)
	if err := c.LoadTemplate(ctx, "Invoice"); err != nil {
		t.Fatalf("load template: %v", err)
	}
	c.Form().Set("Amount", "12.50")

	res, err := c.OnClickSave(ctx)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	imports := e.srv.Imports()
	if len(imports) != 1 {
		t.Fatalf("expected exactly one import, got %d", len(imports))
	}
	imp := imports[0]
	if imp.FileName != "report" || imp.DocumentName != "report.pdf" || imp.ParentEntryID != e.target.ID {
		t.Errorf("unexpected import %+v", imp)
	}
	if imp.Request.Template != "Invoice" {
		t.Errorf("expected template Invoice, got %q", imp.Request.Template)
	}
	if res.ParentEntryID != e.target.ID {
		t.Errorf("unexpected result %+v", res)
	}
	if got := e.notes.last(); got != "Successfully saved document to Laserfiche" {
		t.Errorf("unexpected alert %q", got)
	}
	if !c.EnableSave() {
		t.Error("expected selection kept after save")
	}
}

func TestOnClickSave_InvalidMetadata(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	c.SelectFile("report.pdf", []byte("x"))
	e.pickAcme(t)
	if err := c.LoadTemplate(ctx, "Invoice"); err != nil {
		t.Fatalf("load template: %v", err)
	}

	_, err := c.OnClickSave(ctx)
	if !errors.Is(err, upload.ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}
	if got := e.notes.last(); got != "One or more fields is invalid. Please fix and try again" {
		t.Errorf("unexpected alert %q", got)
	}
	if e.srv.Calls("import_document") != 0 || e.srv.Calls("get_entry_by_path") != 1 {
		t.Errorf("expected no save calls, got import=%d by_path=%d",
			e.srv.Calls("import_document"), e.srv.Calls("get_entry_by_path"))
	}
	if errs := c.Snapshot().Metadata.Errors; errs["Amount"] == "" {
		t.Errorf("expected a field error for Amount, got %v", errs)
	}
}

func TestOnClickSave_Failure(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	c.SelectFile("report.pdf", []byte("x"))
	e.pickAcme(t)
	e.srv.FailNext("import_document", 1)

	if _, err := c.OnClickSave(ctx); err == nil {
		t.Fatal("expected error")
	}
	if got := e.notes.last(); !strings.HasPrefix(got, "Error Saving: ") {
		t.Errorf("unexpected alert %q", got)
	}
	if !c.EnableSave() {
		t.Error("expected state left unchanged after a failure")
	}

	if _, err := c.OnClickSave(ctx); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestMakeNewFolder(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	if err := c.MakeNewFolder(ctx, ""); err == nil || err.Error() != "Please provide a folder name." {
		t.Errorf("unexpected error %v", err)
	}
	if err := c.MakeNewFolder(ctx, "Reports"); err == nil || err.Error() != "There is no currently opened folder." {
		t.Errorf("unexpected error %v", err)
	}

	e.pickAcme(t)
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatalf("browse: %v", err)
	}
	if cur := c.Snapshot().Browser.CurrentFolder; cur == nil || cur.Path != `\Clients\Acme` {
		t.Fatalf("expected browser reopened at the selection, got %+v", cur)
	}
	if err := c.MakeNewFolder(ctx, "Reports"); err != nil {
		t.Fatalf("make folder: %v", err)
	}
	if e.srv.Calls("create_child") != 1 {
		t.Errorf("expected one create call, got %d", e.srv.Calls("create_child"))
	}

	found := false
	for _, n := range c.Snapshot().Browser.Items {
		if n.Name == "Reports" {
			found = true
			if n.Path != `\Clients\Acme\Reports` {
				t.Errorf("unexpected path %s", n.Path)
			}
			id, _ := strconv.Atoi(n.ID)
			if got := e.srv.Entry(id); got == nil || got.ParentID != e.target.ID {
				t.Errorf("expected folder created under the shortcut target, got %+v", got)
			}
		}
	}
	if !found {
		t.Error("expected refreshed listing to contain the new folder")
	}
}

func TestToolbar_NewFolderDialog(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := c.NewFolderDialog(); !errors.Is(err, ErrNoDialog) {
		t.Errorf("expected ErrNoDialog, got %v", err)
	}
	if err := c.OnToolbarOption(ctx, ToolbarNewFolder); err != nil {
		t.Fatal(err)
	}
	d, err := c.NewFolderDialog()
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Close(ctx, "Clients"); err == nil {
		t.Fatal("expected duplicate name to fail")
	}
	st := c.Snapshot()
	if st.NewFolderDialog == nil || st.NewFolderDialog.ErrorMessage == "" {
		t.Errorf("expected dialog open with inline error, got %+v", st.NewFolderDialog)
	}

	if err := d.Close(ctx, "Inbox"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Snapshot().NewFolderDialog != nil {
		t.Error("expected dialog closed after success")
	}

	if err := c.OnToolbarOption(ctx, "Print"); !errors.Is(err, ErrUnknownToolbarOption) {
		t.Errorf("expected ErrUnknownToolbarOption, got %v", err)
	}
}

func TestToolbar_EditColumns(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatal(err)
	}

	if err := c.OnToolbarOption(ctx, ToolbarAddRemoveColumns); err != nil {
		t.Fatal(err)
	}
	d, err := c.EditColumnsDialog()
	if err != nil {
		t.Fatal(err)
	}
	d.Toggle("pageCount")
	d.Toggle("creator")
	d.Close(true)

	cols := c.Snapshot().Browser.Columns
	ids := make([]string, len(cols))
	for i, col := range cols {
		ids[i] = col.ID
	}
	if strings.Join(ids, ",") != "name,creationTime,pageCount" {
		t.Errorf("unexpected columns %v", ids)
	}
	if items := c.Snapshot().Browser.Items; len(items) == 0 || items[0].Attributes == nil {
		t.Errorf("expected attributes for all columns, got %+v", items)
	} else if _, ok := items[0].Attributes["pageCount"]; !ok {
		t.Errorf("expected pageCount attribute, got %v", items[0].Attributes)
	}
}

func TestToolbar_Refresh(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	if err := c.OnToolbarOption(ctx, ToolbarRefresh); !errors.Is(err, ErrBrowserClosed) {
		t.Errorf("expected ErrBrowserClosed, got %v", err)
	}
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatal(err)
	}
	before := len(c.Snapshot().Browser.Items)
	e.srv.AddFolder(repotest.RootID, "Later")
	if err := c.OnToolbarOption(ctx, ToolbarRefresh); err != nil {
		t.Fatal(err)
	}
	if after := len(c.Snapshot().Browser.Items); after != before+1 {
		t.Errorf("expected %d items after refresh, got %d", before+1, after)
	}
}

func TestLogout_ClearsRepoCache(t *testing.T) {
	e := newEnv(t)
	c := e.ctrl
	ctx := context.Background()

	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatal(err)
	}
	if n := e.srv.Calls("list_repositories"); n != 1 {
		t.Fatalf("expected one repository lookup, got %d", n)
	}

	c.OnLogoutCompleted(ctx)
	if c.Snapshot().Browser.CurrentFolder != nil {
		t.Error("expected browser closed after logout")
	}
	if err := c.OnLoginCompleted(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.OnClickBrowse(ctx); err != nil {
		t.Fatal(err)
	}
	if n := e.srv.Calls("list_repositories"); n != 2 {
		t.Errorf("expected a fresh lookup after logout, got %d", n)
	}
}

func TestSnapshot_Localized(t *testing.T) {
	srv := repotest.New("r1", "Main")
	defer srv.Close()
	c := New(Options{Auth: &fakeAuth{}, Repo: repoclient.New(srv.Client(nil)), Locale: "es-MX"})

	st := c.Snapshot()
	if st.Locale != "es-MX" {
		t.Errorf("expected es-MX, got %s", st.Locale)
	}
	if st.Strings[i18n.OK] != "Ok - Spanish" {
		t.Errorf("unexpected OK string %q", st.Strings[i18n.OK])
	}
	if st.LoggedIn {
		t.Error("expected logged out")
	}
	if len(st.Browser.Toolbar) != 3 {
		t.Errorf("expected 3 toolbar options, got %+v", st.Browser.Toolbar)
	}
}
