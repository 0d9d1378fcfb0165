package app

import (
	"slices"

	"github.com/repodrop/repodrop/internal/browser"
	"github.com/repodrop/repodrop/internal/dialogs"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

// FileInfo describes the selected file without its contents.
type FileInfo struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
}

// BrowserState is what the expanded folder browser shows.
type BrowserState struct {
	Expanded      bool                `json:"expanded"`
	CurrentFolder *browser.Node       `json:"currentFolder,omitempty"`
	Items         []browser.Node      `json:"items"`
	Highlighted   []browser.Node      `json:"highlighted"`
	Columns       []browser.ColumnDef `json:"columns"`
	Toolbar       []ToolbarOption     `json:"toolbar"`
}

// MetadataState is the metadata form.
type MetadataState struct {
	Template string                      `json:"template,omitempty"`
	Fields   []repoapi.TemplateFieldInfo `json:"fields,omitempty"`
	Values   map[string][]string         `json:"values"`
	Errors   map[string]string           `json:"errors,omitempty"`
}

// State is a point-in-time copy of everything the screen renders.
type State struct {
	LoggedIn                  bool                     `json:"loggedIn"`
	Locale                    string                   `json:"locale"`
	SelectedFolder            *browser.SelectedFolder  `json:"selectedFolder,omitempty"`
	SelectedFolderDisplayName string                   `json:"selectedFolderDisplayName"`
	SelectedFile              *FileInfo                `json:"selectedFile,omitempty"`
	EnableSave                bool                     `json:"enableSave"`
	ShouldShowOpen            bool                     `json:"shouldShowOpen"`
	ShouldShowSelect          bool                     `json:"shouldShowSelect"`
	Browser                   BrowserState             `json:"browser"`
	Metadata                  MetadataState            `json:"metadata"`
	NewFolderDialog           *dialogs.NewFolderView   `json:"newFolderDialog,omitempty"`
	EditColumnsDialog         *dialogs.EditColumnsView `json:"editColumnsDialog,omitempty"`
	Strings                   map[string]string        `json:"strings"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	st := State{
		LoggedIn:                  c.auth.IsLoggedIn(),
		Locale:                    c.loc.Tag().String(),
		SelectedFolderDisplayName: c.SelectedFolderDisplayName(),
		EnableSave:                c.EnableSave(),
		ShouldShowOpen:            c.ShouldShowOpen(),
		ShouldShowSelect:          c.ShouldShowSelect(),
		Metadata:                  c.metadataState(),
		Strings:                   c.loc.All(),
	}

	c.mu.Lock()
	b := c.browser
	st.Browser.Expanded = c.expanded
	st.Browser.Columns = slices.Clone(c.columns)
	if c.selectedFolder != nil {
		sf := *c.selectedFolder
		st.SelectedFolder = &sf
	}
	if c.selectedFile != nil {
		st.SelectedFile = &FileInfo{
			Name:      c.selectedFile.BaseName,
			Extension: c.selectedFile.Extension,
			Size:      c.selectedFile.Size(),
		}
	}
	newFolder, editColumns := c.newFolder, c.editColumns
	c.mu.Unlock()

	st.Browser.Toolbar = c.ToolbarOptions()
	if b != nil {
		st.Browser.CurrentFolder = b.CurrentFolder()
		st.Browser.Items = b.Items()
		st.Browser.Highlighted = b.Highlighted()
	}
	if newFolder != nil && newFolder.IsOpen() {
		v := newFolder.View()
		st.NewFolderDialog = &v
	}
	if editColumns != nil && editColumns.IsOpen() {
		v := editColumns.View()
		st.EditColumnsDialog = &v
	}
	return st
}

func (c *Controller) metadataState() MetadataState {
	ms := MetadataState{
		Template: c.form.TemplateName(),
		Fields:   c.form.Fields(),
		Values:   make(map[string][]string),
		Errors:   c.form.Errors(),
	}
	for name, fv := range c.form.FieldValues() {
		vals := make([]string, len(fv.Values))
		for i, v := range fv.Values {
			vals[i] = v.Value
		}
		ms.Values[name] = vals
	}
	return ms
}
