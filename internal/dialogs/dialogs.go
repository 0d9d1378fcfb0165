// Package dialogs implements the new-folder and edit-columns modals. Each
// collects one input and hands it to a caller-supplied callback on confirm.
package dialogs

import (
	"context"
	"strings"
	"sync"

	"github.com/repodrop/repodrop/internal/browser"
	"github.com/repodrop/repodrop/internal/i18n"
)

// Labels are the localized captions a front end renders for a dialog.
type Labels struct {
	Title  string `json:"title"`
	Name   string `json:"name,omitempty"`
	OK     string `json:"ok"`
	Cancel string `json:"cancel"`
}

// CreateFolderFunc creates a folder named name in the opened folder.
type CreateFolderFunc func(ctx context.Context, name string) error

// NewFolderDialog asks for a folder name. It stays open with an inline
// error when creation fails.
type NewFolderDialog struct {
	labels Labels
	create CreateFolderFunc

	mu           sync.Mutex
	open         bool
	errorMessage string
}

// NewFolderView is a snapshot of the dialog for rendering.
type NewFolderView struct {
	Open         bool   `json:"open"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Labels       Labels `json:"labels"`
}

func NewNewFolderDialog(loc *i18n.Localizer, create CreateFolderFunc) *NewFolderDialog {
	return &NewFolderDialog{
		labels: Labels{
			Title:  loc.Get(i18n.NewFolder),
			Name:   loc.Get(i18n.Name),
			OK:     loc.Get(i18n.OK),
			Cancel: loc.Get(i18n.Cancel),
		},
		create: create,
		open:   true,
	}
}

// Close confirms the dialog with name. A blank name cancels. When the
// callback fails the dialog keeps its error message and stays open, and the
// error is returned.
func (d *NewFolderDialog) Close(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		d.Cancel()
		return nil
	}

	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := d.create(ctx, name)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.errorMessage = err.Error()
		return err
	}
	d.errorMessage = ""
	d.open = false
	return nil
}

// Cancel closes without creating anything.
func (d *NewFolderDialog) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.errorMessage = ""
}

func (d *NewFolderDialog) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *NewFolderDialog) ErrorMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errorMessage
}

func (d *NewFolderDialog) View() NewFolderView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return NewFolderView{Open: d.open, ErrorMessage: d.errorMessage, Labels: d.labels}
}

// UpdateColumnsFunc receives the confirmed column list.
type UpdateColumnsFunc func(columns []browser.ColumnDef)

// EditColumnsDialog toggles columns on a working copy of the current
// selection and replaces the selection wholesale on confirm.
type EditColumnsDialog struct {
	labels  Labels
	options []browser.ColumnDef
	update  UpdateColumnsFunc

	mu       sync.Mutex
	open     bool
	selected []browser.ColumnDef
}

// EditColumnsView is a snapshot of the dialog for rendering.
type EditColumnsView struct {
	Open     bool                `json:"open"`
	Selected []browser.ColumnDef `json:"selected"`
	Options  []browser.ColumnDef `json:"options"`
	Labels   Labels              `json:"labels"`
}

func NewEditColumnsDialog(loc *i18n.Localizer, selected, options []browser.ColumnDef, update UpdateColumnsFunc) *EditColumnsDialog {
	return &EditColumnsDialog{
		labels: Labels{
			Title:  loc.Get(i18n.AddRemoveColumns),
			OK:     loc.Get(i18n.OK),
			Cancel: loc.Get(i18n.Cancel),
		},
		options:  append([]browser.ColumnDef(nil), options...),
		update:   update,
		open:     true,
		selected: append([]browser.ColumnDef(nil), selected...),
	}
}

// Toggle removes the column with id from the working selection, or appends
// it when absent. It reports false for a column that is neither selected
// nor an option.
func (d *EditColumnsDialog) Toggle(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, c := range d.selected {
		if c.ID == id {
			d.selected = append(d.selected[:i:i], d.selected[i+1:]...)
			return true
		}
	}
	for _, c := range d.options {
		if c.ID == id {
			d.selected = append(d.selected, c)
			return true
		}
	}
	return false
}

// Selected returns a copy of the working selection.
func (d *EditColumnsDialog) Selected() []browser.ColumnDef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.ColumnDef(nil), d.selected...)
}

// Close closes the dialog. On confirm the working selection is passed to
// the update callback and returned.
func (d *EditColumnsDialog) Close(confirm bool) []browser.ColumnDef {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	d.open = false
	cols := append([]browser.ColumnDef(nil), d.selected...)
	d.mu.Unlock()

	if !confirm {
		return nil
	}
	if d.update != nil {
		d.update(cols)
	}
	return cols
}

func (d *EditColumnsDialog) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *EditColumnsDialog) View() EditColumnsView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return EditColumnsView{
		Open:     d.open,
		Selected: append([]browser.ColumnDef(nil), d.selected...),
		Options:  append([]browser.ColumnDef(nil), d.options...),
		Labels:   d.labels,
	}
}
