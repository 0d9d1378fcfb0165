package browser

// ColumnDef describes a column of the folder browser grid.
type ColumnDef struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	DefaultWidth string `json:"defaultWidth"`
	MinWidthPx   int    `json:"minWidthPx,omitempty"`
	Resizable    bool   `json:"resizable"`
	Sortable     bool   `json:"sortable"`
}

// NameColumn is always available and shown by default.
var NameColumn = ColumnDef{
	ID:           "name",
	DisplayName:  "Name",
	DefaultWidth: "auto",
	MinWidthPx:   100,
	Resizable:    true,
	Sortable:     true,
}

// AllColumns returns the optional columns the user can add.
func AllColumns() []ColumnDef {
	return []ColumnDef{
		column("creationTime", "Creation Time"),
		column("lastModifiedTime", "Last Modified Time"),
		column("pageCount", "Page Count"),
		column("templateName", "Template Name"),
		column("creator", "Author"),
	}
}

// DefaultColumns returns the initial column selection.
func DefaultColumns() []ColumnDef {
	all := AllColumns()
	return []ColumnDef{NameColumn, all[0], all[4]}
}

// ColumnIDs returns the ids of cols in order.
func ColumnIDs(cols []ColumnDef) []string {
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

// FindColumn looks up a column by id among NameColumn and AllColumns.
func FindColumn(id string) (ColumnDef, bool) {
	if id == NameColumn.ID {
		return NameColumn, true
	}
	for _, c := range AllColumns() {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnDef{}, false
}

func column(id, name string) ColumnDef {
	return ColumnDef{ID: id, DisplayName: name, DefaultWidth: "auto", Resizable: true, Sortable: true}
}
