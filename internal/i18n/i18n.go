// Package i18n holds the user-facing strings in each supported locale.
package i18n

import (
	"golang.org/x/text/language"
)

// String keys.
const (
	Name                     = "NAME"
	OK                       = "OK"
	Cancel                   = "CANCEL"
	NewFolder                = "NEW_FOLDER"
	AddRemoveColumns         = "ADD_REMOVE_COLUMNS"
	FolderBrowserPlaceholder = "FOLDER_BROWSER_PLACEHOLDER"
	SaveToRepository         = "SAVE_TO_LASERFICHE"
	ClickToUpload            = "CLICK_TO_UPLOAD"
	SelectedFolderColon      = "SELECTED_FOLDER_COLON"
	FileNameColon            = "FILE_NAME_COLON"
	Browse                   = "BROWSE"
	OpenInRepository         = "OPEN_IN_LASERFICHE"
	Select                   = "SELECT"
	Open                     = "OPEN"
	ErrorSaving              = "ERROR_SAVING"
	SaveSucceeded            = "SAVE_SUCCEEDED"
	InvalidMetadata          = "INVALID_METADATA"
	PleaseProvideFolderName  = "PLEASE_PROVIDE_FOLDER_NAME"
	NoCurrentlyOpenedFolder  = "NO_CURRENTLY_OPENED_FOLDER"
)

var (
	EnglishUS = language.AmericanEnglish
	SpanishMX = language.MustParse("es-MX")
)

var resources = map[language.Tag]map[string]string{
	EnglishUS: {
		Name:                     "Name",
		OK:                       "Ok",
		Cancel:                   "Cancel",
		NewFolder:                "New Folder",
		AddRemoveColumns:         "Add/Remove Columns",
		FolderBrowserPlaceholder: "No folder selected",
		SaveToRepository:         "Save to Laserfiche",
		ClickToUpload:            "Click to upload file",
		SelectedFolderColon:      "Selected Folder:",
		FileNameColon:            "File Name:",
		Browse:                   "Browse",
		OpenInRepository:         "Open in Laserfiche",
		Select:                   "Select",
		Open:                     "Open",
		ErrorSaving:              "Error Saving",
		SaveSucceeded:            "Successfully saved document to Laserfiche",
		InvalidMetadata:          "One or more fields is invalid. Please fix and try again",
		PleaseProvideFolderName:  "Please provide a folder name.",
		NoCurrentlyOpenedFolder:  "There is no currently opened folder.",
	},
	SpanishMX: {
		Name:             "Name -Spanish",
		OK:               "Ok - Spanish",
		Cancel:           "Cancel - Spanish",
		NewFolder:        "New Folder - Spanish",
		AddRemoveColumns: "Add/Remove Columns - Spanish",
	},
}

var (
	supported = []language.Tag{EnglishUS, SpanishMX}
	matcher   = language.NewMatcher(supported)
)

// Localizer looks up strings for one locale, falling back to en-US.
type Localizer struct {
	tag language.Tag
}

// New returns a localizer for the best supported match of locale, which may
// be a single tag ("es-MX") or an Accept-Language value.
func New(locale string) *Localizer {
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return &Localizer{tag: EnglishUS}
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return &Localizer{tag: EnglishUS}
	}
	return &Localizer{tag: supported[idx]}
}

// Tag returns the matched locale.
func (l *Localizer) Tag() language.Tag {
	return l.tag
}

// Get returns the string for key. Unknown keys are returned as-is.
func (l *Localizer) Get(key string) string {
	if s, ok := resources[l.tag][key]; ok {
		return s
	}
	if s, ok := resources[EnglishUS][key]; ok {
		return s
	}
	return key
}

// All returns every key resolved for this locale.
func (l *Localizer) All() map[string]string {
	out := make(map[string]string, len(resources[EnglishUS]))
	for k := range resources[EnglishUS] {
		out[k] = l.Get(k)
	}
	return out
}
