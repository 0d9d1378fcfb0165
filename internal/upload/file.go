package upload

import "strings"

// File is a document chosen for import.
type File struct {
	BaseName  string // name without extension
	Extension string // without the leading dot
	Data      []byte
}

// NewFile splits name at its last dot. Directory components are dropped.
func NewFile(name string, data []byte) File {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		return File{BaseName: name[:i], Extension: name[i+1:], Data: data}
	}
	return File{BaseName: name, Data: data}
}

// DocumentName is the file name sent with the electronic document.
func (f File) DocumentName() string {
	if f.Extension == "" {
		return f.BaseName
	}
	return f.BaseName + "." + f.Extension
}

// Size returns the number of bytes in the document.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// IsZero reports whether no file is held.
func (f File) IsZero() bool {
	return f.BaseName == "" && f.Data == nil
}
