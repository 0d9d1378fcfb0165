// Package webapp provides the embedded static files for the upload page.
package webapp

import "embed"

//go:embed index.html app.js app.css
var Assets embed.FS
