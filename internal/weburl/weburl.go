// Package weburl builds links into the repository web client.
package weburl

import (
	"net/url"
	"strings"
)

// EntryWebAccessURL returns the web client link for an entry. Containers
// (folders and shortcuts) open the browse view, documents open the document
// viewer. ok is false when any input is empty.
func EntryWebAccessURL(nodeID, repoID, baseURL string, isContainer bool) (string, bool) {
	if nodeID == "" || repoID == "" || baseURL == "" {
		return "", false
	}
	base := strings.TrimRight(baseURL, "/")
	if isContainer {
		return base + "/Browse.aspx?repo=" + url.QueryEscape(repoID) + "#?id=" + url.QueryEscape(nodeID), true
	}
	return base + "/DocView.aspx?repo=" + url.QueryEscape(repoID) + "&docid=" + url.QueryEscape(nodeID), true
}
