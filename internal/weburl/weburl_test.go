package weburl

import "testing"

func TestEntryWebAccessURL(t *testing.T) {
	tests := []struct {
		name        string
		nodeID      string
		repoID      string
		base        string
		isContainer bool
		want        string
		ok          bool
	}{
		{"folder", "42", "r1", "https://app.example.com/laserfiche", true,
			"https://app.example.com/laserfiche/Browse.aspx?repo=r1#?id=42", true},
		{"document", "42", "r1", "https://app.example.com/laserfiche", false,
			"https://app.example.com/laserfiche/DocView.aspx?repo=r1&docid=42", true},
		{"trailing slash", "7", "r1", "https://app.example.com/", true,
			"https://app.example.com/Browse.aspx?repo=r1#?id=7", true},
		{"escaped repo", "7", "r 1", "https://h", false,
			"https://h/DocView.aspx?repo=r+1&docid=7", true},
		{"no node", "", "r1", "https://h", true, "", false},
		{"no repo", "7", "", "https://h", true, "", false},
		{"no base", "7", "r1", "", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EntryWebAccessURL(tt.nodeID, tt.repoID, tt.base, tt.isContainer)
			if ok != tt.ok || got != tt.want {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}
