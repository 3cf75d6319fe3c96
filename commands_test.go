package main

import "testing"

func TestResolveTable(t *testing.T) {
	tests := []struct {
		name       string
		flag       string
		reuse      bool
		unattended bool
		wantTable  string
		wantPrompt bool
	}{
		{"flag wins", "gpt", false, false, "gpt", false},
		{"flag wins unattended", "gpt", false, true, "gpt", false},
		{"reuse needs no table", "", true, false, "", false},
		{"interactive prompts", "", false, false, "", true},
		{"unattended defaults to msdos", "", false, true, "msdos", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			table, prompt := resolveTable(tc.flag, tc.reuse, tc.unattended)
			if table != tc.wantTable || prompt != tc.wantPrompt {
				t.Errorf("resolveTable(%q, %v, %v) = %q/%v, want %q/%v",
					tc.flag, tc.reuse, tc.unattended, table, prompt, tc.wantTable, tc.wantPrompt)
			}
		})
	}
}
