package executor

import (
	"context"
	"testing"
)

// TestRunJSONInitParsesInitializedMessage covers §4.5 scenario S1: a
// successful init emits message_type == "initialized" with repository/id
// fields, never "summary" — runJSONInit must capture that shape directly
// rather than scanning for a summary line.
func TestRunJSONInitParsesInitializedMessage(t *testing.T) {
	tool := NewBackupTool("/bin/sh")
	res, err := tool.runJSONInit(context.Background(),
		[]string{"-c", `echo '{"message_type":"initialized","repository":"/var/b","id":"abc"}'`},
		"", nil, "config file already exists")
	if err != nil {
		t.Fatalf("runJSONInit: %v", err)
	}
	if res.Repository != "/var/b" {
		t.Fatalf("Repository = %q, want /var/b", res.Repository)
	}
	if res.RepoID != "abc" {
		t.Fatalf("RepoID = %q, want abc", res.RepoID)
	}
	if res.AlreadyInit {
		t.Fatal("AlreadyInit = true for a fresh init")
	}
}

// TestRunJSONInitRecognizesAlreadyInitialized covers the §4.5 exit-code
// path: a recognized stderr marker maps to a semantic success instead of
// an error, with no repository/id to report.
func TestRunJSONInitRecognizesAlreadyInitialized(t *testing.T) {
	tool := NewBackupTool("/bin/sh")
	res, err := tool.runJSONInit(context.Background(),
		[]string{"-c", `echo 'config file already exists' 1>&2; exit 1`},
		"", nil, "config file already exists")
	if err != nil {
		t.Fatalf("runJSONInit: %v", err)
	}
	if !res.AlreadyInit {
		t.Fatal("AlreadyInit = false for a recognized already-initialized stderr marker")
	}
	if res.RepoID != "" {
		t.Fatalf("RepoID = %q, want empty for an already-initialized outcome", res.RepoID)
	}
}

// TestRunJSONInitPropagatesUnrecognizedFailure ensures an unrelated
// subprocess failure still surfaces as an error rather than being
// swallowed as an already-initialized outcome.
func TestRunJSONInitPropagatesUnrecognizedFailure(t *testing.T) {
	tool := NewBackupTool("/bin/sh")
	_, err := tool.runJSONInit(context.Background(),
		[]string{"-c", `echo 'permission denied' 1>&2; exit 1`},
		"", nil, "config file already exists")
	if err == nil {
		t.Fatal("expected an error for an unrecognized subprocess failure")
	}
}
