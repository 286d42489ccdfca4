package storage

import (
	"context"
	"errors"
	"testing"

	"gitrover/internal/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cm, err := crypto.NewManager("test", map[string][]byte{"test": make([]byte, 32)})
	if err != nil {
		t.Fatalf("new crypto manager: %v", err)
	}
	store, err := Open(context.Background(), "sqlite", "file:"+t.Name()+"?mode=memory&cache=shared", cm, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnsureUserIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.EnsureUser(ctx, 42)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if !created {
		t.Fatal("expected first ensure to create the row")
	}

	created, err = s.EnsureUser(ctx, 42)
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if created {
		t.Fatal("expected second ensure to be a no-op")
	}

	n, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}

func TestSaveAndGetTokenRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetToken(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	if err := s.SaveToken(ctx, 42, "ghp_first"); err != nil {
		t.Fatalf("save token: %v", err)
	}
	tok, err := s.GetToken(ctx, 42)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if tok != "ghp_first" {
		t.Fatalf("unexpected token %q", tok)
	}

	// Re-saving replaces the ciphertext; a user holds at most one token.
	if err := s.SaveToken(ctx, 42, "ghp_second"); err != nil {
		t.Fatalf("re-save token: %v", err)
	}
	tok, err = s.GetToken(ctx, 42)
	if err != nil {
		t.Fatalf("get token after re-save: %v", err)
	}
	if tok != "ghp_second" {
		t.Fatalf("expected replacement token, got %q", tok)
	}
}

func TestGetTokenAbsentForTokenlessUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, 7); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := s.GetToken(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for tokenless user, got %v", err)
	}
}

func TestSetCursorResetsPathWithRepo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetCursor(ctx, 42, "octocat/Hello-World", ""); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	repo, path, err := s.GetCursor(ctx, 42)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if repo == nil || *repo != "octocat/Hello-World" || path != "" {
		t.Fatalf("unexpected cursor %v %q", repo, path)
	}

	if err := s.SetCursor(ctx, 42, "octocat/Hello-World", "src"); err != nil {
		t.Fatalf("set cursor path: %v", err)
	}
	repo, path, err = s.GetCursor(ctx, 42)
	if err != nil {
		t.Fatalf("get cursor after folder open: %v", err)
	}
	if repo == nil || *repo != "octocat/Hello-World" || path != "src" {
		t.Fatalf("unexpected cursor %v %q", repo, path)
	}

	// Switching repositories writes repo and root path in one statement;
	// the old path must not survive the switch.
	if err := s.SetCursor(ctx, 42, "octocat/Spoon-Knife", ""); err != nil {
		t.Fatalf("switch repo: %v", err)
	}
	repo, path, err = s.GetCursor(ctx, 42)
	if err != nil {
		t.Fatalf("get cursor after switch: %v", err)
	}
	if repo == nil || *repo != "octocat/Spoon-Knife" || path != "" {
		t.Fatalf("stale path after repo switch: %v %q", repo, path)
	}
}

func TestLogActionAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	repo := "octocat/Hello-World"
	file := "src/a.txt"

	// LogAction creates the user row if needed.
	if err := s.LogAction(ctx, 42, ActionTokenSaved, nil, nil); err != nil {
		t.Fatalf("log token_saved: %v", err)
	}
	if err := s.LogAction(ctx, 42, ActionOpenRepo, &repo, nil); err != nil {
		t.Fatalf("log open_repo: %v", err)
	}
	if err := s.LogAction(ctx, 42, ActionOpenRepo, &repo, nil); err != nil {
		t.Fatalf("log open_repo again: %v", err)
	}
	if err := s.LogAction(ctx, 42, ActionViewFile, &repo, &file); err != nil {
		t.Fatalf("log view_file: %v", err)
	}

	stats, err := s.GetStats(ctx, 42)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalActions != 4 {
		t.Fatalf("expected 4 actions, got %d", stats.TotalActions)
	}
	if stats.ByType[ActionOpenRepo] != 2 || stats.ByType[ActionTokenSaved] != 1 || stats.ByType[ActionViewFile] != 1 {
		t.Fatalf("unexpected by-type counts: %#v", stats.ByType)
	}
	if len(stats.Recent) != 4 {
		t.Fatalf("expected 4 recent entries, got %d", len(stats.Recent))
	}
	if stats.Recent[0].Type != ActionViewFile {
		t.Fatalf("expected most recent action first, got %q", stats.Recent[0].Type)
	}
	if stats.Recent[0].FilePath == nil || *stats.Recent[0].FilePath != file {
		t.Fatalf("expected file path on view_file entry")
	}

	for i := 0; i < 6; i++ {
		if err := s.LogAction(ctx, 42, ActionViewRepos, nil, nil); err != nil {
			t.Fatalf("log view_repos: %v", err)
		}
	}
	stats, err = s.GetStats(ctx, 42)
	if err != nil {
		t.Fatalf("get stats after burst: %v", err)
	}
	if len(stats.Recent) != 5 {
		t.Fatalf("recent list must cap at 5, got %d", len(stats.Recent))
	}
}

func TestDeleteUserRemovesHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, 42, "ghp_tok"); err != nil {
		t.Fatalf("save token: %v", err)
	}
	if err := s.LogAction(ctx, 42, ActionViewRepos, nil, nil); err != nil {
		t.Fatalf("log action: %v", err)
	}
	if _, err := s.EnsureUser(ctx, 99); err != nil {
		t.Fatalf("ensure other user: %v", err)
	}

	if err := s.DeleteUser(ctx, 42); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	n, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the other user to remain, got %d", n)
	}

	stats, err := s.GetStats(ctx, 42)
	if err != nil {
		t.Fatalf("get stats for deleted user: %v", err)
	}
	if stats.TotalActions != 0 || len(stats.Recent) != 0 {
		t.Fatalf("expected no history rows after delete, got %+v", stats)
	}

	// Deleting again reports ErrNotFound rather than failing loudly.
	if err := s.DeleteUser(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
