package fingerprint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestStaticFingerprint(t *testing.T) {
	fp, err := Static("pinned").Fingerprint(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	if fp != "pinned" {
		t.Fatalf("expected pinned, got %q", fp)
	}
}

func TestGitFingerprintTracksWorkingTree(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()

	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	git("init")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	git("add", ".")
	git("commit", "-m", "initial")

	before, err := Git{}.Fingerprint(ctx, dir)
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	again, err := Git{}.Fingerprint(ctx, dir)
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	if before != again {
		t.Fatal("an unchanged tree must fingerprint identically")
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two"), 0o644); err != nil {
		t.Fatalf("failed to modify file: %v", err)
	}
	after, err := Git{}.Fingerprint(ctx, dir)
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	if after == before {
		t.Fatal("a dirty tree must change the fingerprint")
	}
}
