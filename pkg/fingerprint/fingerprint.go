// Package fingerprint produces comparable opaque snapshots of a repository
// workspace. The controller's resume guard compares the fingerprint taken
// at pause time against the current one to decide whether anything changed
// while a run was waiting.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
)

// Fingerprinter returns a comparable opaque string for a workspace
// directory. Equal strings mean "nothing observable changed".
type Fingerprinter interface {
	Fingerprint(ctx context.Context, dir string) (string, error)
}

// Git derives the fingerprint from version control: HEAD commit plus a
// hash of the working-tree status.
type Git struct{}

// Fingerprint runs git against dir and hashes HEAD + porcelain status.
func (Git) Fingerprint(ctx context.Context, dir string) (string, error) {
	head, err := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read git HEAD: %w", err)
	}
	status, err := gitOutput(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("failed to read git status: %w", err)
	}

	h := sha256.New()
	h.Write(head)
	h.Write([]byte{0})
	h.Write(status)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func gitOutput(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(out.Bytes()), nil
}

// Static always returns a fixed string. Useful in tests and for callers
// that want to disable change detection.
type Static string

// Fingerprint returns the fixed string.
func (s Static) Fingerprint(context.Context, string) (string, error) {
	return string(s), nil
}
