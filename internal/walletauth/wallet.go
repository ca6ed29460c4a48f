// Package walletauth prepares an Oracle wallet directory for
// internal/dbpool: it either validates an existing ORACLE_WALLET_LOCATION
// directory or extracts a base64-encoded ZIP payload
// (ORACLE_WALLET_BASE64) into a freshly named, private directory. There is
// no teacher equivalent for wallet provisioning; this is grounded directly
// on spec §6's extraction contract, using the standard library's
// archive/zip and encoding/base64 (justified in DESIGN.md: a narrowly
// specified archive-extraction routine that the standard library already
// covers exactly).
package walletauth

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// requiredFile is the minimum file a usable wallet directory must contain.
const requiredFile = "cwallet.sso"

// allowedMethods restricts extraction to the two standard zip compression
// methods, rejecting anything else (e.g. AES-encrypted entries) outright.
var allowedMethods = map[uint16]bool{
	zip.Store:   true,
	zip.Deflate: true,
}

// ValidateDir checks that dir looks like a usable Oracle wallet directory.
func ValidateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("walletauth: wallet dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("walletauth: wallet path %s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, requiredFile)); err != nil {
		return fmt.Errorf("walletauth: wallet dir %s missing %s: %w", dir, requiredFile, err)
	}
	return nil
}

// ExtractBase64 decodes a base64-encoded ZIP archive and extracts it into a
// uniquely named directory under baseDir, named
// "<processID>-<unix-timestamp>-<first 8 chars of a random UUID>" so
// concurrent processes (or restarts, or repeated calls) never collide.
// Only Store/Deflate-method entries are accepted; anything else aborts the
// extraction. Every extracted file is written with mode
// 0600 since wallet material is credential-equivalent.
func ExtractBase64(baseDir, processID, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("walletauth: decoding base64 wallet: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("walletauth: opening wallet archive: %w", err)
	}

	dirName := fmt.Sprintf("%s-%d-%s", sanitizeProcessID(processID), time.Now().Unix(), uuid.NewString()[:8])
	destDir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return "", fmt.Errorf("walletauth: creating wallet dir %s: %w", destDir, err)
	}

	for _, f := range zr.File {
		if !allowedMethods[f.Method] {
			return "", fmt.Errorf("walletauth: %s: unsupported zip compression method %d", f.Name, f.Method)
		}
		if err := extractEntry(destDir, f); err != nil {
			return "", err
		}
	}

	if err := ValidateDir(destDir); err != nil {
		return "", err
	}

	return destDir, nil
}

// extractEntry writes one zip entry under destDir, rejecting any path that
// would escape it (a zip-slip guard).
func extractEntry(destDir string, f *zip.File) error {
	name := filepath.Clean(f.Name)
	if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
		return fmt.Errorf("walletauth: %s: invalid entry path", f.Name)
	}
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return fmt.Errorf("walletauth: %s: entry escapes destination directory", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0700)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("walletauth: opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("walletauth: creating %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("walletauth: writing %s: %w", target, err)
	}
	return nil
}

func sanitizeProcessID(id string) string {
	if id == "" {
		return "sentinel"
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
