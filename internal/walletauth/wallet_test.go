package walletauth

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func buildWalletZip(t *testing.T, method uint16) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: requiredFile, Method: method})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("fake-wallet-contents")); err != nil {
		t.Fatal(err)
	}

	w2, err := zw.CreateHeader(&zip.FileHeader{Name: "tnsnames.ora", Method: method})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w2.Write([]byte("SENTINEL_DB = (DESCRIPTION=...)")); err != nil {
		t.Fatal(err)
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestExtractBase64WritesFilesWithPrivatePerms(t *testing.T) {
	baseDir := t.TempDir()
	encoded := buildWalletZip(t, zip.Deflate)

	dir, err := ExtractBase64(baseDir, "proc-1", encoded)
	if err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, requiredFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("expected 0600 perms on extracted wallet file, got %o", perm)
	}
}

func TestExtractBase64ProducesUniqueDirsPerCall(t *testing.T) {
	baseDir := t.TempDir()
	encoded := buildWalletZip(t, zip.Store)

	dir1, err := ExtractBase64(baseDir, "proc-1", encoded)
	if err != nil {
		t.Fatal(err)
	}
	dir2, err := ExtractBase64(baseDir, "proc-1", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if dir1 == dir2 {
		t.Fatal("expected distinct extraction directories across calls")
	}
}

func TestExtractBase64RejectsMalformedBase64(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := ExtractBase64(baseDir, "proc-1", "not-valid-base64!!!"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
}

func TestExtractBase64RejectsZipSlip(t *testing.T) {
	baseDir := t.TempDir()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "../escape.txt", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("malicious")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	if _, err := ExtractBase64(baseDir, "proc-1", encoded); err == nil {
		t.Fatal("expected rejection of a zip-slip path")
	}
}

func TestValidateDirRequiresWalletFile(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected error for a directory missing cwallet.sso")
	}

	if err := os.WriteFile(filepath.Join(dir, requiredFile), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("expected valid wallet dir, got %v", err)
	}
}
