package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedHasExpectedLocales(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	if !bundle.HasLocale(BaseLocale) {
		t.Fatalf("expected base locale %s", BaseLocale)
	}
	if !bundle.HasLocale("tr-TR") {
		t.Fatalf("expected locale tr-TR")
	}
	en := bundle.NamespaceMessages("en-US", "errors")
	tr := bundle.NamespaceMessages("tr-TR", "errors")
	if len(en) == 0 {
		t.Fatalf("expected en-US errors namespace messages")
	}
	for key := range en {
		if _, ok := tr[key]; !ok {
			t.Fatalf("tr-TR missing key %q", key)
		}
	}
}

func TestLoadFromFSRejectsLocaleMismatch(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/en-US/errors.yaml"), `locale: "tr-TR"
namespace: "errors"
messages:
  "A": "a"
`)

	_, err := LoadFromFS(os.DirFS(tempDir))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/tr-TR/errors.yaml"), `locale: "tr-TR"
namespace: "errors"
messages:
  "A": "a"
`)

	_, err := LoadFromFS(os.DirFS(tempDir))
	if err == nil {
		t.Fatal("expected missing base locale error")
	}
}

func TestNamespaceMessagesWithFallback(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	resolved, messages := bundle.NamespaceMessagesWithFallback("fr-FR", "errors")
	if resolved != "en-US" {
		t.Fatalf("resolved locale = %q, want en-US", resolved)
	}
	if len(messages) == 0 {
		t.Fatal("expected fallback errors namespace messages")
	}
}

func TestMatch(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	tests := []struct {
		pref string
		want string
	}{
		{pref: "tr-TR,tr;q=0.9", want: "tr-TR"},
		{pref: "tr", want: "tr-TR"},
		{pref: "en-GB", want: "en-US"},
		{pref: "", want: "en-US"},
		{pref: "ja-JP", want: "en-US"},
	}
	for _, tt := range tests {
		if got := bundle.Match(tt.pref); got != tt.want {
			t.Fatalf("Match(%q) = %q, want %q", tt.pref, got, tt.want)
		}
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
