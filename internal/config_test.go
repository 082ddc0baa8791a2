package internal

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danisheto/anc/internal/apperr"
	pkgconfig "github.com/danisheto/anc/pkg/config"
)

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestSourcesConfig_Extension(t *testing.T) {
	for ext, ok := range map[string]bool{".qz": true, "qz": true, "": false, "../x": false} {
		cfg := SourcesConfig{Extension: ext}
		if err := cfg.Validate(); (err == nil) != ok {
			t.Errorf("Validate(%q) = %v, want ok=%v", ext, err, ok)
		}
	}
}

func TestCollectionPath(t *testing.T) {
	t.Setenv("ANKI_DIR", "")
	cfg := NewDefaultConfig()
	if _, err := cfg.CollectionPath(); !errors.Is(err, apperr.ErrNoAnkiDir) {
		t.Errorf("err = %v, want ErrNoAnkiDir", err)
	}

	t.Setenv("ANKI_DIR", "/env/profile")
	got, _ := cfg.CollectionPath()
	if got != "/env/profile/collection.anki2" {
		t.Errorf("path = %q", got)
	}

	cfg.AnkiDir = "/cfg/profile"
	got, _ = cfg.CollectionPath()
	if got != "/cfg/profile/collection.anki2" {
		t.Errorf("path = %q, config should win over $ANKI_DIR", got)
	}

	cfg.Collection.File = "/explicit.anki2"
	got, _ = cfg.CollectionPath()
	if got != "/explicit.anki2" {
		t.Errorf("path = %q, collection.file should win", got)
	}
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("ANC_TEST_DIR", "/from/env")
	path := filepath.Join(t.TempDir(), "config")
	content := `anki_dir = "$ANC_TEST_DIR"

[app]
log_level = "debug"

[app.http]
port = 9000

[collection]
case_insensitive_match = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnkiDir != "/from/env" {
		t.Errorf("anki_dir = %q", cfg.AnkiDir)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9000 {
		t.Errorf("app = %+v", cfg.App)
	}
	if !cfg.Collection.CaseInsensitiveMatch {
		t.Error("case_insensitive_match not decoded")
	}
	if cfg.Sources.Extension != ".qz" || cfg.App.HTTP.Host != "127.0.0.1" {
		t.Errorf("defaults lost: %+v %+v", cfg.Sources, cfg.App.HTTP)
	}
}

func TestLoad_DefaultConfigFileIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("# anki_dir = \"~/.local/share/Anki2/User 1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pkgconfig.Load(path, NewDefaultConfig()); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anc.yaml")
	if err := os.WriteFile(path, []byte("anki_dir: /yaml\nsources:\n  extension: .cards\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnkiDir != "/yaml" || cfg.Sources.Extension != ".cards" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("anki_dri = \"/typo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := pkgconfig.Load(path, NewDefaultConfig())
	if err == nil || !strings.Contains(err.Error(), "anki_dri") {
		t.Errorf("err = %v, want unknown key error", err)
	}
}

func TestLoad_ValidationCalled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("[auth]\nmode = \"token\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pkgconfig.Load(path, NewDefaultConfig()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.LoadOptional(filepath.Join(t.TempDir(), "missing"), cfg); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
}
