package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/helpchat/internal/config"
)

func TestPathsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HELPCHAT_HOME", home)

	tests := []struct {
		got, want string
	}{
		{Dir("work"), filepath.Join(home, "profiles", "work")},
		{SocketPath("work"), filepath.Join(home, "profiles", "work", "daemon.sock")},
		{DBPath("work"), filepath.Join(home, "profiles", "work", "helpchat.db")},
		{DraftsPath("work"), filepath.Join(home, "profiles", "work", "drafts.json")},
		{LogPath("work"), filepath.Join(home, "profiles", "work", "logs", "helpchatd.log")},
		{ConfigPath(), filepath.Join(home, "config.toml")},
		{EnvPath(), filepath.Join(home, ".env")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("HELPCHAT_HOME", t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("HELPCHAT_HOME", t.TempDir())
	if got := Resolve(""); got != "default" {
		t.Errorf("Resolve without config = %q", got)
	}
	if err := config.Save(ConfigPath(), &config.Config{DefaultProfile: "work"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve with config = %q", got)
	}
	if got := Resolve("home"); got != "home" {
		t.Errorf("Resolve with flag = %q", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.profile", true},
		{"too long", string(make([]byte, 65)), true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
