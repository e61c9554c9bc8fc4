package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestCapqPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"default", "", filepath.Join(home, ".capq")},
		{"env override", "/tmp/custom-capq", "/tmp/custom-capq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CAPQ_PATH", tt.env)
			if got := CapqPath(); got != tt.want {
				t.Errorf("CapqPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "/srv/capq"}
	tests := []struct {
		name, got, want string
	}{
		{"config", l.Config(), "/srv/capq/config.jsonc"},
		{"dotenv", l.Dotenv(), "/srv/capq/.env"},
		{"age key", l.AgeKey(), "/srv/capq/.age-key"},
		{"file journal", l.Journal("file"), "/srv/capq/runs"},
		{"sqlite journal", l.Journal("sqlite"), "/srv/capq/journal.db"},
		{"logs", l.Logs(), "/srv/capq/logs"},
		{"jobs", l.Jobs(), "/srv/capq/jobs"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	want := []string{"/srv/capq", "/srv/capq/runs", "/srv/capq/logs", "/srv/capq/jobs"}
	if got := l.Dirs(); !slices.Equal(got, want) {
		t.Errorf("Dirs() = %v, want %v", got, want)
	}
}

func TestDefaultLayout_FollowsEnv(t *testing.T) {
	t.Setenv("CAPQ_PATH", "/tmp/test-capq")

	if got := ConfigPath(); got != "/tmp/test-capq/config.jsonc" {
		t.Errorf("ConfigPath() = %q", got)
	}
	if got := DotenvPath(); got != "/tmp/test-capq/.env" {
		t.Errorf("DotenvPath() = %q", got)
	}
}
