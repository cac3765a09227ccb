package run

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"autofleet/internal/fleet"
	"autofleet/internal/node"
	"autofleet/pkg/config"
)

func TestEnsureConfig_WritesLoadableTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.toml")

	created, err := ensureConfig(path)
	if err != nil {
		t.Fatalf("ensureConfig: %v", err)
	}
	if !created {
		t.Fatal("expected the template to be written")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Bus.Channel != "autostackqueue:results" {
		t.Errorf("Bus.Channel: got %s, want autostackqueue:results", cfg.Bus.Channel)
	}
	if cfg.Inventory.Path != "/etc/autofleet/inventory.yaml" {
		t.Errorf("Inventory.Path: got %s", cfg.Inventory.Path)
	}
}

func TestEnsureConfig_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[log]\n  level = \"debug\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	created, err := ensureConfig(path)
	if err != nil {
		t.Fatalf("ensureConfig: %v", err)
	}
	if created {
		t.Error("existing config was overwritten")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "[log]\n  level = \"debug\"\n" {
		t.Errorf("content changed: %q", data)
	}
}

func TestFindEditor_Env(t *testing.T) {
	t.Setenv("EDITOR", "ed")
	editor, err := findEditor()
	if err != nil || editor != "ed" {
		t.Errorf("findEditor: got %q, %v", editor, err)
	}
}

func TestWriteINI(t *testing.T) {
	ctx := fleet.New()
	ctx.Set("web", []node.Node{node.NewGeneric("10.0.0.5", node.WithUser("deploy"))})

	writeINI("", ctx, zerolog.Nop())

	path := filepath.Join(t.TempDir(), "hosts.ini")
	writeINI(path, ctx, zerolog.Nop())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read INI: %v", err)
	}
	if !strings.Contains(string(data), "10.0.0.5 connection=smart ansible_ssh_user=deploy") {
		t.Errorf("INI missing stripe:\n%s", data)
	}
}
