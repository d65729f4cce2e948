package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Paintersrp/corral/internal/config"
)

func TestConfigLintSuccess(t *testing.T) {
	manifest := configManifest(
		`version: "1"`,
		"products:",
		"  acme:",
		"    apps:",
		"      server:",
		"        path: /opt/acme/server",
		"        level: 5",
	)
	stdout, stderr, path, err := runConfigCommand(t, manifest, "lint")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	want := fmt.Sprintf("%s: OK\n", path)
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
	if stderr != "" {
		t.Fatalf("unexpected stderr output: %q", stderr)
	}
}

func TestConfigLintSchemaViolation(t *testing.T) {
	manifest := configManifest(
		`version: "1"`,
		"products:",
		"  acme:",
		"    apps:",
		"      server:",
		"        path: /opt/acme/server",
		"        level: -1",
	)
	stdout, stderr, _, err := runConfigCommand(t, manifest, "lint")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "schema validation failed") {
		t.Fatalf("stderr does not mention schema failure: %q", stderr)
	}
	if !strings.Contains(stderr, "level") {
		t.Fatalf("stderr does not mention level path: %q", stderr)
	}
}

func TestConfigLintDuplicateStartupEntry(t *testing.T) {
	manifest := configManifest(
		`version: "1"`,
		"startup:",
		"  - product: acme",
		"    app: server",
		"  - product: acme",
		"    app: server",
	)
	_, stderr, _, err := runConfigCommand(t, manifest, "validate")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(stderr, "duplicate entry for acme/server") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestConfigAddAndRemoveApp(t *testing.T) {
	path := writeConfigFile(t, configManifest(`version: "1"`))

	stdout, _, err := executeConfigCommand(t, path, "add-app", "acme", "worker", "/opt/acme/worker", "--level", "3")
	if err != nil {
		t.Fatalf("add-app returned error: %v", err)
	}
	if !strings.Contains(stdout, "registered acme/worker at level 3") {
		t.Fatalf("unexpected add-app output: %q", stdout)
	}

	doc, err := config.Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	app := doc.Products["acme"].Apps["worker"]
	if app == nil || app.Level != 3 {
		t.Fatalf("expected persisted worker at level 3, got %+v", app)
	}

	if _, _, err := executeConfigCommand(t, path, "remove-app", "acme", "worker"); err != nil {
		t.Fatalf("remove-app returned error: %v", err)
	}
	doc, err = config.Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if _, ok := doc.Products["acme"]; ok {
		t.Fatalf("expected empty product to be removed, got %+v", doc.Products)
	}

	if _, _, err := executeConfigCommand(t, path, "remove-app", "acme", "worker"); err == nil {
		t.Fatalf("expected error removing an unknown app")
	}
}

func TestConfigAddAppRejectsNegativeLevel(t *testing.T) {
	path := writeConfigFile(t, configManifest(`version: "1"`))
	if _, _, err := executeConfigCommand(t, path, "add-app", "acme", "worker", "/bin/true", "--level", "-2"); err == nil {
		t.Fatalf("expected negative level to be rejected")
	}
}

func runConfigCommand(t *testing.T, manifest string, args ...string) (string, string, string, error) {
	t.Helper()
	path := writeConfigFile(t, manifest)
	stdout, stderr, err := executeConfigCommand(t, path, args...)
	return stdout, stderr, path, err
}

func executeConfigCommand(t *testing.T, path string, args ...string) (string, string, error) {
	t.Helper()
	configPath := path
	ctx := &context{configPath: &configPath}
	cmd := newConfigCmd(ctx)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corral.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func configManifest(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
