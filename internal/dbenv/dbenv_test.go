package dbenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveEnvVarWins(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://env-wins")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TEST_DB_URL=postgres://file-loses\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve("TEST_DB_URL", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if got != "postgres://env-wins" {
		t.Errorf("got %q", got)
	}
}

func TestResolveEnvFileFallback(t *testing.T) {
	t.Setenv("TEST_DB_URL2", "")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# comment\n\nOTHER=x\nTEST_DB_URL2=\"postgres://quoted\"\nNOEQUALS\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve("TEST_DB_URL2", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if got != "postgres://quoted" {
		t.Errorf("got %q", got)
	}
}

func TestResolveMissingEverywhere(t *testing.T) {
	t.Setenv("TEST_DB_URL3", "")

	if _, err := Resolve("TEST_DB_URL3", filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("expected error when unset and no .env")
	}
}
