package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func scriptFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationScripts_PairsUpAndDownByVersion(t *testing.T) {
	t.Parallel()

	fsys := scriptFS(map[string]string{
		"0001_create_users.up.sql":    "CREATE TABLE users (id BIGSERIAL PRIMARY KEY);",
		"0001_create_users.down.sql":  "DROP TABLE IF EXISTS users;",
		"0002_create_orders.up.sql":   "CREATE TABLE orders (id BIGSERIAL PRIMARY KEY);",
		"0002_create_orders.down.sql": "DROP TABLE IF EXISTS orders;",
	})

	scripts, err := loadMigrationScripts(fsys)
	if err != nil {
		t.Fatalf("loadMigrationScripts failed: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}

	if scripts[0].Version != 1 || scripts[0].Name != "create_users" {
		t.Fatalf("unexpected first script: %+v", scripts[0])
	}
	if scripts[1].Version != 2 || scripts[1].Name != "create_orders" {
		t.Fatalf("unexpected second script: %+v", scripts[1])
	}
	if !strings.Contains(scripts[0].Down, "DROP TABLE") {
		t.Fatalf("down body lost during assembly: %q", scripts[0].Down)
	}
}

func TestLoadMigrationScripts_RejectsUnpairedVersion(t *testing.T) {
	t.Parallel()

	fsys := scriptFS(map[string]string{
		"0001_create_users.up.sql": "CREATE TABLE users (id BIGSERIAL PRIMARY KEY);",
	})

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for script without a down file")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationScripts_RejectsInvalidFilename(t *testing.T) {
	t.Parallel()

	fsys := scriptFS(map[string]string{
		"create_outbox.sql": "SELECT 1;",
	})

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for invalid migration file name")
	}
}

func TestLoadMigrationScripts_RejectsEmptyBody(t *testing.T) {
	t.Parallel()

	fsys := scriptFS(map[string]string{
		"0001_create_users.up.sql":   "   \n",
		"0001_create_users.down.sql": "DROP TABLE IF EXISTS users;",
	})

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for empty migration body")
	}
}

func TestLoadMigrationScripts_RejectsNameMismatch(t *testing.T) {
	t.Parallel()

	fsys := scriptFS(map[string]string{
		"0001_create_users.up.sql":  "CREATE TABLE users (id BIGSERIAL PRIMARY KEY);",
		"0001_make_users.down.sql":  "DROP TABLE IF EXISTS users;",
		"0002_create_orders.up.sql": "CREATE TABLE orders (id BIGSERIAL PRIMARY KEY);",
	})

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for conflicting names in one version")
	}
	if !strings.Contains(err.Error(), "name mismatch") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseScriptName(t *testing.T) {
	t.Parallel()

	version, name, direction, err := parseScriptName("0003_create_outbox.down.sql")
	if err != nil {
		t.Fatalf("parseScriptName failed: %v", err)
	}
	if version != 3 || name != "create_outbox" || direction != migrationDown {
		t.Fatalf("unexpected parse result: %d %s %s", version, name, direction)
	}

	if _, _, _, err := parseScriptName("latest.sql"); err == nil {
		t.Fatal("expected error for malformed name")
	}
}
