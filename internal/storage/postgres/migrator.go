package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"embed"
)

// Миграции описывают схему таблиц users, orders и outbox_messages.
// Файлы живут в sql/migrations и встраиваются в бинарник: у каждой
// версии обязана быть пара NNNN_name.up.sql / NNNN_name.down.sql.
// Применение сериализуется advisory lock'ом, чтобы несколько реплик
// сервиса не катили миграции одновременно.

const (
	scriptsGlob       = "sql/migrations/*.sql"
	migrationLockKey  = int64(74920113)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	scriptNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// migrationScript — одна версия схемы с парой up/down скриптов.
type migrationScript struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrationState описывает состояние схемы относительно встроенных
// миграций: текущая версия, сколько применено и сколько ещё ждёт.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции.
// steps<=0 интерпретируется как 1 шаг для безопасного поведения.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus сверяет таблицу schema_migrations со встроенными
// скриптами и возвращает текущее состояние схемы.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, fmt.Errorf("postgres store is not initialized")
	}

	scripts, err := loadMigrationScripts(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := s.db.QueryContext(queryCtx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return MigrationState{}, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	var state MigrationState
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return MigrationState{}, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = true
		state.Applied++
		if version > state.Version {
			state.Version = version
		}
	}
	if err := rows.Err(); err != nil {
		return MigrationState{}, fmt.Errorf("iterate applied migrations: %w", err)
	}

	for _, script := range scripts {
		if !applied[script.Version] {
			state.Pending++
		}
	}

	return state, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	scripts, err := loadMigrationScripts(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	switch direction {
	case migrationUp:
		return rollForward(ctx, conn, scripts, steps)
	case migrationDown:
		return rollBack(ctx, conn, scripts, steps)
	default:
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}
}

func rollForward(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	done := 0
	for _, script := range scripts {
		if applied[script.Version] {
			continue
		}
		if err := runScript(ctx, conn, script, migrationUp); err != nil {
			return err
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}

	return nil
}

func rollBack(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	byVersion := make(map[int64]migrationScript, len(scripts))
	for _, script := range scripts {
		byVersion[script.Version] = script
	}

	versions, err := latestAppliedVersions(ctx, conn, steps)
	if err != nil {
		return err
	}

	for _, version := range versions {
		script, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		if err := runScript(ctx, conn, script, migrationDown); err != nil {
			return err
		}
	}

	return nil
}

// runScript выполняет скрипт и запись в schema_migrations в одной
// транзакции: версия считается применённой (или откаченной) только
// вместе с изменением схемы.
func runScript(ctx context.Context, conn *sql.Conn, script migrationScript, direction migrationDirection) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", direction, script.Version, err)
	}

	body := script.Up
	if direction == migrationDown {
		body = script.Down
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, script.Version, script.Name, err)
	}

	var record string
	var args []any
	if direction == migrationUp {
		record = `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`
		args = []any{script.Version, script.Name}
	} else {
		record = `DELETE FROM schema_migrations WHERE version = $1`
		args = []any{script.Version}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %d_%s: %w", direction, script.Version, script.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, script.Version, script.Name, err)
	}

	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		result[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return result, nil
}

func latestAppliedVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT version
		FROM schema_migrations
		ORDER BY version DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations desc: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration desc: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations desc: %w", err)
	}

	return versions, nil
}

// loadMigrationScripts собирает пары up/down файлов в упорядоченный
// список версий. Непарные, пустые и криво названные файлы — ошибка:
// лучше упасть на старте, чем молча пропустить половину миграции.
func loadMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	files, err := fs.Glob(fsys, scriptsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	scripts := make(map[int64]*migrationScript)
	for _, file := range files {
		base := filepath.Base(file)
		version, name, direction, err := parseScriptName(base)
		if err != nil {
			return nil, err
		}

		bodyRaw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(bodyRaw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		script, ok := scripts[version]
		if !ok {
			script = &migrationScript{Version: version, Name: name}
			scripts[version] = script
		} else if script.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, script.Name, name)
		}

		switch direction {
		case migrationUp:
			if script.Up != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			script.Up = body
		case migrationDown:
			if script.Down != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			script.Down = body
		}
	}

	versions := make([]int64, 0, len(scripts))
	for version := range scripts {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	ordered := make([]migrationScript, 0, len(versions))
	for _, version := range versions {
		script := scripts[version]
		if script.Up == "" || script.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", script.Version, script.Name)
		}
		ordered = append(ordered, *script)
	}

	return ordered, nil
}

func parseScriptName(base string) (int64, string, migrationDirection, error) {
	matches := scriptNamePattern.FindStringSubmatch(base)
	if len(matches) != 4 {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	version, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}

	return version, matches[2], migrationDirection(matches[3]), nil
}
