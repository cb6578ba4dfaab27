// Copyright 2026 fstree Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const SchemaVersion = "1"

// DefaultBusyTimeout is the SQLite busy_timeout in milliseconds.
const DefaultBusyTimeout = 10000

// BusyTimeoutEnv overrides DefaultBusyTimeout.
const BusyTimeoutEnv = "FSTREE_BUSY_TIMEOUT"

// insertBatch bounds rows per INSERT to stay under SQLite's variable limit.
const insertBatch = 256

func busyTimeout() int {
	if v := os.Getenv(BusyTimeoutEnv); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return ms
		}
	}
	return DefaultBusyTimeout
}

func buildDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeout())
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trees (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    nodes INTEGER NOT NULL,
    subvol_path TEXT,
    subvol_uuid TEXT,
    subvol_ctransid INTEGER,
    parent_uuid TEXT,
    parent_ctransid INTEGER,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    tree_id INTEGER NOT NULL REFERENCES trees(id) ON DELETE CASCADE,
    node_id INTEGER NOT NULL,
    kind INTEGER NOT NULL,
    mode INTEGER NOT NULL,
    uid INTEGER NOT NULL,
    gid INTEGER NOT NULL,
    atime INTEGER,
    mtime INTEGER,
    ctime INTEGER,
    otime INTEGER,
    flags INTEGER NOT NULL,
    verity BLOB,
    size INTEGER NOT NULL,
    digest TEXT,
    target TEXT,
    rdev INTEGER NOT NULL,
    xattrs BLOB,
    PRIMARY KEY (tree_id, node_id)
);

CREATE TABLE IF NOT EXISTS names (
    tree_id INTEGER NOT NULL REFERENCES trees(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    path TEXT NOT NULL,
    node_id INTEGER NOT NULL,
    PRIMARY KEY (tree_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_names_path ON names(tree_id, path);
`

const initCatalog = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
`

// execPragma runs a PRAGMA through Query because libsql returns rows for
// PRAGMA statements.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	return rows.Close()
}

// applyPragmas sets connection PRAGMAs. libsql ignores DSN pragma
// parameters, so busy_timeout goes first and everything is explicit.
func applyPragmas(db *sql.DB) error {
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// execStatements runs a script one statement at a time; the libsql driver
// rejects multi-statement Exec.
func execStatements(db *sql.DB, script string, args ...any) error {
	argIdx := 0
	for _, stmt := range splitStatements(script) {
		n := strings.Count(stmt, "?")
		if _, err := db.Exec(stmt, args[argIdx:argIdx+n]...); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
		argIdx += n
	}
	return nil
}

func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
