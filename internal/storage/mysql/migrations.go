package mysql

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"DappBridge/deploy/migrations"
	xerrors "DappBridge/internal/errors"
)

// 调用日志使用独立的迁移记录表，与同库其他服务的 schema_migrations 互不干扰。
const (
	createMigrationTableSQL = `CREATE TABLE IF NOT EXISTS contract_call_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        name VARCHAR(128) NOT NULL,
        checksum CHAR(64) NOT NULL,
        applied_at BIGINT NOT NULL
)`
	selectMigrationsSQL = `SELECT version, checksum FROM contract_call_migrations`
	insertMigrationSQL  = `INSERT INTO contract_call_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`
)

var embeddedMigrations fs.FS = migrations.Files

type journalMigration struct {
	version    string
	name       string
	checksum   string
	statements []string
}

// runMigrations 按版本顺序执行尚未应用的迁移。已应用的迁移若内容被改动则拒绝启动。
func (s *SQLCallJournal) runMigrations(ctx context.Context) error {
	return s.migrate(ctx, embeddedMigrations)
}

func (s *SQLCallJournal) migrate(ctx context.Context, source fs.FS) error {
	pending, err := loadJournalMigrations(source)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, createMigrationTableSQL); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建迁移记录表失败")
	}
	applied, err := s.appliedChecksums(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return xerrors.New(xerrors.CodeStorageFailure,
					fmt.Sprintf("迁移 %s 已执行但文件内容已变更", m.name),
					xerrors.WithMetadata("version", m.version))
			}
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLCallJournal) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, selectMigrationsSQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询迁移记录失败")
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析迁移记录失败")
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历迁移记录失败")
	}
	return applied, nil
}

func (s *SQLCallJournal) applyMigration(ctx context.Context, m journalMigration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启迁移事务失败")
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 失败", m.name))
		}
	}
	if _, err := tx.ExecContext(ctx, insertMigrationSQL, m.version, m.name, m.checksum, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录迁移版本失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交迁移事务失败")
	}
	return nil
}

// loadJournalMigrations 读取 NNNN_描述.sql 形式的迁移文件，版本号重复或缺失时报错。
func loadJournalMigrations(source fs.FS) ([]journalMigration, error) {
	names, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移目录失败")
	}

	seen := make(map[string]string, len(names))
	var out []journalMigration
	for _, name := range names {
		version, ok := migrationVersion(name)
		if !ok {
			return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移文件 %s 缺少版本前缀", name))
		}
		if other, dup := seen[version]; dup {
			return nil, xerrors.New(xerrors.CodeStorageFailure,
				fmt.Sprintf("迁移文件 %s 与 %s 版本号重复", name, other),
				xerrors.WithMetadata("version", version))
		}
		seen[version] = name

		content, err := fs.ReadFile(source, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		sum := sha256.Sum256(content)
		out = append(out, journalMigration{
			version:    version,
			name:       name,
			checksum:   hex.EncodeToString(sum[:]),
			statements: statements,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// splitSQLStatements 按分号切分语句，并去掉整行的 -- 注释。
func splitSQLStatements(content string) []string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func migrationVersion(name string) (string, bool) {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	idx := strings.IndexByte(base, '_')
	if idx <= 0 {
		return "", false
	}
	version := base[:idx]
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return version, true
}
