package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/wallet"
)

const (
	journalFile     = "calls.log"
	memoryRingSize  = 512
	defaultListSize = 20
	errDuplicateKey = 1062
)

// CallJournal 持久化已完成的合约调用。
type CallJournal interface {
	wallet.Journal
	ListLatest(ctx context.Context, limit int) ([]wallet.CallRecord, error)
	Close() error
}

// MemoryCallJournal 以 JSON Lines 追加写入本地文件，并在内存中保留最近的调用记录。
type MemoryCallJournal struct {
	mu       sync.RWMutex
	dataFile string
	records  []wallet.CallRecord
}

// NewMemoryCallJournal 创建文件日志，启动时回放已有记录。
func NewMemoryCallJournal(dataDir string) (*MemoryCallJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	j := &MemoryCallJournal{dataFile: filepath.Join(dataDir, journalFile)}
	if err := j.loadFromDisk(); err != nil {
		return nil, err
	}
	return j, nil
}

// Record 以追加写的方式记录一次调用。
func (m *MemoryCallJournal) Record(_ context.Context, record wallet.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开调用日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化调用记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入调用日志失败")
	}

	m.records = append([]wallet.CallRecord{record}, m.records...)
	if len(m.records) > memoryRingSize {
		m.records = m.records[:memoryRingSize]
	}
	return nil
}

// ListLatest 返回最近的调用记录，按时间倒序排列。limit 不大于 0 时返回全部缓存。
func (m *MemoryCallJournal) ListLatest(_ context.Context, limit int) ([]wallet.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]wallet.CallRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 CallJournal。
func (m *MemoryCallJournal) Close() error { return nil }

func (m *MemoryCallJournal) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取调用日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []wallet.CallRecord
	for scanner.Scan() {
		var record wallet.CallRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]wallet.CallRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析调用日志失败: %w", err)
	}

	if len(restored) > memoryRingSize {
		restored = restored[:memoryRingSize]
	}
	m.records = restored
	return nil
}

// SQLCallJournal 使用 MySQL 存储调用记录。
type SQLCallJournal struct {
	db *sql.DB
}

// NewSQLCallJournal 建立连接池并执行内置迁移。
func NewSQLCallJournal(ctx context.Context, cfg Config) (*SQLCallJournal, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化调用日志失败")
	}
	j := &SQLCallJournal{db: db}
	if err := j.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行调用日志迁移失败")
	}
	return j, nil
}

const insertCallSQL = `INSERT INTO contract_calls
    (id, session_id, kind, operation, args_json, account, outcome, error_code, error_message, tx_hash, issued_at, duration_ms)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectLatestCallsSQL = `SELECT id, session_id, kind, operation, args_json, account, outcome, error_code, error_message, tx_hash, issued_at, duration_ms
    FROM contract_calls ORDER BY issued_at DESC, id DESC LIMIT ?`

// Record 写入一条调用记录。同一 ID 重复写入视为成功。
func (s *SQLCallJournal) Record(ctx context.Context, record wallet.CallRecord) error {
	var args, message sql.NullString
	if len(record.Args) > 0 {
		args = sql.NullString{String: string(record.Args), Valid: true}
	}
	if record.Error != "" {
		message = sql.NullString{String: record.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, insertCallSQL,
		record.ID,
		record.SessionID,
		string(record.Kind),
		record.Operation,
		args,
		record.Account,
		record.Outcome,
		record.ErrorCode,
		message,
		record.TxHash,
		record.IssuedAt.UnixMilli(),
		record.DurationMS,
	)
	if err != nil {
		var mysqlErr *mysqldrv.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateKey {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入调用记录失败")
	}
	return nil
}

// ListLatest 查询最近的调用记录。
func (s *SQLCallJournal) ListLatest(ctx context.Context, limit int) ([]wallet.CallRecord, error) {
	if limit <= 0 {
		limit = defaultListSize
	}

	rows, err := s.db.QueryContext(ctx, selectLatestCallsSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用记录失败")
	}
	defer rows.Close()

	var records []wallet.CallRecord
	for rows.Next() {
		var (
			record   wallet.CallRecord
			kind     string
			args     sql.NullString
			message  sql.NullString
			issuedAt int64
		)
		if err := rows.Scan(&record.ID, &record.SessionID, &kind, &record.Operation, &args, &record.Account,
			&record.Outcome, &record.ErrorCode, &message, &record.TxHash, &issuedAt, &record.DurationMS); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用记录失败")
		}
		record.Kind = wallet.CallKind(kind)
		if args.Valid {
			record.Args = json.RawMessage(args.String)
		}
		record.Error = message.String
		record.IssuedAt = time.UnixMilli(issuedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调用记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLCallJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
