package bars

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore sqlite 文件承载的K线存储。
// 表结构: klines(symbol, ts, open, high, low, close, volume, turnover)，
// ts 为分钟起始的 Unix 秒。数据文件由外部工具生成，这里只读。
type SQLiteStore struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenSQLite 打开K线数据文件
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开K线数据文件失败: %w", err)
	}

	stmt, err := db.Prepare(
		`SELECT open, high, low, close, volume, turnover FROM klines WHERE symbol = ? AND ts = ?`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("准备查询语句失败: %w", err)
	}

	return &SQLiteStore{db: db, stmt: stmt}, nil
}

func (s *SQLiteStore) Bar(symbol string, ts time.Time) (Bar, bool) {
	minute := Minute(ts)
	bar := Bar{Timestamp: minute}
	err := s.stmt.QueryRow(symbol, minute.Unix()).Scan(
		&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.Turnover)
	if err != nil {
		return Bar{}, false
	}
	return bar, true
}

func (s *SQLiteStore) Close() error {
	if s.stmt != nil {
		s.stmt.Close()
	}
	return s.db.Close()
}

// InitSchema 建表（写入工具与测试使用）
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS klines (
		symbol   TEXT NOT NULL,
		ts       INTEGER NOT NULL,
		open     REAL NOT NULL,
		high     REAL NOT NULL,
		low      REAL NOT NULL,
		close    REAL NOT NULL,
		volume   REAL NOT NULL,
		turnover REAL NOT NULL,
		PRIMARY KEY (symbol, ts)
	)`)
	return err
}

// WriteSeries 批量写入一个 symbol 的K线序列（写入工具与测试使用）
func WriteSeries(db *sql.DB, symbol string, series []Bar) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO klines (symbol, ts, open, high, low, close, volume, turnover)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range series {
		if _, err := stmt.Exec(symbol, Minute(b.Timestamp).Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Turnover); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
