package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

const historyColumns = `id,request_id,server,pattern,time_range,status,line_count,truncated,error_text,started_at,finished_at,duration_ms`

type HistoryRepo struct{ db *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// EnsureSchema 建表并补齐旧库缺失的列（幂等）
func (r *HistoryRepo) EnsureSchema() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS search_history(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		server TEXT NOT NULL,
		pattern TEXT NOT NULL,
		time_range TEXT,
		status TEXT NOT NULL,
		line_count INTEGER,
		truncated INTEGER,
		error_text TEXT,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		duration_ms INTEGER
	)`); err != nil {
		return fmt.Errorf("create search_history: %w", err)
	}
	// columns added after the first release; sqlite has no ADD COLUMN IF NOT EXISTS
	for _, stmt := range []string{
		"ALTER TABLE search_history ADD COLUMN request_id TEXT",
		"ALTER TABLE search_history ADD COLUMN truncated INTEGER",
	} {
		if _, err := r.db.Exec(stmt); err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("migrate search_history: %w", err)
		}
	}
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_search_history_server ON search_history(server, id)`); err != nil {
		return fmt.Errorf("index search_history: %w", err)
	}
	return nil
}

// InsertBatch writes rows in one transaction.
func (r *HistoryRepo) InsertBatch(list []domain.SearchHistory) error {
	if len(list) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO search_history(request_id,server,pattern,time_range,status,line_count,truncated,error_text,started_at,finished_at,duration_ms)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := range list {
		h := &list[i]
		if h.StartedAt.IsZero() {
			h.StartedAt = time.Now()
		}
		if h.FinishedAt.IsZero() {
			h.FinishedAt = h.StartedAt
		}
		res, err := stmt.Exec(h.RequestID, h.Server, h.Pattern, h.TimeRange, h.Status, h.LineCount, h.Truncated, h.ErrorText, h.StartedAt, h.FinishedAt, h.DurationMs)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		h.ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

func (r *HistoryRepo) ListRecent(limit int) ([]domain.SearchHistory, error) {
	return r.ListFiltered(limit, "", "")
}

// ListFiltered 支持按 server（精确）与 pattern 关键字（模糊）过滤。传空表示忽略该条件。
func (r *HistoryRepo) ListFiltered(limit int, server, patternLike string) ([]domain.SearchHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []any{}
	if server != "" {
		where += " AND server = ?"
		args = append(args, server)
	}
	if patternLike != "" {
		where += " AND pattern LIKE ?"
		args = append(args, "%"+patternLike+"%")
	}
	q := `SELECT ` + historyColumns + ` FROM search_history WHERE 1=1` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.SearchHistory
	for rows.Next() {
		var (
			h                              domain.SearchHistory
			reqID, timeRange, errText      sql.NullString
			lineCount, truncated, duration sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &reqID, &h.Server, &h.Pattern, &timeRange, &h.Status, &lineCount, &truncated, &errText, &h.StartedAt, &h.FinishedAt, &duration); err != nil {
			return nil, err
		}
		h.RequestID, h.TimeRange, h.ErrorText = reqID.String, timeRange.String, errText.String
		h.LineCount, h.Truncated, h.DurationMs = int(lineCount.Int64), truncated.Int64 != 0, duration.Int64
		list = append(list, h)
	}
	return list, rows.Err()
}

// Cleanup 根据保留天数与最大行数裁剪
func (r *HistoryRepo) Cleanup(retentionDays, maxRows int) error {
	if retentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
		if _, err := r.db.Exec(`DELETE FROM search_history WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if maxRows > 0 {
		// 删除超过 maxRows 的最旧行
		if _, err := r.db.Exec(`DELETE FROM search_history WHERE id IN (SELECT id FROM search_history ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRows); err != nil {
			return err
		}
	}
	return nil
}
