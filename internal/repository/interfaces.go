package repository

import "github.com/JaysonAlbert/log-search-mcp/internal/domain"

// HistoryRepoIface 抽象历史仓库。
type HistoryRepoIface interface {
	InsertBatch([]domain.SearchHistory) error
	ListRecent(int) ([]domain.SearchHistory, error)
	ListFiltered(int, string, string) ([]domain.SearchHistory, error)
	Cleanup(int, int) error
	EnsureSchema() error
}

// 编译期断言本地实现满足接口
var _ HistoryRepoIface = (*HistoryRepo)(nil)
