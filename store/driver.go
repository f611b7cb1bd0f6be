package store

import (
	"context"
	"database/sql"
	"time"
)

// Driver is an interface for store driver.
// It contains all methods that the store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// ActivityLog model related methods.
	CreateActivityLog(ctx context.Context, create *ActivityLog) (*ActivityLog, error)
	ListActivityLogs(ctx context.Context, find *FindActivityLog) ([]*ActivityLog, error)
	CountActivityLogs(ctx context.Context, find *FindActivityLog) (int64, error)
	UpdateActivityLog(ctx context.Context, update *UpdateActivityLog) error

	// VectorSearchLogs performs semantic search over logs using vector
	// similarity. Results below the threshold are excluded.
	VectorSearchLogs(ctx context.Context, opts *VectorSearchLogsOptions) ([]*LogWithScore, error)
	// TextSearchLogs performs the fallback substring/tag-containment search.
	TextSearchLogs(ctx context.Context, opts *TextSearchLogsOptions) ([]*ActivityLog, error)
	// FindLogsWithoutEmbedding finds logs that still need an embedding.
	FindLogsWithoutEmbedding(ctx context.Context, limit int) ([]*ActivityLog, error)
	// ListActiveUserIDs lists users with leaf activity in [start, end].
	ListActiveUserIDs(ctx context.Context, start, end time.Time) ([]int32, error)

	// KnowledgeItem model related methods.
	CreateKnowledgeItem(ctx context.Context, create *KnowledgeItem) (*KnowledgeItem, error)
	ListKnowledgeItems(ctx context.Context, find *FindKnowledgeItem) ([]*KnowledgeItem, error)
	CountKnowledgeItems(ctx context.Context, find *FindKnowledgeItem) (int64, error)
	UpdateKnowledgeItem(ctx context.Context, update *UpdateKnowledgeItem) error
	DeleteKnowledgeItem(ctx context.Context, id string) error
	VectorSearchKnowledge(ctx context.Context, opts *VectorSearchKnowledgeOptions) ([]*KnowledgeWithScore, error)
	TextSearchKnowledge(ctx context.Context, opts *TextSearchKnowledgeOptions) ([]*KnowledgeItem, error)

	// PushSubscription model related methods.
	CreatePushSubscription(ctx context.Context, create *PushSubscription) (*PushSubscription, error)
	ListPushSubscriptions(ctx context.Context, find *FindPushSubscription) ([]*PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id string) error
}
