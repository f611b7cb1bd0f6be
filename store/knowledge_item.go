package store

import "context"

// KnowledgeItem is a reference entry in the knowledge base. It shares the
// embedding and search contract with activity logs but has no time-window
// relationship.
type KnowledgeItem struct {
	ID string

	// Standard fields
	UserID    int32
	CreatedTs int64

	// Domain specific fields
	Title     string
	Content   string
	URL       string
	Tags      []string
	Embedding []float32
}

// FindKnowledgeItem is the find condition for knowledge items.
type FindKnowledgeItem struct {
	ID     *string
	UserID *int32
	Tags   []string // match items whose tags overlap any of these
	Limit  *int
	Offset *int
}

// UpdateKnowledgeItem carries knowledge item mutations. The embedding must
// be recomputed whenever title/content/tags change.
type UpdateKnowledgeItem struct {
	ID        string
	Title     *string
	Content   *string
	URL       *string
	Tags      []string
	Embedding []float32
}

// KnowledgeWithScore is a vector search result with its similarity score.
type KnowledgeWithScore struct {
	Item  *KnowledgeItem
	Score float32
}

// VectorSearchKnowledgeOptions are the options for knowledge vector search.
type VectorSearchKnowledgeOptions struct {
	UserID    int32
	Vector    []float32
	Threshold float32
	Limit     int
}

// TextSearchKnowledgeOptions are the options for the fallback text search.
type TextSearchKnowledgeOptions struct {
	UserID int32
	Query  string   // case-insensitive substring match on title or content
	Tags   []string
	Limit  int
}

func (s *Store) CreateKnowledgeItem(ctx context.Context, create *KnowledgeItem) (*KnowledgeItem, error) {
	tags, err := normalizeTags(create.Tags)
	if err != nil {
		return nil, err
	}
	create.Tags = tags
	return s.driver.CreateKnowledgeItem(ctx, create)
}

func (s *Store) GetKnowledgeItem(ctx context.Context, find *FindKnowledgeItem) (*KnowledgeItem, error) {
	items, err := s.ListKnowledgeItems(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (s *Store) ListKnowledgeItems(ctx context.Context, find *FindKnowledgeItem) ([]*KnowledgeItem, error) {
	if find.Limit == nil {
		defaultLimit := 100
		find.Limit = &defaultLimit
	}
	return s.driver.ListKnowledgeItems(ctx, find)
}

// CountKnowledgeItems counts items matching the find condition without the
// listing cap.
func (s *Store) CountKnowledgeItems(ctx context.Context, find *FindKnowledgeItem) (int64, error) {
	return s.driver.CountKnowledgeItems(ctx, find)
}

func (s *Store) UpdateKnowledgeItem(ctx context.Context, update *UpdateKnowledgeItem) error {
	if update.Tags != nil {
		tags, err := normalizeTags(update.Tags)
		if err != nil {
			return err
		}
		update.Tags = tags
	}
	return s.driver.UpdateKnowledgeItem(ctx, update)
}

func (s *Store) DeleteKnowledgeItem(ctx context.Context, id string) error {
	return s.driver.DeleteKnowledgeItem(ctx, id)
}

func (s *Store) VectorSearchKnowledge(ctx context.Context, opts *VectorSearchKnowledgeOptions) ([]*KnowledgeWithScore, error) {
	return s.driver.VectorSearchKnowledge(ctx, opts)
}

func (s *Store) TextSearchKnowledge(ctx context.Context, opts *TextSearchKnowledgeOptions) ([]*KnowledgeItem, error) {
	return s.driver.TextSearchKnowledge(ctx, opts)
}
