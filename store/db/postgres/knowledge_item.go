package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/retracehq/retrace/store"
)

const knowledgeItemFields = `id, user_id, title, content, url, tags, embedding, created_ts`

func (d *DB) CreateKnowledgeItem(ctx context.Context, create *store.KnowledgeItem) (*store.KnowledgeItem, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO knowledge_item (` + knowledgeItemFields + `)
		VALUES (` + placeholders(8) + `)
		RETURNING id, created_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Title,
		create.Content,
		create.URL,
		textArrayValue(create.Tags),
		vectorValue(create.Embedding),
		create.CreatedTs,
	).Scan(&create.ID, &create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create knowledge item")
	}

	return create, nil
}

func knowledgeItemFilter(find *store.FindKnowledgeItem) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if len(find.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(find.Tags))
	}

	return where, args
}

func (d *DB) ListKnowledgeItems(ctx context.Context, find *store.FindKnowledgeItem) ([]*store.KnowledgeItem, error) {
	where, args := knowledgeItemFilter(find)

	query := `
		SELECT ` + knowledgeItemFields + `
		FROM knowledge_item
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`

	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list knowledge items")
	}
	defer rows.Close()

	list := []*store.KnowledgeItem{}
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) CountKnowledgeItems(ctx context.Context, find *store.FindKnowledgeItem) (int64, error) {
	where, args := knowledgeItemFilter(find)

	query := `SELECT count(*) FROM knowledge_item WHERE ` + strings.Join(where, " AND ")

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count knowledge items")
	}
	return count, nil
}

func (d *DB) UpdateKnowledgeItem(ctx context.Context, update *store.UpdateKnowledgeItem) error {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.URL != nil {
		set, args = append(set, "url = "+placeholder(len(args)+1)), append(args, *update.URL)
	}
	if update.Tags != nil {
		set, args = append(set, "tags = "+placeholder(len(args)+1)), append(args, textArrayValue(update.Tags))
	}
	if update.Embedding != nil {
		set, args = append(set, "embedding = "+placeholder(len(args)+1)), append(args, vectorValue(update.Embedding))
	}
	if len(set) == 0 {
		return errors.New("no fields to update")
	}

	stmt := `UPDATE knowledge_item SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)

	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update knowledge item")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Errorf("knowledge item %s not found", update.ID)
	}
	return nil
}

func (d *DB) DeleteKnowledgeItem(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM knowledge_item WHERE id = `+placeholder(1), id)
	if err != nil {
		return errors.Wrap(err, "failed to delete knowledge item")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Errorf("knowledge item %s not found", id)
	}
	return nil
}

func (d *DB) VectorSearchKnowledge(ctx context.Context, opts *store.VectorSearchKnowledgeOptions) ([]*store.KnowledgeWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + qualified("k", knowledgeItemFields) + `,
			1 - (k.embedding <=> ` + placeholder(1) + `) AS score
		FROM knowledge_item k
		WHERE k.user_id = ` + placeholder(2) + `
			AND k.embedding IS NOT NULL
			AND 1 - (k.embedding <=> ` + placeholder(1) + `) >= ` + placeholder(3) + `
		ORDER BY k.embedding <=> ` + placeholder(1) + `
		LIMIT ` + placeholder(4)

	rows, err := d.db.QueryContext(ctx, query,
		vectorValue(opts.Vector),
		opts.UserID,
		opts.Threshold,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search knowledge items")
	}
	defer rows.Close()

	results := []*store.KnowledgeWithScore{}
	for rows.Next() {
		var item store.KnowledgeItem
		var tags pq.StringArray
		var embedding nullVector
		var score float32

		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Title,
			&item.Content,
			&item.URL,
			&tags,
			&embedding,
			&item.CreatedTs,
			&score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge item result")
		}
		item.Tags = tags
		item.Embedding = embedding.slice()
		results = append(results, &store.KnowledgeWithScore{Item: &item, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// TextSearchKnowledge performs the fallback search: case-insensitive
// substring match on title or content, or tag array containment.
func (d *DB) TextSearchKnowledge(ctx context.Context, opts *store.TextSearchKnowledgeOptions) ([]*store.KnowledgeItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{}, []any{}
	args = append(args, opts.UserID)
	where = append(where, "user_id = "+placeholder(1))

	if opts.Query != "" {
		p := placeholder(len(args) + 1)
		args = append(args, opts.Query)
		where = append(where, "(title ILIKE '%' || "+p+" || '%' OR content ILIKE '%' || "+p+" || '%' OR tags @> ARRAY[lower("+p+")])")
	}
	if len(opts.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(opts.Tags))
	}

	query := `
		SELECT ` + knowledgeItemFields + `
		FROM knowledge_item
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to text search knowledge items")
	}
	defer rows.Close()

	list := []*store.KnowledgeItem{}
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func scanKnowledgeItem(row rowScanner) (*store.KnowledgeItem, error) {
	var item store.KnowledgeItem
	var tags pq.StringArray
	var embedding nullVector

	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Title,
		&item.Content,
		&item.URL,
		&tags,
		&embedding,
		&item.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan knowledge item")
	}
	item.Tags = tags
	item.Embedding = embedding.slice()
	return &item, nil
}
