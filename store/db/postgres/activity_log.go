package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/retracehq/retrace/store"
)

const activityLogFields = `id, user_id, type, summary, details, tags, embedding, started_at, ended_at, created_ts, source_log_ids, parent_id`

// CreateActivityLog inserts a log. Aggregates conflicting on the same
// (user, type, window) replace the previous run's row.
func (d *DB) CreateActivityLog(ctx context.Context, create *store.ActivityLog) (*store.ActivityLog, error) {
	detailsBytes, err := marshalDetails(create.Details)
	if err != nil {
		return nil, err
	}

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO activity_log (` + activityLogFields + `)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (user_id, type, started_at, ended_at) WHERE source_log_ids IS NOT NULL
		DO UPDATE SET
			summary = EXCLUDED.summary,
			details = EXCLUDED.details,
			tags = EXCLUDED.tags,
			embedding = EXCLUDED.embedding,
			source_log_ids = EXCLUDED.source_log_ids,
			created_ts = EXCLUDED.created_ts
		RETURNING id, created_ts
	`

	err = d.db.QueryRowContext(ctx, stmt,
		create.ID,
		create.UserID,
		string(create.Type),
		create.Summary,
		detailsBytes,
		textArrayValue(create.Tags),
		vectorValue(create.Embedding),
		create.StartedAt.UTC(),
		create.EndedAt.UTC(),
		create.CreatedTs,
		textArrayValue(create.SourceLogIDs),
		create.ParentID,
	).Scan(&create.ID, &create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create activity log")
	}

	return create, nil
}

func activityLogFilter(find *store.FindActivityLog) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Type != nil {
		where, args = append(where, "type = "+placeholder(len(args)+1)), append(args, string(*find.Type))
	}
	if find.HasSummary {
		where = append(where, "summary IS NOT NULL")
	}
	if find.StartedAfter != nil {
		where, args = append(where, "started_at >= "+placeholder(len(args)+1)), append(args, find.StartedAfter.UTC())
	}
	if find.StartedBefore != nil {
		where, args = append(where, "started_at <= "+placeholder(len(args)+1)), append(args, find.StartedBefore.UTC())
	}
	if len(find.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(find.Tags))
	}

	return where, args
}

// ListActivityLogs lists logs matching the find condition.
func (d *DB) ListActivityLogs(ctx context.Context, find *store.FindActivityLog) ([]*store.ActivityLog, error) {
	where, args := activityLogFilter(find)

	order := "created_ts DESC"
	if find.OrderByStartedAtAsc {
		order = "started_at ASC"
	} else if find.OrderByStartedAtDesc {
		order = "started_at DESC"
	}

	query := `
		SELECT ` + activityLogFields + `
		FROM activity_log
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + order

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
		return nil, errors.Wrap(err, "failed to list activity logs")
	}
	defer rows.Close()

	list := []*store.ActivityLog{}
	for rows.Next() {
		log, err := scanActivityLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// CountActivityLogs counts logs matching the find condition.
func (d *DB) CountActivityLogs(ctx context.Context, find *store.FindActivityLog) (int64, error) {
	where, args := activityLogFilter(find)

	query := `SELECT count(*) FROM activity_log WHERE ` + strings.Join(where, " AND ")

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count activity logs")
	}
	return count, nil
}

// UpdateActivityLog applies the embedding backfill or compaction mutation.
func (d *DB) UpdateActivityLog(ctx context.Context, update *store.UpdateActivityLog) error {
	set, args := []string{}, []any{}

	if update.Summary != nil {
		set, args = append(set, "summary = "+placeholder(len(args)+1)), append(args, *update.Summary)
	}
	if update.Details != nil {
		detailsBytes, err := marshalDetails(update.Details)
		if err != nil {
			return err
		}
		set, args = append(set, "details = "+placeholder(len(args)+1)), append(args, detailsBytes)
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

	stmt := `UPDATE activity_log SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)

	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update activity log")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Errorf("activity log %s not found", update.ID)
	}
	return nil
}

// VectorSearchLogs performs vector similarity search using pgvector.
// The <=> operator computes cosine distance, so similarity is 1 - distance
// and ordering by distance ascending returns the most similar first.
func (d *DB) VectorSearchLogs(ctx context.Context, opts *store.VectorSearchLogsOptions) ([]*store.LogWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + qualified("l", activityLogFields) + `,
			1 - (l.embedding <=> ` + placeholder(1) + `) AS score
		FROM activity_log l
		WHERE l.user_id = ` + placeholder(2) + `
			AND l.embedding IS NOT NULL
			AND 1 - (l.embedding <=> ` + placeholder(1) + `) >= ` + placeholder(3) + `
		ORDER BY l.embedding <=> ` + placeholder(1) + `
		LIMIT ` + placeholder(4)

	rows, err := d.db.QueryContext(ctx, query,
		vectorValue(opts.Vector),
		opts.UserID,
		opts.Threshold,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search logs")
	}
	defer rows.Close()

	results := []*store.LogWithScore{}
	for rows.Next() {
		log, score, err := scanActivityLogWithScore(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.LogWithScore{Log: log, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// TextSearchLogs performs the fallback search: case-insensitive substring
// match on summary, or tag array containment on the query term.
func (d *DB) TextSearchLogs(ctx context.Context, opts *store.TextSearchLogsOptions) ([]*store.ActivityLog, error) {
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
		where = append(where, "(summary ILIKE '%' || "+p+" || '%' OR tags @> ARRAY[lower("+p+")])")
	}
	if len(opts.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(opts.Tags))
	}

	query := `
		SELECT ` + activityLogFields + `
		FROM activity_log
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to text search logs")
	}
	defer rows.Close()

	list := []*store.ActivityLog{}
	for rows.Next() {
		log, err := scanActivityLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// FindLogsWithoutEmbedding finds logs whose embedding backfill is pending.
func (d *DB) FindLogsWithoutEmbedding(ctx context.Context, limit int) ([]*store.ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + activityLogFields + `
		FROM activity_log
		WHERE embedding IS NULL AND summary IS NOT NULL
		ORDER BY created_ts DESC
		LIMIT ` + placeholder(1)

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find logs without embedding")
	}
	defer rows.Close()

	list := []*store.ActivityLog{}
	for rows.Next() {
		log, err := scanActivityLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// ListActiveUserIDs lists users with summarized leaf activity in [start, end].
func (d *DB) ListActiveUserIDs(ctx context.Context, start, end time.Time) ([]int32, error) {
	query := `
		SELECT DISTINCT user_id
		FROM activity_log
		WHERE type = ` + placeholder(1) + `
			AND summary IS NOT NULL
			AND started_at >= ` + placeholder(2) + `
			AND started_at <= ` + placeholder(3)

	rows, err := d.db.QueryContext(ctx, query, string(store.LogTypeScreenCapture), start.UTC(), end.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active users")
	}
	defer rows.Close()

	ids := []int32{}
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan user id")
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivityLog(row rowScanner) (*store.ActivityLog, error) {
	var log store.ActivityLog
	var detailsBytes []byte
	var tags, sourceLogIDs pq.StringArray
	var embedding nullVector

	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.Type,
		&log.Summary,
		&detailsBytes,
		&tags,
		&embedding,
		&log.StartedAt,
		&log.EndedAt,
		&log.CreatedTs,
		&sourceLogIDs,
		&log.ParentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan activity log")
	}

	if len(detailsBytes) > 0 {
		if err := json.Unmarshal(detailsBytes, &log.Details); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal details")
		}
	}
	log.Tags = tags
	log.SourceLogIDs = sourceLogIDs
	log.Embedding = embedding.slice()
	log.StartedAt = log.StartedAt.UTC()
	log.EndedAt = log.EndedAt.UTC()

	return &log, nil
}

func scanActivityLogWithScore(row rowScanner) (*store.ActivityLog, float32, error) {
	var log store.ActivityLog
	var detailsBytes []byte
	var tags, sourceLogIDs pq.StringArray
	var embedding nullVector
	var score float32

	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.Type,
		&log.Summary,
		&detailsBytes,
		&tags,
		&embedding,
		&log.StartedAt,
		&log.EndedAt,
		&log.CreatedTs,
		&sourceLogIDs,
		&log.ParentID,
		&score,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to scan activity log result")
	}

	if len(detailsBytes) > 0 {
		if err := json.Unmarshal(detailsBytes, &log.Details); err != nil {
			return nil, 0, errors.Wrap(err, "failed to unmarshal details")
		}
	}
	log.Tags = tags
	log.SourceLogIDs = sourceLogIDs
	log.Embedding = embedding.slice()
	log.StartedAt = log.StartedAt.UTC()
	log.EndedAt = log.EndedAt.UTC()

	return &log, score, nil
}

// marshalDetails renders the details payload, nil for an empty map so the
// column stays NULL.
func marshalDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal details")
	}
	return b, nil
}

// textArrayValue returns the driver value for a nullable text[] column.
// An empty set is stored as NULL, not '{}'.
func textArrayValue(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return pq.Array(values)
}

// qualified prefixes each field in a comma-joined list with a table alias.
func qualified(alias, fields string) string {
	parts := strings.Split(fields, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
