package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/retracehq/retrace/store"
)

func (d *DB) CreatePushSubscription(ctx context.Context, create *store.PushSubscription) (*store.PushSubscription, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO push_subscription (id, user_id, endpoint, secret, created_ts)
		VALUES (` + placeholders(5) + `)
		RETURNING id, created_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Endpoint,
		create.Secret,
		create.CreatedTs,
	).Scan(&create.ID, &create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create push subscription")
	}

	return create, nil
}

func (d *DB) ListPushSubscriptions(ctx context.Context, find *store.FindPushSubscription) ([]*store.PushSubscription, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT id, user_id, endpoint, secret, created_ts
		FROM push_subscription
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list push subscriptions")
	}
	defer rows.Close()

	list := []*store.PushSubscription{}
	for rows.Next() {
		var sub store.PushSubscription
		err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.Secret, &sub.CreatedTs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan push subscription")
		}
		list = append(list, &sub)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeletePushSubscription(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM push_subscription WHERE id = `+placeholder(1), id)
	if err != nil {
		return errors.Wrap(err, "failed to delete push subscription")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Errorf("push subscription %s not found", id)
	}
	return nil
}
