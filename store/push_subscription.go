package store

import "context"

// PushSubscription is a registered notification endpoint for a user.
// Subscriptions live in the store rather than in process memory so that
// restarts keep them and tests can run with isolated instances.
type PushSubscription struct {
	ID        string
	UserID    int32
	Endpoint  string
	Secret    string
	CreatedTs int64
}

// FindPushSubscription is the find condition for push subscriptions.
type FindPushSubscription struct {
	ID     *string
	UserID *int32
}

func (s *Store) CreatePushSubscription(ctx context.Context, create *PushSubscription) (*PushSubscription, error) {
	return s.driver.CreatePushSubscription(ctx, create)
}

func (s *Store) ListPushSubscriptions(ctx context.Context, find *FindPushSubscription) ([]*PushSubscription, error) {
	return s.driver.ListPushSubscriptions(ctx, find)
}

func (s *Store) DeletePushSubscription(ctx context.Context, id string) error {
	return s.driver.DeletePushSubscription(ctx, id)
}
