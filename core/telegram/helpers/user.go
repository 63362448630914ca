package helpers

import "context"

// CurrentSession resolves a Telegram chat ID to a session record via a store
// that implements Get. The generic type T allows different projects to supply
// their own session model.
func CurrentSession[T any](
	ctx context.Context,
	store interface {
		Get(context.Context, int64) (T, error)
	},
	chatID int64,
) (T, error) {
	var zero T
	if store == nil {
		return zero, nil
	}
	return store.Get(ctx, chatID)
}
