package principal

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ContextKey is the request context key for the authenticated principal ID.
type ContextKey struct{}

// WithID stores the principal ID in the context.
func WithID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, ContextKey{}, id)
}

// FromContext returns the principal ID from context, if set.
func FromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(ContextKey{})
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
