package middlewares

import (
	"context"

	"github.com/qdb-io/qdbd/internal/domain/model"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userKey
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// GetRequestID devuelve el request id inyectado por WithRequestID ("" si no hay).
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func setUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// GetUser devuelve el usuario autenticado del contexto (nil si no hay).
func GetUser(ctx context.Context) *model.User {
	if v, ok := ctx.Value(userKey).(*model.User); ok {
		return v
	}
	return nil
}
