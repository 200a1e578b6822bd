package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type requestDataKey struct{}

// RequestData is the already-authenticated caller identity supplied by the
// auth boundary. Authorization policy lives upstream; handlers only consult
// UserID and Role.
type RequestData struct {
	TokenString string
	UserID      uuid.UUID
	Role        string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// IsReviewer reports whether the caller may act on moderation items.
func (rd *RequestData) IsReviewer() bool {
	if rd == nil {
		return false
	}
	return rd.Role == "moderator" || rd.Role == "admin"
}
