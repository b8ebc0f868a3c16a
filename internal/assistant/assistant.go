package assistant

import (
	"context"

	"github.com/xaenox/messenger-relay/internal/models"
)

// Replier turns a user message into a structured reply.
// Implementations never fail: errors degrade to models.ApologyReply.
type Replier interface {
	GetReply(ctx context.Context, messageText string) models.Reply
}

// StaticReplier always answers with the same reply. It backs the relay when
// the assistant service is not configured.
type StaticReplier struct {
	reply models.Reply
}

func NewStaticReplier(reply models.Reply) *StaticReplier {
	return &StaticReplier{reply: reply}
}

func (r *StaticReplier) GetReply(ctx context.Context, messageText string) models.Reply {
	return r.reply
}
