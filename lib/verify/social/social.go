// Package social is the checker for posts made from an agent owner's social
// media account. No search API is wired up, so it never finds a post.
package social

import (
	"context"
	"log/slog"

	"github.com/oldschoolag/Faivr/lib/verify"
)

func init() {
	verify.Register(verify.MethodSocial, Checker{})
}

type Checker struct{}

func (Checker) Verify(_ context.Context, lg *slog.Logger, ch *verify.Challenge) bool {
	lg.Info("social: post lookup is not implemented, reporting not found", "post", verify.SocialPost(ch.AgentID, ch.Token))
	return false
}
