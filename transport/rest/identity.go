package rest

import (
	"github.com/buzkaaclicker/profiles"
	"github.com/gofiber/fiber/v2"
)

const (
	DefaultIdentityHeader = "X-User-Id"
	userIdLocalsKey       = "user_id"
)

// HeaderIdentity trusts the user id the upstream authenticator put into header.
func HeaderIdentity(header string) fiber.Handler {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return func(ctx *fiber.Ctx) error {
		raw := ctx.Get(header)
		if raw == "" {
			return fiber.ErrUnauthorized
		}
		userId, err := profiles.ParseUserId(raw)
		if err != nil || userId.IsZero() {
			requestLog(ctx).WithError(err).Infoln("Malformed identity header.")
			return fiber.ErrUnauthorized
		}
		ctx.Locals(userIdLocalsKey, userId)
		return nil
	}
}

func currentUserId(ctx *fiber.Ctx) (profiles.UserId, bool) {
	userId, ok := ctx.Locals(userIdLocalsKey).(profiles.UserId)
	return userId, ok
}
