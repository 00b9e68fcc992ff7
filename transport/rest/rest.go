package rest

import (
	"encoding/json"
	"errors"

	"github.com/buzkaaclicker/profiles"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func requestLog(ctx *fiber.Ctx) *logrus.Entry {
	return RequestLog(ctx)
}

func RequestLog(ctx *fiber.Ctx) *logrus.Entry {
	return logrus.
		WithField("remote_addr", ctx.Context().RemoteAddr()).
		WithField("method", ctx.Method()).
		WithField("path", ctx.Path()).
		WithField("z_referer", string(ctx.Request().Header.Peek("Referer"))).
		WithField("z_user_agent", string(ctx.Request().Header.Peek("User-Agent"))).
		WithField("z_x_forwared_for", string(ctx.Request().Header.Peek("X-Forwarded-For")))
}

func ErrorHandler(ctx *fiber.Ctx, err error) error {
	var fe *fiber.Error
	var badRequest *profiles.BadRequestError
	switch {
	case errors.As(err, &fe):
		return ctx.Status(fe.Code).JSON(&ErrorResponse{Detail: fe.Message})
	case errors.As(err, &badRequest):
		requestLog(ctx).WithError(err).Infoln("Bad request.")
		return ctx.Status(fiber.StatusBadRequest).JSON(&ErrorResponse{Detail: badRequest.Reason})
	case errors.Is(err, profiles.ErrProfileNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(&ErrorResponse{Detail: "Profile not found"})
	case errors.Is(err, profiles.ErrConflict):
		return ctx.Status(fiber.StatusConflict).
			JSON(&ErrorResponse{Detail: "Profile potentially already exists or data conflict."})
	default:
		requestLog(ctx).WithError(err).Errorln("Internal server error.")
		// keep internal server errors private. reply with generic error message.
		return ctx.
			Status(fiber.StatusInternalServerError).
			JSON(&ErrorResponse{Detail: fiber.ErrInternalServerError.Message})
	}
}

func NotFoundHandler(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound)
}

func combineHandlers(handlers ...fiber.Handler) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		for _, handler := range handlers {
			err := handler(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func jsonDetailResponse(detail string) string {
	bytes, err := json.Marshal(ErrorResponse{Detail: detail})
	if err != nil {
		panic(err)
	}
	return string(bytes)
}
