package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/buzkaaclicker/profiles"
	"github.com/gofiber/fiber/v2"
)

type ProfileController struct {
	Service profiles.ProfileService
	// Yields the authenticated user id, HeaderIdentity by default.
	Identity fiber.Handler
}

func (c *ProfileController) InstallTo(app *fiber.App) {
	identity := c.Identity
	if identity == nil {
		identity = HeaderIdentity(DefaultIdentityHeader)
	}
	app.Get("/me", combineHandlers(identity, c.serveOwnProfile))
	app.Put("/me", combineHandlers(identity, c.serveSaveOwnProfile))
	app.Get("/profile/:user_id", c.serveProfile)
}

func (c *ProfileController) serveOwnProfile(ctx *fiber.Ctx) error {
	userId, ok := currentUserId(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}
	view, err := c.Service.OwnProfile(ctx.Context(), userId)
	if err != nil {
		return fmt.Errorf("own profile: %w", err)
	}
	requestLog(ctx).WithField("user_id", userId).Infoln("Retrieved own profile.")
	return ctx.JSON(view)
}

func (c *ProfileController) serveProfile(ctx *fiber.Ctx) error {
	userIdStr := ctx.Params("user_id")
	if userIdStr == "" {
		return fiber.NewError(fiber.StatusBadRequest, "no user id")
	}
	userId, err := profiles.ParseUserId(userIdStr)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}

	view, err := c.Service.ProfileByUserId(ctx.Context(), userId)
	if err != nil {
		return fmt.Errorf("get profile by user id: %w", err)
	}
	return ctx.JSON(view)
}

func (c *ProfileController) serveSaveOwnProfile(ctx *fiber.Ctx) error {
	userId, ok := currentUserId(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}
	update, err := parseProfileUpdate(ctx)
	if err != nil {
		return err
	}

	view, err := c.Service.SaveOwnProfile(ctx.Context(), userId, update)
	if err != nil {
		return fmt.Errorf("save own profile: %w", err)
	}
	requestLog(ctx).WithField("user_id", userId).Infoln("Saved own profile.")
	return ctx.JSON(view)
}

// Accepts multipart and urlencoded forms as well as json bodies. Fields missing
// from the body stay unset, fields sent empty clear the stored value.
func parseProfileUpdate(ctx *fiber.Ctx) (profiles.ProfileUpdate, error) {
	var update profiles.ProfileUpdate
	contentType := strings.ToLower(ctx.Get(fiber.HeaderContentType))
	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		form, err := ctx.MultipartForm()
		if err != nil {
			requestLog(ctx).WithError(err).Infoln("Invalid multipart body.")
			return update, fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
		update.DisplayName = formValue(form, "display_name")
		update.Bio = formValue(form, "bio")
		icon, err := formIcon(form)
		if err != nil {
			return update, fmt.Errorf("read icon: %w", err)
		}
		update.Icon = icon
	case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
		args := ctx.Request().PostArgs()
		for _, field := range []struct {
			key   string
			value *profiles.OptionalString
		}{
			{"display_name", &update.DisplayName},
			{"bio", &update.Bio},
		} {
			if args.Has(field.key) {
				*field.value = profiles.SetTo(string(args.Peek(field.key)))
			}
		}
	case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
		if err := json.Unmarshal(ctx.Body(), &update); err != nil {
			requestLog(ctx).WithError(err).Infoln("Invalid json body.")
			return update, fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	return update, nil
}

func formValue(form *multipart.Form, key string) profiles.OptionalString {
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return profiles.OptionalString{}
	}
	return profiles.SetTo(values[0])
}

func formIcon(form *multipart.Form) (*profiles.IconUpload, error) {
	files := form.File["icon"]
	if len(files) == 0 {
		return nil, nil
	}
	header := files[0]
	// browsers send an empty part when no file was picked
	if header.Filename == "" && header.Size == 0 {
		return nil, nil
	}
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open part: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read part: %w", err)
	}
	return &profiles.IconUpload{
		Data:        data,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Filename:    header.Filename,
	}, nil
}
