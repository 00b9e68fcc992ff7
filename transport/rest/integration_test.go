package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/buzkaaclicker/profiles/inmem"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	app     *fiber.App
	service *profiles.Service
	store   *inmem.ProfileStore
	blobs   *inmem.BlobStore
	cache   *inmem.ViewCache
}

func newStack() *stack {
	s := &stack{
		store: inmem.NewProfileStore(),
		blobs: inmem.NewBlobStore("https://blobs.test"),
		cache: inmem.NewViewCache(),
	}
	s.service = profiles.NewService(profiles.ServiceConfig{
		Store: s.store,
		Blobs: s.blobs,
		Cache: s.cache,
	})
	s.app = newProfileApp(s.service)
	return s
}

func (s *stack) do(t *testing.T, method string, path string, userId profiles.UserId, contentType string, body string) (int, profiles.ProfileView) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if !userId.IsZero() {
		req.Header.Set(DefaultIdentityHeader, userId.String())
	}
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	raw := readBody(t, resp)
	s.service.Flush()

	var view profiles.ProfileView
	if resp.StatusCode == fiber.StatusOK {
		require.NoError(t, json.Unmarshal([]byte(raw), &view))
	}
	return resp.StatusCode, view
}

func TestFirstTouchCreatesProfile(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	status, view := s.do(t, "GET", "/me", userId, "", "")
	assert.Equal(fiber.StatusOK, status)
	assert.Equal(userId, view.UserId)
	assert.Empty(view.DisplayName)
	assert.Empty(view.Bio)
	assert.Empty(view.AvatarUrl)
	assert.Equal(1, s.store.Len())

	status, again := s.do(t, "GET", "/me", userId, "", "")
	assert.Equal(fiber.StatusOK, status)
	assert.Equal(view.Id, again.Id)
	assert.Equal(1, s.store.Len())
}

func TestPartialUpdateKeepsOtherFields(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	status, created := s.do(t, "PUT", "/me", userId, fiber.MIMEApplicationJSON,
		`{"display_name":"Alice","bio":"hi"}`)
	require.Equal(t, fiber.StatusOK, status)

	status, updated := s.do(t, "PUT", "/me", userId, fiber.MIMEApplicationJSON, `{"bio":"new"}`)
	assert.Equal(fiber.StatusOK, status)
	assert.Equal("Alice", updated.DisplayName)
	assert.Equal("new", updated.Bio)
	assert.Equal(created.Id, updated.Id)
	assert.Equal(created.CreatedAt, updated.CreatedAt)
	assert.True(updated.UpdatedAt.After(created.UpdatedAt))
}

func TestWriteInvalidatesCachedViews(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	_, _ = s.do(t, "GET", "/me", userId, "", "")
	_, _ = s.do(t, "GET", "/profile/"+userId.String(), profiles.UserId{}, "", "")

	status, _ := s.do(t, "PUT", "/me", userId, fiber.MIMEApplicationJSON, `{"display_name":"Bob"}`)
	require.Equal(t, fiber.StatusOK, status)

	_, own := s.do(t, "GET", "/me", userId, "", "")
	assert.Equal("Bob", own.DisplayName)
	_, public := s.do(t, "GET", "/profile/"+userId.String(), profiles.UserId{}, "", "")
	assert.Equal("Bob", public.DisplayName)
}

func TestThirdPartyLookupNeverCreates(t *testing.T) {
	assert := assert.New(t)
	s := newStack()

	status, _ := s.do(t, "GET", "/profile/"+uuid.NewString(), profiles.UserId{}, "", "")
	assert.Equal(fiber.StatusNotFound, status)
	assert.Equal(0, s.store.Len())
}

func TestIconUploadResolvesSignedUrl(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	body, contentType := multipartBody(t, map[string]string{"display_name": "Alice"},
		multipartFile{field: "icon", filename: "a.png", contentType: "image/png", data: []byte{0x89, 'P', 'N', 'G'}})
	status, view := s.do(t, "PUT", "/me", userId, contentType, body.String())
	require.Equal(t, fiber.StatusOK, status)
	assert.True(strings.HasPrefix(view.AvatarUrl, "https://blobs.test/icons%2F"), view.AvatarUrl)
	assert.True(strings.Contains(view.AvatarUrl, ".png?expires="), view.AvatarUrl)
	assert.Equal(1, s.blobs.Len())

	stored, found, err := s.store.ByUserId(t.Context(), userId)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(strings.HasPrefix(stored.AvatarKey, "icons/"))
	assert.NotContains(stored.AvatarKey, "https://")
}

func TestUnresolvableIconLeavesProfileUntouched(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	status, _ := s.do(t, "PUT", "/me", userId, fiber.MIMEApplicationJSON, `{"display_name":"Alice"}`)
	require.Equal(t, fiber.StatusOK, status)

	body, contentType := multipartBody(t, map[string]string{"display_name": "Mallory"},
		multipartFile{field: "icon", filename: "noext", contentType: "", data: []byte("???")})
	req := httptest.NewRequest("PUT", "/me", body)
	req.Header.Set(DefaultIdentityHeader, userId.String())
	req.Header.Set(fiber.HeaderContentType, contentType)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(jsonDetailResponse("Invalid image file"), readBody(t, resp))

	_, view := s.do(t, "GET", "/me", userId, "", "")
	assert.Equal("Alice", view.DisplayName)
	assert.Equal(0, s.blobs.Len())
}

func TestEmptyUpdateIsRejected(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	status, _ := s.do(t, "PUT", "/me", userId, fiber.MIMEApplicationJSON, `{}`)
	assert.Equal(fiber.StatusBadRequest, status)
	assert.Equal(0, s.store.Len())
}

func TestConcurrentFirstSaves(t *testing.T) {
	assert := assert.New(t)
	s := newStack()
	userId := profiles.UserId(uuid.New())

	const workers = 8
	var wg sync.WaitGroup
	statuses := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("PUT", "/me", strings.NewReader(`{"display_name":"Racer"}`))
			req.Header.Set(DefaultIdentityHeader, userId.String())
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			resp, err := s.app.Test(req, int((5 * time.Second).Milliseconds()))
			if err != nil {
				statuses <- -1
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)
	s.service.Flush()

	var ok int
	for status := range statuses {
		assert.Contains([]int{fiber.StatusOK, fiber.StatusConflict}, status)
		if status == fiber.StatusOK {
			ok++
		}
	}
	assert.GreaterOrEqual(ok, 1)
	assert.Equal(1, s.store.Len())
}

func TestHealthEndpoint(t *testing.T) {
	for _, tt := range []struct {
		name       string
		ping       error
		wantStatus int
		wantBody   string
	}{
		{"up", nil, fiber.StatusOK, `{"status":"ok"}`},
		{"down", errors.New("connection refused"), fiber.StatusServiceUnavailable, `{"status":"unavailable"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			controller := HealthController{Ping: func(ctx context.Context) error { return tt.ping }}
			app := fiber.New()
			controller.InstallTo(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
			if !assert.NoError(err) {
				return
			}
			assert.Equal(tt.wantStatus, resp.StatusCode)
			assert.JSONEq(tt.wantBody, readBody(t, resp))
		})
	}
}

func TestNotFoundHandler(t *testing.T) {
	assert := assert.New(t)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(NotFoundHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
	if !assert.NoError(err) {
		return
	}
	assert.Equal(fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(jsonDetailResponse(fiber.ErrNotFound.Message), readBody(t, resp))
}

func TestSaveWithoutIconRendersNullAvatar(t *testing.T) {
	assert := assert.New(t)
	s := newStack()

	req := httptest.NewRequest("PUT", "/me", strings.NewReader(`{"display_name":"Alice","bio":"Hi"}`))
	req.Header.Set(DefaultIdentityHeader, uuid.NewString())
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := s.app.Test(req)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(fiber.StatusOK, resp.StatusCode)

	var body map[string]any
	assert.NoError(json.Unmarshal([]byte(readBody(t, resp)), &body))
	assert.Equal("Alice", body["display_name"])
	assert.Equal("Hi", body["bio"])
	assert.Contains(body, "avatar_url")
	assert.Nil(body["avatar_url"])
}
