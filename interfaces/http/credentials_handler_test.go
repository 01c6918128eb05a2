package http

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"smm-publisher/domain/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Get(ctx context.Context, p model.Platform) (model.PlatformCredentials, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(model.PlatformCredentials), args.Error(1)
}

func (m *MockCredentialStore) Upsert(ctx context.Context, p model.Platform, c model.PlatformCredentials) error {
	return m.Called(ctx, p, c).Error(0)
}

func (m *MockCredentialStore) Credentials(ctx context.Context, p model.Platform) (model.PlatformCredentials, error) {
	return m.Get(ctx, p)
}

func newCredentialsRouter(h ICredentialsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.PUT("/api/credentials/:platform", h.Put)
	r.GET("/api/credentials/:platform", h.Status)
	return r
}

func TestCredentialsHandler_Put(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("Upsert", mock.Anything, model.PlatformFacebook, model.PlatformCredentials{Token: "page-token", PageID: "123"}).Return(nil)
	r := newCredentialsRouter(NewCredentialsHandler(store, store))

	w := serve(r, http.MethodPut, "/api/credentials/Facebook", `{"token":"page-token","pageId":"123"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"platform":"facebook","connected":true,"pageId":"123"}`, w.Body.String())
	require.NotContains(t, w.Body.String(), "page-token")
	store.AssertExpectations(t)
}

func TestCredentialsHandler_PutRejects(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("Upsert", mock.Anything, model.PlatformVK, mock.Anything).Return(errors.New("db down"))
	r := newCredentialsRouter(NewCredentialsHandler(store, store))

	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodPut, "/api/credentials/myspace", `{"token":"x"}`).Code)
	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodPut, "/api/credentials/vk", `{"groupId":"1"}`).Code)
	require.Equal(t, http.StatusInternalServerError, serve(r, http.MethodPut, "/api/credentials/vk", `{"token":"x"}`).Code)

	noStore := newCredentialsRouter(NewCredentialsHandler(nil, store))
	require.Equal(t, http.StatusServiceUnavailable, serve(noStore, http.MethodPut, "/api/credentials/vk", `{"token":"x"}`).Code)
}

func TestCredentialsHandler_Status(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("Get", mock.Anything, model.PlatformTelegram).Return(model.PlatformCredentials{Token: "bot", ChatID: "@chan"}, nil)
	store.On("Get", mock.Anything, model.PlatformVK).Return(model.PlatformCredentials{}, model.ErrCredentialsNotFound)
	r := newCredentialsRouter(NewCredentialsHandler(store, store))

	w := serve(r, http.MethodGet, "/api/credentials/telegram", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"platform":"telegram","connected":true,"chatId":"@chan"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/api/credentials/vk", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"platform":"vk","connected":false}`, w.Body.String())
}
