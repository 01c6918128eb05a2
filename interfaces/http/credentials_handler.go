package http

import (
	"errors"
	"net/http"

	"smm-publisher/domain/dto"
	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

type ICredentialsHandler interface {
	Put(ctx *gin.Context)
	Status(ctx *gin.Context)
}

type CredentialsHandler struct {
	store    repository.ICredentialWriter
	provider repository.ICredentials
}

// NewCredentialsHandler accepts a nil store, in which case Put answers 503.
func NewCredentialsHandler(store repository.ICredentialWriter, provider repository.ICredentials) ICredentialsHandler {
	return &CredentialsHandler{store: store, provider: provider}
}

func (h *CredentialsHandler) Put(ctx *gin.Context) {
	platform, ok := model.ParsePlatform(ctx.Param("platform"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform " + string(platform)})
		return
	}
	if h.store == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential storage not configured"})
		return
	}
	var req dto.CredentialsDto
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.store.Upsert(ctx.Request.Context(), platform, req.ToModel()); err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"platform": platform,
			"error":    err.Error(),
		}).Error("failed to store platform credentials")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "store_credentials_failed"})
		return
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"platform": platform,
		"user_id":  ctx.GetString("user_id"),
	}).Info("Platform credentials updated")
	ctx.JSON(http.StatusOK, statusDto(platform, req.ToModel()))
}

// Status reports the credentials the publisher would use right now.
func (h *CredentialsHandler) Status(ctx *gin.Context) {
	platform, ok := model.ParsePlatform(ctx.Param("platform"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform " + string(platform)})
		return
	}
	c, err := h.provider.Credentials(ctx.Request.Context(), platform)
	if errors.Is(err, model.ErrCredentialsNotFound) {
		ctx.JSON(http.StatusOK, dto.CredentialsStatusDto{Platform: platform})
		return
	}
	if err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err.Error()).Error("credentials lookup failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(http.StatusOK, statusDto(platform, c))
}

func statusDto(p model.Platform, c model.PlatformCredentials) dto.CredentialsStatusDto {
	return dto.CredentialsStatusDto{
		Platform:  p,
		Connected: c.Token != "",
		ChatID:    c.ChatID,
		GroupID:   c.GroupID,
		AccountID: c.AccountID,
		PageID:    c.PageID,
	}
}
