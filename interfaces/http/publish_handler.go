package http

import (
	"errors"
	"net/http"
	"strconv"

	"smm-publisher/domain/dto"
	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/logger"
	"smm-publisher/usecase"

	"github.com/gin-gonic/gin"
)

type IPublishHandler interface {
	Publish(ctx *gin.Context)
	GetStatus(ctx *gin.Context)
	GetHistory(ctx *gin.Context)
}

type PublishHandler struct {
	publishUsecase usecase.IPublishUsecase
}

func NewPublishHandler(uc usecase.IPublishUsecase) IPublishHandler {
	return &PublishHandler{publishUsecase: uc}
}

func (h *PublishHandler) Publish(ctx *gin.Context) {
	contentID := ctx.Param("contentId")
	var req dto.PublishRequestDto
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	requester := ctx.GetString("user_id")
	if requester == "" {
		requester = req.UserID
	}
	platforms := make([]model.Platform, 0, len(req.Platforms))
	for _, p := range req.Platforms {
		platforms = append(platforms, model.Platform(p))
	}

	result, err := h.publishUsecase.Publish(ctx.Request.Context(), model.PublishRequest{
		ContentID:   contentID,
		Platforms:   platforms,
		RequesterID: requester,
		Force:       req.Force,
		Immediate:   req.Immediate == nil || *req.Immediate,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.GetLogger().WithField("content_id", contentID).WithField("error", err.Error()).Error("Publish request failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if contentMissing(result) {
		ctx.JSON(http.StatusNotFound, result)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// contentMissing reports that every platform gave up because the record never appeared.
func contentMissing(result *model.PublishResult) bool {
	if len(result.Results) == 0 {
		return false
	}
	for _, o := range result.Results {
		if o.ErrorKind != model.ErrorKindContentNotFound {
			return false
		}
	}
	return true
}

func (h *PublishHandler) GetStatus(ctx *gin.Context) {
	contentID := ctx.Param("contentId")
	states, err := h.publishUsecase.GetStatus(ctx.Request.Context(), contentID)
	if err != nil {
		if errors.Is(err, model.ErrContentNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.GetLogger().WithField("content_id", contentID).WithField("error", err.Error()).Error("Status lookup failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	res := dto.PublicationStatusDto{ContentID: contentID, Platforms: []dto.PlatformStatusDto{}}
	for _, key := range states.Keys() {
		if st, ok := states.Get(model.Platform(key)); ok {
			res.Platforms = append(res.Platforms, dto.ToPlatformStatusDto(st))
		}
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *PublishHandler) GetHistory(ctx *gin.Context) {
	contentID := ctx.Param("contentId")
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := h.publishUsecase.History(ctx.Request.Context(), contentID, limit)
	if err != nil {
		logger.GetLogger().WithField("content_id", contentID).WithField("error", err.Error()).Error("History lookup failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if rows == nil {
		rows = []*model.PublicationAudit{}
	}
	ctx.JSON(http.StatusOK, gin.H{"contentId": contentID, "attempts": rows})
}
