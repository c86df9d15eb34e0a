package handler

import (
	"storefront-orders/internal/apperr"
	"storefront-orders/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(e.Err),
		)
		_ = c.Error(err)
	}
	middleware.AbortWithError(c, e)
}

func bindError(err error) error {
	return apperr.Validation(apperr.CodeValidation, err.Error())
}

func pathID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation(apperr.CodeValidation, "invalid "+name)
	}
	return id, nil
}
