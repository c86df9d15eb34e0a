package handler

import (
	"net/http"

	"storefront-orders/internal/middleware"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WalletHandler struct {
	wallets service.WalletService
	logger  *zap.Logger
}

func NewWalletHandler(wallets service.WalletService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger}
}

// GetWallet handles GET /wallet.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	wallet, err := h.wallets.GetWallet(c.Request.Context(), middleware.CurrentActor(c).UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}
