package handler

import (
	"strconv"

	"playdrive/internal/auth"
	"playdrive/internal/catalog"
	"playdrive/internal/service"
	"playdrive/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Services 处理器依赖的业务服务
type Services struct {
	Accounts    *service.AccountService
	Entitlement *service.EntitlementService
	Ledger      *service.LedgerService
	Purchases   *service.PurchaseFlow
	Content     *service.ContentService
	Views       *service.ViewService
	Catalog     *catalog.Catalog
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("handler")}
}

// fail 把账本错误映射为业务码，上游错误只记录日志，不把细节返回给客户端
func (h *Handler) fail(c *gin.Context, err error) {
	message := service.PublicMessage(err)
	switch service.KindOf(err) {
	case service.KindValidation:
		response.ParamError(c, message)
	case service.KindInsufficientBalance:
		response.BusinessError(c, response.CodeBalanceNotEnough, message)
	case service.KindConflict:
		response.BusinessError(c, response.CodeConflict, message)
	case service.KindPostLimitReached:
		response.BusinessError(c, response.CodePostLimitReached, message)
	default:
		h.log.Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.String("account_id", auth.AccountID(c)),
			zap.Error(err))
		response.ServerError(c, message)
	}
}

// ============================================================
// 账户相关接口
// ============================================================

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
}

// Register 注册后创建账户
// POST /api/v1/account/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.svc.Accounts.Register(c.Request.Context(), auth.AccountID(c), req.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// GetMe 查询当前账户
// GET /api/v1/account/me
func (h *Handler) GetMe(c *gin.Context) {
	account, err := h.svc.Accounts.Get(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

type UpdateUsernameRequest struct {
	Username string `json:"username" binding:"required"`
}

// UpdateUsername 修改用户名
// POST /api/v1/account/username
func (h *Handler) UpdateUsername(c *gin.Context) {
	var req UpdateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.Accounts.UpdateUsername(c.Request.Context(), auth.AccountID(c), req.Username); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"username": req.Username})
}

// ListTransactions 查询流水
// GET /api/v1/account/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.svc.Accounts.ListTransactions(c.Request.Context(), auth.AccountID(c), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ListPurchases 购买记录
// GET /api/v1/account/purchases
func (h *Handler) ListPurchases(c *gin.Context) {
	purchases, err := h.svc.Accounts.ListPurchases(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, purchases)
}

// ============================================================
// 权益相关接口
// ============================================================

// CanPost 今日发布额度
// GET /api/v1/entitlement/post
func (h *Handler) CanPost(c *gin.Context) {
	allowance, err := h.svc.Entitlement.CanPost(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		// 查询失败时同样返回拒绝结果，客户端按 allowed=false 处理
		h.log.Warn("发布额度查询失败", zap.String("account_id", auth.AccountID(c)), zap.Error(err))
	}
	response.Success(c, allowance)
}

// IsPremium 会员状态
// GET /api/v1/entitlement/premium
func (h *Handler) IsPremium(c *gin.Context) {
	premium, err := h.svc.Entitlement.IsPremium(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"premium": premium})
}

// ============================================================
// 内容相关接口
// ============================================================

type PublishRequest struct {
	ContentID string `json:"content_id" binding:"required"`
	IsVideo   bool   `json:"is_video"`
	Category  string `json:"category"`
}

// Publish 内容存储服务写入成功后的发布通知
// POST /api/v1/content
func (h *Handler) Publish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Content.Publish(c.Request.Context(), &service.PublishRequest{
		OwnerID:   auth.AccountID(c),
		ContentID: req.ContentID,
		IsVideo:   req.IsVideo,
		Category:  req.Category,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// RecordView 记录观看
// POST /api/v1/content/:id/view
func (h *Handler) RecordView(c *gin.Context) {
	rewarded, err := h.svc.Views.RecordView(c.Request.Context(), auth.AccountID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"rewarded": rewarded})
}

// ============================================================
// 钱包相关接口
// ============================================================

// TransferRequest 转账请求，发送方取自登录态
type TransferRequest struct {
	RecipientTransferCode string          `json:"recipient_transfer_code" binding:"required"`
	ContentTokens         decimal.Decimal `json:"content_tokens"`
	ViewTokens            decimal.Decimal `json:"view_tokens"`
}

// Transfer 转账
// POST /api/v1/wallet/transfer
//
// 【关键点】金额以十进制字符串或数字传入，不经过 float64
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Ledger.TransferTokens(c.Request.Context(), &service.TransferRequest{
		SenderID:              auth.AccountID(c),
		RecipientTransferCode: req.RecipientTransferCode,
		ContentTokens:         req.ContentTokens,
		ViewTokens:            req.ViewTokens,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 商城相关接口
// ============================================================

// ListItems 商品列表
// GET /api/v1/store/items?category=display
func (h *Handler) ListItems(c *gin.Context) {
	response.Success(c, gin.H{
		"list": h.svc.Catalog.ByCategory(c.Query("category")),
	})
}

type PurchaseRequest struct {
	ItemID string `json:"item_id" binding:"required"`
}

// Purchase 购买商品，价格以商品目录为准
// POST /api/v1/store/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	outcome, err := h.svc.Purchases.Purchase(c.Request.Context(), auth.AccountID(c), req.ItemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, outcome)
}
