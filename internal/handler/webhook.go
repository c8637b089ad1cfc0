package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"playdrive/internal/service"
	"playdrive/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes stripe 单个事件不超过 64KB
const maxWebhookBodyBytes = 65536

// PremiumActivator 支付成功后开通会员
type PremiumActivator interface {
	ActivatePremium(ctx context.Context, accountID, paymentReference string, success bool) error
}

// WebhookHandler stripe 支付回调
//
// 【关键点】返回码决定 stripe 是否重试：
// 1. 签名错误返回 400
// 2. 无需处理或无法自愈的事件（未支付、账户不存在）返回 200，避免无限重试
// 3. 只有数据库等上游暂时不可用时返回 500
type WebhookHandler struct {
	activator PremiumActivator
	secret    string
	log       *zap.Logger
}

func NewWebhookHandler(activator PremiumActivator, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{activator: activator, secret: secret, log: log.Named("webhook")}
}

// Stripe POST /webhook/stripe
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.WithStatus(c, http.StatusBadRequest, response.CodeParamError, "读取请求体失败")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn("webhook 签名校验失败", zap.Error(err))
		response.WithStatus(c, http.StatusBadRequest, response.CodeParamError, "签名校验失败")
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		h.log.Debug("忽略 webhook 事件", zap.String("type", string(event.Type)), zap.String("event_id", event.ID))
		response.Success(c, gin.H{"received": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		// 格式错误无法通过重试修复
		h.log.Error("解析 checkout session 失败", zap.String("event_id", event.ID), zap.Error(err))
		response.Success(c, gin.H{"received": true})
		return
	}

	paid := session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	err = h.activator.ActivatePremium(c.Request.Context(), session.ClientReferenceID, paymentReference(&session), paid)
	if err != nil {
		h.log.Error("开通会员失败，等待 stripe 重试",
			zap.String("event_id", event.ID),
			zap.String("account_id", session.ClientReferenceID),
			zap.Error(err))
		response.WithStatus(c, http.StatusInternalServerError, response.CodeServerError, service.PublicMessage(err))
		return
	}

	response.Success(c, gin.H{"received": true})
}

// paymentReference 优先使用 PaymentIntent，没有时退回 session ID
func paymentReference(session *stripe.CheckoutSession) string {
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		return session.PaymentIntent.ID
	}
	return session.ID
}
