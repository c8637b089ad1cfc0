package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"playdrive/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

func checkoutEvent(eventType, accountID, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_test",
  "object": "event",
  "api_version": "2024-09-30.acacia",
  "type": %q,
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "client_reference_id": %q,
      "payment_status": %q,
      "payment_intent": "pi_test_1"
    }
  }
}`, eventType, accountID, paymentStatus))
}

func postWebhook(t *testing.T, s *testServer, payload []byte, secret string) int {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w.Code
}

func activePremiumRows(t *testing.T, s *testServer, accountID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&model.Purchase{}).
		Where("account_id = ? AND item_id = ? AND active = ?", accountID, model.PremiumSubscriptionItemID, true).
		Count(&n).Error)
	return n
}

func TestStripeWebhook_ActivatesOnce(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedAccount(t, "acc", "CODE1", 0)

	payload := checkoutEvent("checkout.session.completed", "acc", "paid")
	assert.Equal(t, http.StatusOK, postWebhook(t, s, payload, testWebhookSecret))
	assert.Equal(t, http.StatusOK, postWebhook(t, s, payload, testWebhookSecret))

	assert.Equal(t, int64(1), activePremiumRows(t, s, "acc"))

	var purchase model.Purchase
	require.NoError(t, s.db.First(&purchase, "account_id = ?", "acc").Error)
	require.NotNil(t, purchase.PaymentReference)
	assert.Equal(t, "pi_test_1", *purchase.PaymentReference)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedAccount(t, "acc", "CODE1", 0)

	payload := checkoutEvent("checkout.session.completed", "acc", "paid")
	assert.Equal(t, http.StatusBadRequest, postWebhook(t, s, payload, "whsec_wrong"))

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, activePremiumRows(t, s, "acc"))
}

func TestStripeWebhook_Acknowledged(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedAccount(t, "acc", "CODE1", 0)

	cases := []struct {
		name    string
		payload []byte
	}{
		{"ignored event", checkoutEvent("invoice.paid", "acc", "paid")},
		{"unpaid session", checkoutEvent("checkout.session.completed", "acc", "unpaid")},
		{"unknown account", checkoutEvent("checkout.session.completed", "ghost", "paid")},
		{"missing reference", checkoutEvent("checkout.session.completed", "", "paid")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, postWebhook(t, s, tc.payload, testWebhookSecret))
		})
	}
	assert.Zero(t, activePremiumRows(t, s, "acc"))
}

type failingActivator struct{}

func (failingActivator) ActivatePremium(context.Context, string, string, bool) error {
	return errors.New("connection refused")
}

func TestStripeWebhook_UpstreamFailureAsksForRetry(t *testing.T) {
	s := newTestServer(t, failingActivator{})
	payload := checkoutEvent("checkout.session.completed", "acc", "paid")
	assert.Equal(t, http.StatusInternalServerError, postWebhook(t, s, payload, testWebhookSecret))
}
