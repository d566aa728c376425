package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/app"
	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	telegramSecretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	defaultWebhookTimeout  = 30 * time.Second
	maxWebhookPayloadBytes = 1 << 20
)

// TelegramHandlers receives admin chat updates from the Telegram webhook.
type TelegramHandlers struct {
	interpreter *app.AdminInterpreter
	secret      string
	timeout     time.Duration
	logger      logrus.FieldLogger
	wg          sync.WaitGroup
}

// NewTelegramHandlers creates the webhook handler. An empty secret disables the
// secret-token check.
func NewTelegramHandlers(interpreter *app.AdminInterpreter, secret string, logger logrus.FieldLogger) *TelegramHandlers {
	return &TelegramHandlers{
		interpreter: interpreter,
		secret:      secret,
		timeout:     defaultWebhookTimeout,
		logger:      logger.WithField("component", "telegram_webhook"),
	}
}

// WebhookHandler acknowledges every authenticated update immediately and interprets
// it in the background. Telegram redelivers updates that are not acknowledged in
// time, so the response never waits for settlement.
func (h *TelegramHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("rejected webhook call with a bad secret token")
			writeError(w, http.StatusUnauthorized, "invalid secret token")
			return
		}
	}

	var update domain.TelegramUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookPayloadBytes)).Decode(&update); err != nil {
		h.logger.WithError(err).Warn("ignoring malformed telegram update")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.interpreter.Handle(ctx, update); err != nil {
			h.logger.WithField("update_id", update.UpdateID).WithError(err).Warn("telegram update handled with delivery errors")
		}
	}()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Wait blocks until updates being processed in the background are done.
func (h *TelegramHandlers) Wait() {
	h.wg.Wait()
}
