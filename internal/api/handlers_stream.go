package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512
)

// bankMessage wraps the destination so an unset record is sent as {"bank":null}.
type bankMessage struct {
	Bank *domain.BankDestination `json:"bank"`
}

// BalanceStreamHandler streams the caller's pools: the current value, then every
// committed change. Events that settle a deposit carry the resolution.
func (h *WalletHandlers) BalanceStreamHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r, "balance_stream")
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	current, events, err := h.settlement.SubscribeBalance(ctx, id.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, "balance_stream", err)
		return
	}
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade balance stream")
		return
	}
	defer conn.Close()
	go h.drain(conn, cancel)

	logger := h.logger.WithField("account_id", id.AccountID)
	if err := writeFrame(conn, domain.BalanceEvent{AccountID: id.AccountID, Balances: current}); err != nil {
		return
	}
	pump(ctx, conn, events, func(event domain.BalanceEvent) interface{} { return event }, func(err error) {
		logger.WithError(err).Debug("balance stream closed")
	})
}

// BankStreamHandler streams the bank destination: the current record, then every change.
func (h *WalletHandlers) BankStreamHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	current, events, err := h.settlement.SubscribeBank(ctx)
	if err != nil {
		writeServiceError(w, h.logger, "bank_stream", err)
		return
	}
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade bank stream")
		return
	}
	defer conn.Close()
	go h.drain(conn, cancel)

	if err := writeFrame(conn, bankMessage{Bank: current}); err != nil {
		return
	}
	pump(ctx, conn, events, func(dest domain.BankDestination) interface{} { return bankMessage{Bank: &dest} }, func(err error) {
		h.logger.WithError(err).Debug("bank stream closed")
	})
}

func (h *WalletHandlers) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Streams are authenticated by token, not by cookie, so any origin may connect.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// drain reads until the peer goes away, then cancels the stream.
func (h *WalletHandlers) drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("stream peer closed unexpectedly")
			}
			return
		}
	}
}

// pump writes every event from events until ctx ends or the channel closes.
func pump[T any](ctx context.Context, conn *websocket.Conn, events <-chan T, frame func(T) interface{}, closed func(error)) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeFrame(conn, frame(event)); err != nil {
				closed(err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closed(err)
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
