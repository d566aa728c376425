package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gorilla/websocket"
)

// APIError is a non-success response from the wallet API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the wallet API on behalf of one signed-in user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	reads   retrypolicy.RetryPolicy[*http.Response]
}

// NewClient creates a client for the API at baseURL authenticated with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reads: retrypolicy.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				if err != nil {
					return !errors.Is(err, context.Canceled)
				}
				return resp.StatusCode >= 500
			}).
			WithMaxRetries(2).
			WithBackoff(200*time.Millisecond, 2*time.Second).
			ReturnLastFailure().
			Build(),
	}
}

// BankDestination fetches the account deposits should be sent to. Reads are retried
// on transport errors and server failures.
func (c *Client) BankDestination(ctx context.Context) (*domain.BankDestination, error) {
	var dest domain.BankDestination
	if err := c.get(ctx, "/wallet/bank", &dest); err != nil {
		return nil, err
	}
	return &dest, nil
}

// Balance fetches the caller's current pools.
func (c *Client) Balance(ctx context.Context) (domain.Balances, error) {
	var balances domain.Balances
	err := c.get(ctx, "/wallet/balance", &balances)
	return balances, err
}

// RequestDeposit records a pending deposit. It is never retried: a timed-out call may
// have created the deposit.
func (c *Client) RequestDeposit(ctx context.Context, amount int64) (*domain.Transaction, error) {
	payload, err := json.Marshal(map[string]int64{"amount": amount})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/wallet/deposits", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	var tx domain.Transaction
	if err := decodeResponse(resp, "/wallet/deposits", &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// SubscribeBalance opens the balance stream. The first event is the current balance.
// The channel closes when ctx ends or the connection drops.
func (c *Client) SubscribeBalance(ctx context.Context) (<-chan domain.BalanceEvent, error) {
	endpoint, err := url.Parse(c.baseURL + "/wallet/balance/stream")
	if err != nil {
		return nil, err
	}
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	header := http.Header{"Authorization": []string{"Bearer " + c.token}}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, decodeResponse(resp, endpoint.Path, nil)
		}
		return nil, err
	}

	out := make(chan domain.BalanceEvent, 8)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var event domain.BalanceEvent
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	resp, err := failsafe.With[*http.Response](c.reads).WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode >= 500 {
			// Buffer failed attempts so the connection is released before a retry.
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
		}
		return resp, err
	})
	if err != nil {
		return err
	}
	return decodeResponse(resp, path, out)
}

// decodeResponse closes resp.Body and maps error statuses onto domain errors.
func decodeResponse(resp *http.Response, path string, out interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.Unmarshal(body, out)
	}

	var payload struct {
		Error     string `json:"error"`
		Price     int64  `json:"price"`
		Available int64  `json:"available"`
		Shortfall int64  `json:"shortfall"`
	}
	_ = json.Unmarshal(body, &payload)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return domain.NewValidationError("", payload.Error)
	case http.StatusPaymentRequired:
		return &domain.InsufficientFundsError{Price: payload.Price, Available: payload.Available, Shortfall: payload.Shortfall}
	case http.StatusNotFound:
		return &domain.NotFoundError{Resource: "wallet resource", Ref: path}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
}
