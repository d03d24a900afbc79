package backend

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"linkchat/internal/models"
	"linkchat/internal/observability"
)

var tracer = otel.Tracer("linkchat/backend")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config configures the REST client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client talks to the REST backend. The bearer token belongs to the current
// session and is swapped on login.
type Client struct {
	http *http.Client
	base *url.URL
	conf Config
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient constructs a Client.
func NewClient(conf Config, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(conf.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", conf.BaseURL)
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 15 * time.Second
	}
	if conf.RetryMaxElapsed <= 0 {
		conf.RetryMaxElapsed = 10 * time.Second
	}
	if conf.BreakerFailures == 0 {
		conf.BreakerFailures = 5
	}
	if conf.BreakerTimeout <= 0 {
		conf.BreakerTimeout = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && !apiErr.Temporary())
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		http: &http.Client{Timeout: conf.Timeout},
		base: base,
		conf: conf,
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  log,
	}, nil
}

// SetToken replaces the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ConversationHistory returns the messages between userA and userB, oldest
// first.
func (c *Client) ConversationHistory(ctx context.Context, userA, userB string) ([]models.Message, error) {
	q := url.Values{}
	q.Set("userA", userA)
	q.Set("userB", userB)

	var msgs []models.Message
	if err := c.get(ctx, "conversation_history", "/conversation-history", q, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// CreateMessage persists msg. It is never retried so a message is not stored
// twice.
func (c *Client) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, err
	}

	var out models.Message
	err = c.traced(ctx, "create_message", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/messages", nil, body, &out)
	})
	return out, err
}

// FriendshipStatus returns the relationship between the token's owner and
// userID. viewerID is implied by the token and only used for tracing.
func (c *Client) FriendshipStatus(ctx context.Context, viewerID, userID string) (models.FriendshipInfo, error) {
	q := url.Values{}
	q.Set("userId", userID)

	var info models.FriendshipInfo
	if err := c.get(ctx, "friendship_status", "/friendships/status", q, &info); err != nil {
		return models.FriendshipInfo{}, err
	}
	status, err := models.ParseFriendshipStatus(string(info.Status))
	if err != nil {
		return models.FriendshipInfo{}, err
	}
	info.Status = status
	return info, nil
}

// get retries transient failures with exponential backoff.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.traced(ctx, op, func(ctx context.Context) error {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = c.conf.RetryMaxElapsed
		operation := func() error {
			err := c.do(ctx, http.MethodGet, path, query, nil, out)
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) {
				return backoff.Permanent(err)
			}
			return err
		}
		return backoff.Retry(operation, backoff.WithContext(b, ctx))
	})
}

func (c *Client) traced(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "backend."+op, trace.WithAttributes(attribute.String("backend.op", op)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	observability.ObserveBackendCall(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		c.log.Warn("backend call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	_, err := c.cb.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := observability.RequestIDFromContext(ctx); id != "" {
			req.Header.Set("X-Request-Id", id)
		}
		c.mu.RLock()
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		c.mu.RUnlock()

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, decodeError(resp)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil, nil
	})
	if err != nil {
		c.log.Debug("backend request error", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	return err
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			msg = payload.Error
		} else if payload.Message != "" {
			msg = payload.Message
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
