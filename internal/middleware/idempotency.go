package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/storefront/internal/repository"
	"github.com/rs/zerolog/log"
)

const idempotencyLockTTL = 30 * time.Second

// IdempotencyStore is the cache surface the middleware needs
type IdempotencyStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Location    string `json:"location,omitempty"`
	Body        []byte `json:"body"`
}

// IdempotencyMiddleware replays the first response of a mutating request carrying an X-Correlation-ID.
// Keys are scoped to the browsing session. A second request arriving while the first is still running
// gets 409. Responses with status >= 400 are not cached so the shopper can fix the input and retry.
func IdempotencyMiddleware(store IdempotencyStore, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		correlationID := c.Get("X-Correlation-ID")
		if correlationID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("idempotency:%s:%s", SessionID(c), correlationID)
		ctx := c.UserContext()

		var cached cachedResponse
		err := store.Get(ctx, key, &cached)
		if err == nil {
			return replay(c, &cached)
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			log.Warn().Err(err).Str("component", "idempotency").Msg("idempotency lookup failed, processing request")
			return c.Next()
		}

		lockKey := key + ":lock"
		acquired, err := store.SetNX(ctx, lockKey, 1, idempotencyLockTTL)
		if err != nil {
			log.Warn().Err(err).Str("component", "idempotency").Msg("idempotency lock failed, processing request")
			return c.Next()
		}
		if !acquired {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"reason":  "a request with this correlation id is already in progress",
			})
		}
		defer func() {
			_ = store.Delete(context.WithoutCancel(ctx), lockKey)
		}()

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusBadRequest {
			return nil
		}

		resp := cachedResponse{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Location:    string(c.Response().Header.Peek(fiber.HeaderLocation)),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := store.Set(context.WithoutCancel(ctx), key, resp, ttl); err != nil {
			log.Warn().Err(err).Str("component", "idempotency").Msg("failed to cache response")
		}
		return nil
	}
}

func replay(c *fiber.Ctx, cached *cachedResponse) error {
	c.Set("X-Idempotent-Replay", "true")
	if cached.ContentType != "" {
		c.Set(fiber.HeaderContentType, cached.ContentType)
	}
	if cached.Location != "" {
		c.Set(fiber.HeaderLocation, cached.Location)
	}
	return c.Status(cached.Status).Send(cached.Body)
}
