package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CachedConverter кэширует курсы на дату в Redis.
// Кэшируется курс, а не сумма: результат пересчитывается для каждой суммы.
// Текущие курсы (asOf == nil) не кэшируются.
type CachedConverter struct {
	next   Converter
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedConverter оборачивает конвертер кэшем
func NewCachedConverter(next Converter, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedConverter{next: next, client: client, ttl: ttl, logger: logger}
}

func rateCacheKey(from, to, date string) string {
	return fmt.Sprintf("fx:rate:%s:%s:%s", from, to, date)
}

// Convert возвращает курс из кэша или запрашивает его у обернутого конвертера
func (c *CachedConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*Conversion, error) {
	if from == to {
		return identity(amount, asOf), nil
	}
	if asOf == nil {
		return c.next.Convert(ctx, amount, from, to, nil)
	}

	date := formatDate(asOf)
	key := rateCacheKey(from, to, date)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return &Conversion{Result: amount.Mul(rate), Rate: rate, Date: date}, nil
		}
		c.logger.Warn("corrupted fx cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		// Недоступный кэш не должен ломать пересчет
		c.logger.Warn("fx cache read failed", zap.String("key", key), zap.Error(err))
	}

	conv, err := c.next.Convert(ctx, amount, from, to, asOf)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, conv.Rate.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("fx cache write failed", zap.String("key", key), zap.Error(err))
	}
	return conv, nil
}

// LatestRates не кэшируется: текущие курсы запрашиваются у обернутого конвертера
func (c *CachedConverter) LatestRates(ctx context.Context, base string) (*LatestRates, error) {
	provider, ok := c.next.(RatesProvider)
	if !ok {
		return nil, &ExternalServiceError{Service: "fx", Err: errors.New("latest rates are not supported by provider")}
	}
	return provider.LatestRates(ctx, base)
}
