package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyHeader - заголовок с ключом повтора запроса
const IdempotencyHeader = "Idempotency-Key"

type cachedResponse struct {
	Status      int    `json:"status"` // 0 - запрос еще выполняется
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency возвращает сохраненный ответ, если запрос с тем же Idempotency-Key уже выполнялся.
// Ключ привязан к пользователю и маршруту. Ответы 5xx не сохраняются, такой запрос можно повторить.
// При недоступности Redis запрос выполняется без защиты от повтора.
func Idempotency(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Ключ из заголовка
		key := c.GetHeader(IdempotencyHeader)
		if key == "" || client == nil {
			c.Next()
			return
		}
		if len(key) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency key is too long"})
			return
		}

		userID := "anonymous"
		if actor := CurrentActor(c); actor != nil {
			userID = actor.ID
		}
		redisKey := fmt.Sprintf("idempotency:%s:%s:%s:%s", userID, c.Request.Method, c.Request.URL.Path, key)
		ctx := c.Request.Context()

		// 2. Проверяем сохраненный ответ
		raw, err := client.Get(ctx, redisKey).Bytes()
		switch {
		case err == nil:
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err != nil {
				logger.Warn("corrupted idempotency record", zap.String("key", key), zap.Error(err))
				break
			}
			if cached.Status == 0 {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
				return
			}
			logger.Info("idempotency hit", zap.String("key", key))
			c.Header("X-Idempotency-Hit", "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		case !errors.Is(err, redis.Nil):
			logger.Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}

		// 3. Занимаем ключ на время выполнения
		pending, _ := json.Marshal(cachedResponse{})
		acquired, err := client.SetNX(ctx, redisKey, pending, ttl).Result()
		if err != nil {
			logger.Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}

		// 4. Выполняем запрос
		recorder := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = recorder
		c.Next()

		// 5. Сохраняем результат
		status := recorder.Status()
		if status >= http.StatusInternalServerError {
			if err := client.Del(ctx, redisKey).Err(); err != nil {
				logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
			}
			return
		}
		data, err := json.Marshal(cachedResponse{
			Status:      status,
			ContentType: recorder.Header().Get("Content-Type"),
			Body:        recorder.body.Bytes(),
		})
		if err == nil {
			err = client.Set(ctx, redisKey, data, ttl).Err()
		}
		if err != nil {
			logger.Error("failed to save idempotency key", zap.String("key", key), zap.Error(err))
		}
	}
}
