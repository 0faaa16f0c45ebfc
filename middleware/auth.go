package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"charitylending/models"
	"charitylending/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// Claims представляет данные участника в JWT, выпущенном провайдером идентификации
type Claims struct {
	UserID      uint     `json:"user_id"`
	Role        string   `json:"role"`
	Departments []string `json:"departments,omitempty"`
	jwt.RegisteredClaims
}

// LoggingResponseWriter запоминает статус ответа
type LoggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *LoggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware логирует информацию о запросе и ответе
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))

		// Создаем обертку для ResponseWriter
		lrw := &LoggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Обрабатываем запрос
		next.ServeHTTP(lrw, r)

		duration := time.Since(start)
		utils.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(lrw.statusCode)).Inc()
		utils.HTTPRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", duration),
		}
		if actor, ok := ActorFromContext(r.Context()); ok {
			fields = append(fields, zap.Uint("actor_id", actor.ID))
		}
		if lrw.statusCode >= http.StatusInternalServerError {
			utils.Logger().Error("request failed", fields...)
			return
		}
		utils.Logger().Info("request", fields...)
	})
}

// AuthMiddleware проверяет JWT токен и кладет участника в контекст запроса
func AuthMiddleware(jwtKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем токен из заголовка
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				unauthorized(w, "Authorization header is required")
				return
			}

			// Убираем префикс "Bearer " если он есть
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			// Парсим и проверяем токен
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return jwtKey, nil
			})
			if err != nil || !token.Valid {
				unauthorized(w, "Invalid token")
				return
			}

			// Проверяем claims
			role := models.Role(claims.Role)
			if claims.UserID == 0 || !role.IsValid() {
				unauthorized(w, "Invalid token claims")
				return
			}

			actor := models.Actor{ID: claims.UserID, Role: role, Departments: claims.Departments}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// NewToken выпускает токен участника. Используется провайдером идентификации и в тестах.
func NewToken(jwtKey []byte, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      actor.ID,
		Role:        string(actor.Role),
		Departments: actor.Departments,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(actor.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtKey)
}

// WithActor кладет участника в контекст
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext получает участника из контекста
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// RequestIDFromContext возвращает идентификатор запроса
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": "UNAUTHENTICATED", "message": message},
	})
}
