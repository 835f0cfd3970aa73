package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/foodlots/internal/domain"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerActor(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rl := NewRateLimiter(0.001, 2, logger)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(actor domain.Actor) int {
		req := httptest.NewRequest(http.MethodPost, "/prenotazioni", nil)
		req = req.WithContext(WithActor(req.Context(), actor))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(charity))
	assert.Equal(t, http.StatusOK, send(charity))
	assert.Equal(t, http.StatusTooManyRequests, send(charity))
	assert.Equal(t, http.StatusOK, send(producer), "other actors have their own bucket")

	assert.Equal(t, "rate limit exceeded", hook.LastEntry().Message)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(10, 10, logger)

	rl.getLimiter("a")
	rl.getLimiter("b")
	rl.limiters["a"].lastSeen = time.Now().Add(-time.Hour)

	assert.Equal(t, 1, rl.Cleanup(time.Minute))
	assert.Len(t, rl.limiters, 1)
}
