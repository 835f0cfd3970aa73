package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/example/foodlots/internal/infrastructure/idempotency"
	"github.com/sirupsen/logrus"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 128
)

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key already used by the same actor on the same route. Requests
// without the header pass through. Server errors are not stored so the client
// can retry them.
func Idempotency(store idempotency.Store, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyKeyHeader)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLen {
				respondError(w, "idempotency key too long", http.StatusBadRequest)
				return
			}

			key := idempotency.Key(GetActorID(r.Context()), r.Method, r.URL.Path, clientKey)
			entry := log.WithField("idempotency_key", clientKey)

			rec, err := store.Begin(r.Context(), key)
			switch {
			case errors.Is(err, idempotency.ErrInFlight):
				respondError(w, err.Error(), http.StatusConflict)
				return
			case err != nil:
				entry.WithError(err).Warn("idempotency store unavailable, serving request without it")
				next.ServeHTTP(w, r)
				return
			case rec != nil:
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.Body)
				return
			}

			// The key is released unless a response is stored, including when the
			// handler panics. The request context may already be cancelled here.
			storeCtx := context.WithoutCancel(r.Context())
			stored := false
			defer func() {
				if stored {
					return
				}
				if err := store.Release(storeCtx, key); err != nil {
					entry.WithError(err).Warn("failed to release idempotency key")
				}
			}()

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status == 0 || cw.status >= http.StatusInternalServerError {
				return
			}
			err = store.Complete(storeCtx, key, idempotency.Record{
				StatusCode:  cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			})
			if err != nil {
				entry.WithError(err).Warn("failed to store idempotent response")
				return
			}
			stored = true
		})
	}
}
