package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jogardn/order-dashboard/internal/circuitbreaker"
	"github.com/jogardn/order-dashboard/internal/httpx"
	"github.com/jogardn/order-dashboard/internal/metrics"
	"github.com/sirupsen/logrus"
)

const maxRequestBytes = 1 << 20

type Forwarder interface {
	Forward(ctx context.Context, body []byte) ([]byte, error)
}

type Handler struct {
	client  Forwarder
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewHandler wraps client in breaker. breaker may be nil.
func NewHandler(client Forwarder, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, logger *logrus.Logger) *Handler {
	return &Handler{client: client, breaker: breaker, metrics: m, logger: logger}
}

// IsDownstreamFailure is the breaker classifier for the relay: transport
// errors and unhealthy statuses count, rejected payloads do not.
func IsDownstreamFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var downstream *DownstreamError
	if errors.As(err, &downstream) {
		return downstream.Retryable()
	}
	return true
}

func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil || !json.Valid(body) {
		if err == nil {
			err = errors.New("request body is not valid JSON")
		}
		h.fail(w, "invalid_request", err)
		return
	}

	var respBody []byte
	forward := func(ctx context.Context) error {
		var ferr error
		respBody, ferr = h.client.Forward(ctx, body)
		return ferr
	}

	if h.breaker != nil {
		err = h.breaker.Execute(r.Context(), forward)
	} else {
		err = forward(r.Context())
	}
	if err != nil {
		result := "error"
		if errors.Is(err, circuitbreaker.ErrOpen) {
			result = "rejected"
		}
		h.fail(w, result, err)
		return
	}

	h.metrics.ObserveRelay("success")

	// Non-JSON answers are wrapped so the caller always gets JSON back.
	if json.Valid(respBody) && len(respBody) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(respBody)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]string{"message": string(respBody)})
}

func (h *Handler) fail(w http.ResponseWriter, result string, err error) {
	h.metrics.ObserveRelay(result)
	h.logger.WithError(err).WithField("result", result).Error("Webhook relay failed")
	httpx.RespondWithError(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
}
