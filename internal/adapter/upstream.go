package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/portfolio-valuator/internal/circuitbreaker"
	apperrors "github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/ratelimit"
	"github.com/portfolio-valuator/internal/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody bounds how much of an error body is kept in messages
const maxErrorBody = 256

// Shared carries the cross-cutting pieces every upstream client uses.
// Every field is optional.
type Shared struct {
	HTTP     *fasthttp.Client
	Budget   *ratelimit.BudgetTracker
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics
	Retry    *retry.RetryConfig
	Logger   *logging.Logger
}

// BreakerDefaults builds breaker configs that report state changes to m
func BreakerDefaults(m *metrics.Metrics, logger *logging.Logger) func(name string) *circuitbreaker.Config {
	return func(name string) *circuitbreaker.Config {
		cfg := circuitbreaker.DefaultConfig(name)
		cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
			m.SetCircuitOpen(name, to == circuitbreaker.StateOpen)
			if logger != nil {
				logger.WithFields(map[string]interface{}{
					"upstream": name,
					"from":     string(from),
					"to":       string(to),
				}).Warn("circuit breaker state changed")
			}
		}
		return cfg
	}
}

// upstream is one rate-limited, retried, circuit-broken HTTP dependency
type upstream struct {
	name    string
	client  *fasthttp.Client
	timeout time.Duration
	limiter *rate.Limiter
	retry   *retry.RetryConfig
	breaker *circuitbreaker.CircuitBreaker
	budget  *ratelimit.BudgetTracker
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// request describes one call. When endpoints is set, path is appended to
// the active base URL; otherwise path is the full URL.
type request struct {
	op        string
	method    string
	endpoints *EndpointSet
	path      string
	headers   map[string]string
	body      []byte
	// kind prices the call against the shared budget
	kind string
}

func newUpstream(name string, timeout time.Duration, requestsPerSecond float64, shared Shared) *upstream {
	u := &upstream{
		name:    name,
		client:  shared.HTTP,
		timeout: timeout,
		retry:   shared.Retry,
		budget:  shared.Budget,
		metrics: shared.Metrics,
		logger:  shared.Logger,
	}
	if u.client == nil {
		u.client = &fasthttp.Client{
			Name:                "portfolio-valuator",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 30 * time.Second,
		}
	}
	if u.timeout <= 0 {
		u.timeout = 10 * time.Second
	}
	if u.retry == nil {
		u.retry = retry.DefaultRetryConfig()
	}
	if u.logger == nil {
		u.logger = logging.GetGlobalLogger()
	}
	u.logger = u.logger.Named(name)

	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	} else {
		u.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if shared.Breakers != nil {
		u.breaker = shared.Breakers.Get(name)
	} else {
		u.breaker = circuitbreaker.NewCircuitBreaker(BreakerDefaults(shared.Metrics, nil)(name))
	}
	return u
}

// do runs req through retry and the breaker and decodes a 200 body into
// out. A 404 is reported as ErrNotFound and does not trip the breaker.
func (u *upstream) do(ctx context.Context, req request, out interface{}) error {
	var notFound bool
	err := retry.Do(ctx, u.retry, func(ctx context.Context, attempt int) error {
		notFound = false
		return u.breaker.Execute(ctx, func(ctx context.Context) error {
			body, status, err := u.once(ctx, req)
			if err != nil {
				return err
			}
			if status == fasthttp.StatusNotFound {
				notFound = true
				return nil
			}
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return NewAdapterError(u.name, req.op, fmt.Errorf("%w: %v", ErrMalformedResponse, err), nil)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	if notFound {
		return NewAdapterError(u.name, req.op, ErrNotFound, map[string]interface{}{"path": req.path})
	}
	return nil
}

// once performs a single attempt and maps transport and status failures
// onto categorized errors
func (u *upstream) once(ctx context.Context, req request) ([]byte, int, error) {
	if u.budget != nil {
		if err := u.budget.Wait(ctx, ratelimit.Cost(req.kind), ratelimit.PriorityFrom(ctx)); err != nil {
			return nil, 0, fmt.Errorf("%s budget: %w", u.name, err)
		}
	}
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%s rate limit: %w", u.name, err)
	}

	url := req.path
	if req.endpoints != nil {
		url = req.endpoints.Current() + req.path
	}

	r := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(r)
	r.SetRequestURI(url)
	r.Header.SetMethod(req.method)
	r.Header.Set("Accept", "application/json")
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	if req.body != nil {
		r.Header.SetContentType("application/json")
		r.SetBodyRaw(req.body)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(u.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := u.client.DoDeadline(r, resp, deadline)
	elapsed := time.Since(start)

	if err == nil && resp.StatusCode() >= fasthttp.StatusInternalServerError {
		err = apperrors.NewProviderError(u.name, fmt.Errorf("status %d: %s", resp.StatusCode(), truncate(resp.Body())))
	}
	u.metrics.ObserveUpstream(u.name, elapsed.Seconds(), err)

	if err != nil {
		if req.endpoints != nil && req.endpoints.RecordFailure() {
			u.logger.WithField("url", req.endpoints.Current()).Warn("switched to fallback endpoint")
		}
		var catErr *apperrors.CategorizedError
		switch {
		case errors.As(err, &catErr):
			return nil, 0, err
		case ctx.Err() != nil:
			return nil, 0, ctx.Err()
		case errors.Is(err, fasthttp.ErrTimeout):
			return nil, 0, apperrors.NewProviderTimeoutError(u.name)
		default:
			return nil, 0, apperrors.NewProviderError(u.name, err)
		}
	}
	if req.endpoints != nil {
		req.endpoints.RecordSuccess(elapsed)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK, status == fasthttp.StatusNotFound:
		// the body is only valid until the response is released
		return append([]byte(nil), resp.Body()...), status, nil
	case status == fasthttp.StatusTooManyRequests:
		return nil, status, apperrors.NewProviderRateLimitError(u.name)
	default:
		u.logger.WithFields(map[string]interface{}{
			"op":     req.op,
			"status": status,
		}).Warn("unexpected upstream status")
		return nil, status, NewAdapterError(u.name, req.op, fmt.Errorf("unexpected status %d: %s", status, truncate(resp.Body())), nil)
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
