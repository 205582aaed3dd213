package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/waypost-app/waypost-go/internal/auth/credentials"
	"github.com/waypost-app/waypost-go/internal/auth/lifecycle"
)

// RequestClient wraps authenticated API calls against the backend. Before
// each call it refreshes the session proactively when it is close to expiry;
// on a 401 response it refreshes reactively and retries under the bounded
// RetryPolicy. Retry is reserved exclusively for the 401-then-refresh
// pattern; every other non-2xx status surfaces immediately.
type RequestClient struct {
	httpClient    *http.Client
	baseURL       string
	store         credentials.Store
	coordinator   *SessionCoordinator
	policy        RetryPolicy
	refreshWindow time.Duration
	now           func() time.Time
}

// NewRequestClient constructs a request client. refreshWindow controls
// proactive refresh; zero applies the default of one hour.
func NewRequestClient(httpClient *http.Client, baseURL string, store credentials.Store, coordinator *SessionCoordinator, policy RetryPolicy, refreshWindow time.Duration) *RequestClient {
	if refreshWindow <= 0 {
		refreshWindow = lifecycle.ProactiveWindow
	}
	return &RequestClient{
		httpClient:    httpClient,
		baseURL:       strings.TrimRight(baseURL, "/"),
		store:         store,
		coordinator:   coordinator,
		policy:        policy,
		refreshWindow: refreshWindow,
		now:           time.Now,
	}
}

// Do performs an authenticated request and returns the response body on any
// 2xx status.
func (c *RequestClient) Do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	cred, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("request client: loading credentials failed: %w", err)
	}
	if cred == nil {
		return nil, ErrNotAuthenticated
	}

	cred = c.maybeRefreshProactively(ctx, cred)

	requestID := uuid.NewString()[:8]
	logger := log.WithField("request_id", requestID)

	for attempt := 0; ; attempt++ {
		status, respBody, err := c.send(ctx, method, path, body, cred.SessionToken, requestID)
		if err != nil {
			return nil, err
		}

		if status >= 200 && status < 300 {
			return respBody, nil
		}

		if status != http.StatusUnauthorized {
			return nil, APIError(status)
		}

		if attempt >= c.policy.MaxAttempts {
			return nil, &Error{
				Code:       ErrAuthenticationFailed.Code,
				Message:    fmt.Sprintf("request still unauthorized after %d refresh attempts", c.policy.MaxAttempts),
				HTTPStatus: status,
			}
		}

		logger.WithField("attempt", attempt).Debug("got 401, backing off before refresh")
		if err = c.policy.Wait(ctx, attempt); err != nil {
			return nil, err
		}

		refreshed, errRefresh := c.coordinator.Refresh(ctx, cred)
		if errRefresh != nil {
			// Refresh failure is terminal, not transient: when this was the
			// last permitted cycle there is no point issuing the request
			// again with the same stale token.
			if attempt+1 >= c.policy.MaxAttempts {
				return nil, &Error{
					Code:    ErrAuthenticationFailed.Code,
					Message: fmt.Sprintf("session refresh failed on final retry: %v", errRefresh),
					Cause:   errRefresh,
				}
			}
			logger.WithFields(log.Fields{"attempt": attempt, "error": errRefresh}).Warn("reactive refresh failed, retrying with current token")
			continue
		}

		if err = c.store.Save(ctx, refreshed); err != nil {
			return nil, fmt.Errorf("request client: persisting refreshed credentials failed: %w", err)
		}
		cred = refreshed
	}
}

// maybeRefreshProactively refreshes the session when it is inside the
// refresh window. A failed proactive refresh never blocks the primary
// request; it is an optimization, not a precondition.
func (c *RequestClient) maybeRefreshProactively(ctx context.Context, cred *credentials.Credential) *credentials.Credential {
	expiresAt, ok := cred.ExpiresAt()
	if ok && !lifecycle.NeedsRefresh(expiresAt, c.now(), c.refreshWindow) {
		return cred
	}

	refreshed, err := c.coordinator.Refresh(ctx, cred)
	if err != nil {
		log.WithField("error", err).Debug("proactive refresh failed, continuing with current token")
		return cred
	}
	if err = c.store.Save(ctx, refreshed); err != nil {
		log.WithField("error", err).Warn("persisting proactively refreshed credentials failed, continuing with current token")
		return cred
	}
	return refreshed
}

// send issues one HTTP attempt and returns the status and body.
func (c *RequestClient) send(ctx context.Context, method, path string, body []byte, sessionToken, requestID string) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("request client: create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, NetworkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, NetworkError(err)
	}
	return resp.StatusCode, respBody, nil
}
