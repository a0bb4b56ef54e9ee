package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// EventsClient pulls historical error events from an upstream event store. Calls go through
// a circuit breaker so a failing upstream is skipped quickly.
type EventsClient struct {
	baseURL    string
	eventsPath string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// EventsClientOptions tunes the HTTP client and breaker.
type EventsClientOptions struct {
	Timeout        time.Duration
	BreakerTimeout time.Duration
	MaxFailures    uint32
}

// NewEventsClient constructs a client targeting the configured event store.
func NewEventsClient(baseURL, eventsPath string, opts EventsClientOptions, logger *slog.Logger) *EventsClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	logger = utils.LoggerOr(logger)
	maxFailures := opts.MaxFailures
	c := &EventsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		eventsPath: eventsPath,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "events-upstream",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return c
}

// FetchEvents returns the events recorded upstream within [start, end).
func (c *EventsClient) FetchEvents(ctx context.Context, start, end time.Time) ([]models.ErrorEvent, error) {
	const op = "repo.FetchEvents"
	if c == nil {
		return nil, utils.NewConfigurationError(op, "events client not initialised")
	}
	if c.baseURL == "" {
		return nil, utils.NewConfigurationError(op, "events base URL not configured")
	}

	payload := map[string]any{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	}

	var response struct {
		Events []models.ErrorEvent `json:"events"`
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.postJSON(ctx, c.eventsURL(), payload, &response)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, utils.NewDependencyError(op, "events upstream circuit open", err)
		}
		return nil, utils.NewDependencyError(op, "events request failed", err)
	}

	events := make([]models.ErrorEvent, 0, len(response.Events))
	for _, ev := range response.Events {
		if !ev.Timestamp.Before(start) && ev.Timestamp.Before(end) {
			events = append(events, ev)
		}
	}
	return events, nil
}

// State exposes the breaker state for health reporting.
func (c *EventsClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *EventsClient) eventsURL() string { return c.resolvePath(c.eventsPath) }

func (c *EventsClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *EventsClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events upstream returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
