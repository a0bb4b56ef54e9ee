package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

type upstreamFunc func(*http.Request) (*http.Response, error)

func (f upstreamFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// stubUpstream routes every request made by client through fn.
func stubUpstream(client *EventsClient, fn upstreamFunc) {
	client.httpClient = &http.Client{Transport: fn}
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestFetchEventsFiltersToRange(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	client := NewEventsClient("https://events.example.com/", "/api/v1/errors/events", EventsClientOptions{Timeout: time.Second}, nil)
	stubUpstream(client, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/v1/errors/events", req.URL.Path)
		assert.Equal(t, http.MethodPost, req.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, start.Format(time.RFC3339), body["start"])
		return jsonResponse(t, http.StatusOK, map[string]any{
			"events": []models.ErrorEvent{
				{Timestamp: start.Add(time.Minute), Layer: models.LayerAPI, Severity: models.SeverityHigh},
				{Timestamp: end, Layer: models.LayerAPI, Severity: models.SeverityLow},
			},
		}), nil
	})

	events, err := client.FetchEvents(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
}

func TestFetchEventsOpensBreaker(t *testing.T) {
	hits := 0
	client := NewEventsClient("https://events.example.com", "/events", EventsClientOptions{
		Timeout:        time.Second,
		BreakerTimeout: time.Minute,
		MaxFailures:    2,
	}, nil)
	stubUpstream(client, func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(t, http.StatusBadGateway, map[string]string{"error": "bad gateway"}), nil
	})

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 2; i++ {
		_, err := client.FetchEvents(ctx, now.Add(-time.Hour), now)
		assert.True(t, utils.IsKind(err, utils.KindDependencyUnavailable))
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.FetchEvents(ctx, now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, hits, "open breaker must not reach the upstream")
}

func TestFetchEventsRequiresBaseURL(t *testing.T) {
	client := NewEventsClient("", "/events", EventsClientOptions{}, nil)
	_, err := client.FetchEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.True(t, utils.IsKind(err, utils.KindConfiguration))
}
