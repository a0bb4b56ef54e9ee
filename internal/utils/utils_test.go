package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherIsolatesFailures(t *testing.T) {
	res := Gather(context.Background(),
		Source[int]{Name: "ok", Fetch: func(context.Context) (int, error) { return 7, nil }},
		Source[int]{Name: "broken", Fetch: func(context.Context) (int, error) { return 0, errors.New("down") }},
		Source[int]{Name: "panics", Fetch: func(context.Context) (int, error) { panic("boom") }},
	)

	assert.Equal(t, map[string]int{"ok": 7}, res.Successes)
	assert.Equal(t, []string{"broken", "panics"}, res.FailedNames())
	assert.False(t, res.AllFailed())
	require.Error(t, res.JoinedError())
}

func TestGatherHonoursDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := Gather(ctx,
		Source[string]{Name: "fast", Fetch: func(context.Context) (string, error) { return "x", nil }},
		Source[string]{Name: "slow", Fetch: func(context.Context) (string, error) {
			time.Sleep(500 * time.Millisecond)
			return "late", nil
		}},
	)

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, "x", res.Successes["fast"])
	assert.ErrorIs(t, res.Failures["slow"], context.DeadlineExceeded)
}

func TestGatherNoSources(t *testing.T) {
	res := Gather[int](context.Background())
	assert.True(t, res.AllFailed())
	assert.NoError(t, res.JoinedError())
}

func TestErrorKinds(t *testing.T) {
	err := NewValidationError("op", "bad input")
	assert.True(t, IsKind(err, KindValidation))

	wrapped := fmt.Errorf("outer: %w", NewAuthorizationError("op", "missing"))
	assert.Equal(t, KindAuthorization, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))

	dep := NewDependencyError("fetch", "upstream", context.DeadlineExceeded)
	assert.ErrorIs(t, dep, context.DeadlineExceeded)
	assert.Contains(t, dep.Error(), "upstream")
}

func TestIsSensitiveKey(t *testing.T) {
	for _, key := range []string{
		"email", "user_id", "customerId", "jane.doe@example.com", "+1 555-010-9999", "Phone_Number",
		"user_email", "user_name", "firstName", "ip_address", "name", "Address",
	} {
		assert.True(t, IsSensitiveKey(key), key)
	}
	for _, key := range []string{
		"cpu_load", "queue_depth", "p99_latency", "",
		"hostname", "service_name", "bind_address", "mailbox_depth", "namespace",
	} {
		assert.False(t, IsSensitiveKey(key), key)
	}

	safe := SafeFeatures(map[string]float64{"cpu": 0.4, "user_id": 12})
	assert.Equal(t, map[string]float64{"cpu": 0.4}, safe)
}

func TestBucketStarts(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	buckets := BucketStarts(start, end, time.Hour, time.UTC)
	require.Len(t, buckets, 4)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), buckets[0])

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	days := BucketStarts(start, start.Add(48*time.Hour), 24*time.Hour, berlin)
	require.Len(t, days, 3)
	assert.Equal(t, 0, days[0].In(berlin).Hour())

	assert.Nil(t, BucketStarts(end, start, time.Hour, nil))
}
