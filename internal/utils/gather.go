package utils

import (
	"context"
	"fmt"
	"sort"
)

// Source is one independent fetch participating in a Gather.
type Source[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
}

// GatherResult holds per-source successes and failures.
type GatherResult[T any] struct {
	Successes map[string]T
	Failures  map[string]error
}

// AllFailed reports whether no source succeeded.
func (r GatherResult[T]) AllFailed() bool {
	return len(r.Successes) == 0
}

// FailedNames returns the failed source names in sorted order.
func (r GatherResult[T]) FailedNames() []string {
	names := make([]string, 0, len(r.Failures))
	for name := range r.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JoinedError combines all failures into one error, or nil.
func (r GatherResult[T]) JoinedError() error {
	if len(r.Failures) == 0 {
		return nil
	}
	names := r.FailedNames()
	msg := ""
	for i, name := range names {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %v", name, r.Failures[name])
	}
	return fmt.Errorf("%s", msg)
}

type gathered[T any] struct {
	name  string
	value T
	err   error
}

// Gather runs every source concurrently and isolates failures per source.
// A source that has not answered when ctx is done is recorded as failed with ctx.Err();
// its late result is discarded.
func Gather[T any](ctx context.Context, sources ...Source[T]) GatherResult[T] {
	result := GatherResult[T]{
		Successes: make(map[string]T, len(sources)),
		Failures:  make(map[string]error),
	}
	if len(sources) == 0 {
		return result
	}

	results := make(chan gathered[T], len(sources))
	for _, src := range sources {
		go func(src Source[T]) {
			defer func() {
				if r := recover(); r != nil {
					results <- gathered[T]{name: src.Name, err: fmt.Errorf("source panicked: %v", r)}
				}
			}()
			if src.Fetch == nil {
				results <- gathered[T]{name: src.Name, err: fmt.Errorf("source has no fetch function")}
				return
			}
			value, err := src.Fetch(ctx)
			results <- gathered[T]{name: src.Name, value: value, err: err}
		}(src)
	}

	pending := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		pending[src.Name] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.name)
			if res.err != nil {
				result.Failures[res.name] = res.err
				continue
			}
			result.Successes[res.name] = res.value
		case <-ctx.Done():
			for name := range pending {
				result.Failures[name] = ctx.Err()
			}
			return result
		}
	}
	return result
}
