// Package cascade runs an ordered list of fallible steps, stopping at the first
// one that succeeds and collecting the errors of those that did not.
//
// Every tiered read and write (local store → remote service) goes through
// First, so the fallback order is data rather than nested error handling.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Step is one attempt in a cascade.
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result reports which step produced the value and what failed before it.
type Result[T any] struct {
	Value T
	Step  string  // Name of the step that produced Value ("" when exhausted)
	Errs  []error // Failures of the steps attempted before Step, in order
}

// Fallback reports whether any earlier step failed before Value was produced.
func (r Result[T]) Fallback() bool {
	return len(r.Errs) > 0
}

// StepError attributes a failure to a named step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every step failed.
// errors.Is/As see through to each step's error.
type ExhaustedError struct {
	Errs []error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = err.Error()
	}
	return "all tiers failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() []error {
	return e.Errs
}

type options[T any] struct {
	accept func(T) bool
}

// Option configures First.
type Option[T any] func(*options[T])

// AcceptWhen treats a successful step whose value fails the predicate as a
// miss: the cascade keeps going. If no later step is accepted, the first
// successful-but-rejected value is returned without error.
func AcceptWhen[T any](accept func(T) bool) Option[T] {
	return func(o *options[T]) {
		o.accept = accept
	}
}

// First runs steps in order and returns the first accepted result.
// A cancelled context stops the cascade before the next step.
func First[T any](ctx context.Context, steps []Step[T], opts ...Option[T]) (Result[T], error) {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}

	var (
		res      Result[T]
		fallback *Result[T]
	)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			res.Errs = append(res.Errs, &StepError{Step: step.Name, Err: err})
			break
		}

		v, err := step.Run(ctx)
		if err != nil {
			res.Errs = append(res.Errs, &StepError{Step: step.Name, Err: err})
			continue
		}
		if o.accept != nil && !o.accept(v) {
			if fallback == nil {
				fallback = &Result[T]{Value: v, Step: step.Name}
			}
			continue
		}

		res.Value = v
		res.Step = step.Name
		return res, nil
	}

	if fallback != nil {
		fallback.Errs = res.Errs
		return *fallback, nil
	}
	if len(res.Errs) == 0 {
		return res, errors.New("cascade: no steps")
	}
	return res, &ExhaustedError{Errs: res.Errs}
}
