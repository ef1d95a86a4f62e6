package cascade

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func step(name string, v int, err error, calls *[]string) Step[int] {
	return Step[int]{
		Name: name,
		Run: func(ctx context.Context) (int, error) {
			*calls = append(*calls, name)
			return v, err
		},
	}
}

func TestFirst_StopsOnFirstSuccess(t *testing.T) {
	var calls []string
	res, err := First(context.Background(), []Step[int]{
		step("local", 1, nil, &calls),
		step("remote", 2, nil, &calls),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Value)
	assert.Equal(t, "local", res.Step)
	assert.False(t, res.Fallback())
	assert.Equal(t, []string{"local"}, calls)
}

func TestFirst_FallsThroughOnError(t *testing.T) {
	var calls []string
	res, err := First(context.Background(), []Step[int]{
		step("local", 0, errBoom, &calls),
		step("remote", 2, nil, &calls),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Value)
	assert.Equal(t, "remote", res.Step)
	require.Len(t, res.Errs, 1)
	assert.ErrorIs(t, res.Errs[0], errBoom)
	assert.Equal(t, []string{"local", "remote"}, calls)
}

func TestFirst_Exhausted(t *testing.T) {
	var calls []string
	errRemote := errors.New("remote down")
	_, err := First(context.Background(), []Step[int]{
		step("local", 0, errBoom, &calls),
		step("remote", 0, errRemote, &calls),
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Errs, 2)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, errRemote)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "local", stepErr.Step)
	assert.Contains(t, err.Error(), "all tiers failed")
}

func TestFirst_AcceptWhenFallsBackToRejectedValue(t *testing.T) {
	var calls []string
	nonZero := AcceptWhen(func(v int) bool { return v != 0 })

	res, err := First(context.Background(), []Step[int]{
		step("local", 0, nil, &calls),
		step("remote", 0, errBoom, &calls),
	}, nonZero)

	require.NoError(t, err)
	assert.Equal(t, "local", res.Step)
	assert.Equal(t, 0, res.Value)
	assert.Len(t, res.Errs, 1)
	assert.Equal(t, []string{"local", "remote"}, calls)
}

func TestFirst_AcceptWhenPrefersLaterAccepted(t *testing.T) {
	var calls []string
	res, err := First(context.Background(), []Step[int]{
		step("local", 0, nil, &calls),
		step("remote", 7, nil, &calls),
	}, AcceptWhen(func(v int) bool { return v != 0 }))

	require.NoError(t, err)
	assert.Equal(t, 7, res.Value)
	assert.Equal(t, "remote", res.Step)
}

func TestFirst_CancelledContext(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := First(ctx, []Step[int]{step("local", 1, nil, &calls)})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestFirst_NoSteps(t *testing.T) {
	_, err := First[int](context.Background(), nil)
	assert.Error(t, err)
}
