package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhome/hubauth/flow"
)

type handlerFunc func(ctx context.Context, stepID string, input map[string]string) (flow.Result, error)

func (f handlerFunc) Step(ctx context.Context, stepID string, input map[string]string) (flow.Result, error) {
	return f(ctx, stepID, input)
}

// formThenEntry shows a form on the first call and completes with data on
// any non-nil input.
func formThenEntry(data any) flow.Handler {
	return handlerFunc(func(_ context.Context, stepID string, input map[string]string) (flow.Result, error) {
		if input == nil {
			return flow.Result{Type: flow.TypeForm, StepID: stepID}, nil
		}
		return flow.Result{Type: flow.TypeCreateEntry, Data: data}, nil
	})
}

func TestStartReturnsFormWithFlowID(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	res, err := r.Start(context.Background(), formThenEntry("x"))
	require.NoError(t, err)
	assert.Equal(t, flow.TypeForm, res.Type)
	assert.Equal(t, flow.StepInit, res.StepID)
	assert.NotEmpty(t, res.FlowID)
	assert.Equal(t, 1, r.Len())
}

func TestConfigureCompletesAndRetiresFlow(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	res, err := r.Start(context.Background(), formThenEntry("payload"))
	require.NoError(t, err)

	done, err := r.Configure(context.Background(), res.FlowID, map[string]string{"username": "u"})
	require.NoError(t, err)
	assert.Equal(t, flow.TypeCreateEntry, done.Type)
	assert.Equal(t, "payload", done.Data)
	assert.Equal(t, res.FlowID, done.FlowID)
	assert.Equal(t, 0, r.Len())

	// Flows are single use.
	_, err = r.Configure(context.Background(), res.FlowID, map[string]string{"username": "u"})
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)
}

func TestConfigureUnknownFlow(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	_, err := r.Configure(context.Background(), "no-such-flow", nil)
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)
}

func TestFormRetryKeepsFlowAlive(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	h := handlerFunc(func(_ context.Context, stepID string, input map[string]string) (flow.Result, error) {
		switch {
		case input == nil:
			return flow.Result{Type: flow.TypeForm, StepID: stepID}, nil
		case input["password"] != "good":
			return flow.Result{
				Type:   flow.TypeForm,
				StepID: stepID,
				Errors: map[string]string{"base": "invalid_auth"},
			}, nil
		default:
			return flow.Result{Type: flow.TypeCreateEntry, Data: "ok"}, nil
		}
	})

	res, err := r.Start(context.Background(), h)
	require.NoError(t, err)

	retry, err := r.Configure(context.Background(), res.FlowID, map[string]string{"password": "bad"})
	require.NoError(t, err)
	assert.Equal(t, flow.TypeForm, retry.Type)
	assert.Equal(t, "invalid_auth", retry.Errors["base"])
	assert.Equal(t, 1, r.Len())

	done, err := r.Configure(context.Background(), res.FlowID, map[string]string{"password": "good"})
	require.NoError(t, err)
	assert.Equal(t, flow.TypeCreateEntry, done.Type)
}

func TestMultiStepFlowAdvances(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	var seen []string
	h := handlerFunc(func(_ context.Context, stepID string, input map[string]string) (flow.Result, error) {
		seen = append(seen, stepID)
		switch stepID {
		case flow.StepInit:
			if input == nil {
				return flow.Result{Type: flow.TypeForm, StepID: flow.StepInit}, nil
			}
			return flow.Result{Type: flow.TypeForm, StepID: "verify"}, nil
		case "verify":
			return flow.Result{Type: flow.TypeCreateEntry, Data: "done"}, nil
		default:
			return flow.Result{}, errors.New("unexpected step " + stepID)
		}
	})

	res, err := r.Start(context.Background(), h)
	require.NoError(t, err)

	res, err = r.Configure(context.Background(), res.FlowID, map[string]string{"code": "1"})
	require.NoError(t, err)
	assert.Equal(t, "verify", res.StepID)

	res, err = r.Configure(context.Background(), res.FlowID, map[string]string{"code": "2"})
	require.NoError(t, err)
	assert.Equal(t, flow.TypeCreateEntry, res.Type)
	assert.Equal(t, []string{flow.StepInit, flow.StepInit, "verify"}, seen)
}

func TestAbortRetiresFlow(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	h := handlerFunc(func(_ context.Context, stepID string, input map[string]string) (flow.Result, error) {
		if input == nil {
			return flow.Result{Type: flow.TypeForm, StepID: stepID}, nil
		}
		return flow.Result{Type: flow.TypeAbort, Reason: "provider_unavailable"}, nil
	})

	res, err := r.Start(context.Background(), h)
	require.NoError(t, err)

	res, err = r.Configure(context.Background(), res.FlowID, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, flow.TypeAbort, res.Type)
	assert.Equal(t, "provider_unavailable", res.Reason)

	_, err = r.Configure(context.Background(), res.FlowID, map[string]string{})
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)
}

func TestAbandon(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	res, err := r.Start(context.Background(), formThenEntry("x"))
	require.NoError(t, err)

	r.Abandon(res.FlowID)
	assert.Equal(t, 0, r.Len())

	_, err = r.Configure(context.Background(), res.FlowID, map[string]string{})
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)

	r.Abandon("no-such-flow")
}

func TestFlowExpires(t *testing.T) {
	r := flow.NewRegistry(flow.WithTTL(time.Millisecond))
	defer r.Close()

	res, err := r.Start(context.Background(), formThenEntry("x"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = r.Configure(context.Background(), res.FlowID, map[string]string{})
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)
}

func TestCapacityEvictsOldestFlow(t *testing.T) {
	r := flow.NewRegistry(flow.WithCapacity(1))
	defer r.Close()

	first, err := r.Start(context.Background(), formThenEntry("a"))
	require.NoError(t, err)
	second, err := r.Start(context.Background(), formThenEntry("b"))
	require.NoError(t, err)

	_, err = r.Configure(context.Background(), first.FlowID, map[string]string{})
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)

	res, err := r.Configure(context.Background(), second.FlowID, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, flow.TypeCreateEntry, res.Type)
}

func TestTerminalFirstStep(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	h := handlerFunc(func(_ context.Context, _ string, _ map[string]string) (flow.Result, error) {
		return flow.Result{Type: flow.TypeAbort, Reason: "nothing_to_do"}, nil
	})

	res, err := r.Start(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, flow.TypeAbort, res.Type)
	assert.NotEmpty(t, res.FlowID)
	assert.Equal(t, 0, r.Len())
}

func TestHandlerErrorRetiresFlow(t *testing.T) {
	r := flow.NewRegistry()
	defer r.Close()

	boom := errors.New("boom")
	h := handlerFunc(func(_ context.Context, _ string, input map[string]string) (flow.Result, error) {
		if input == nil {
			return flow.Result{Type: flow.TypeForm}, nil
		}
		return flow.Result{}, boom
	})

	res, err := r.Start(context.Background(), h)
	require.NoError(t, err)

	_, err = r.Configure(context.Background(), res.FlowID, map[string]string{})
	assert.ErrorIs(t, err, boom)

	_, err = r.Configure(context.Background(), res.FlowID, map[string]string{})
	assert.ErrorIs(t, err, flow.ErrUnknownFlow)
}
