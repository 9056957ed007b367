package hubauth

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/hearthhome/hubauth/flow"
	"github.com/hearthhome/hubauth/internal/audit"
	"github.com/hearthhome/hubauth/provider"
)

// loginFlow adapts one provider to the flow engine: show the provider's
// form, try the submitted input, re-show the form on bad credentials, and
// abort when the provider itself is broken.
type loginFlow struct {
	provider provider.Provider
	store    *Store
}

func (f *loginFlow) Step(ctx context.Context, stepID string, input map[string]string) (flow.Result, error) {
	if input == nil {
		return f.form(stepID, nil), nil
	}

	key := provider.Key{Type: f.provider.Type(), ID: f.provider.ID()}

	identity, err := f.provider.Authenticate(ctx, input)
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrInvalidAuth):
		log.Warn().
			Str("provider_type", f.provider.Type()).
			Str("provider_id", f.provider.ID()).
			Msg("Login attempt rejected")
		audit.Log("LoginFlow", "Authenticate", input["username"], key.String(), "", false, err)
		return f.form(stepID, map[string]string{"base": "invalid_auth"}), nil
	case errors.Is(err, provider.ErrUnavailable):
		log.Error().Err(err).
			Str("provider_type", f.provider.Type()).
			Str("provider_id", f.provider.ID()).
			Msg("Auth provider unavailable")
		return flow.Result{Type: flow.TypeAbort, Reason: "provider_unavailable"}, nil
	default:
		log.Error().Err(err).
			Str("provider_type", f.provider.Type()).
			Str("provider_id", f.provider.ID()).
			Msg("Auth provider failed")
		return flow.Result{Type: flow.TypeAbort, Reason: "unknown_error"}, nil
	}

	creds := f.store.GetOrCreateCredentials(key, identity)
	audit.Log("LoginFlow", "Authenticate", identity.Key, key.String(), "", true, nil)
	return flow.Result{Type: flow.TypeCreateEntry, Data: creds}, nil
}

func (f *loginFlow) form(stepID string, errs map[string]string) flow.Result {
	return flow.Result{
		Type:   flow.TypeForm,
		StepID: stepID,
		Schema: f.provider.Schema(),
		Errors: errs,
	}
}
