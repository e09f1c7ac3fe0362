package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

type fakeBridge struct {
	result *interfaces.ValidateResult
	err    error
	delay  time.Duration
}

func (f *fakeBridge) Start(ctx context.Context) error { return nil }
func (f *fakeBridge) Stop(ctx context.Context) error  { return nil }
func (f *fakeBridge) Health(ctx context.Context) bool  { return true }

func (f *fakeBridge) OpenSession(ctx context.Context) (*interfaces.OpenSessionResult, error) {
	return nil, nil
}

func (f *fakeBridge) Listen(ctx context.Context, sessionID string) (<-chan interfaces.SessionUpdate, error) {
	return nil, nil
}

func (f *fakeBridge) Validate(ctx context.Context, cookies map[string]string) (*interfaces.ValidateResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeBridge) Search(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange, page int) (*interfaces.SearchResult, error) {
	return nil, nil
}

func (f *fakeBridge) Logs(ctx context.Context, limit int) ([]string, error) { return nil, nil }

func validCookies() map[string]string {
	return map[string]string{"SUB": "tok", "SUBP": "sec"}
}

func TestValidator_Validate_Succeeds(t *testing.T) {
	bridge := &fakeBridge{result: &interfaces.ValidateResult{Valid: true, UID: "42", DisplayName: "Alice"}}
	v := New(bridge, time.Second, arbor.NewLogger())

	result, err := v.Validate(context.Background(), validCookies(), "")
	require.NoError(t, err)
	require.Equal(t, "42", result.UID)
	require.Equal(t, "Alice", result.DisplayName)
}

func TestValidator_Validate_MissingCookie(t *testing.T) {
	bridge := &fakeBridge{result: &interfaces.ValidateResult{Valid: true, UID: "42"}}
	v := New(bridge, time.Second, arbor.NewLogger())

	cookies := validCookies()
	delete(cookies, "SUBP")

	_, err := v.Validate(context.Background(), cookies, "")
	require.Error(t, err)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeMissingCookie, appErr.Code)
}

func TestValidator_Validate_UidMismatch(t *testing.T) {
	bridge := &fakeBridge{result: &interfaces.ValidateResult{Valid: true, UID: "99"}}
	v := New(bridge, time.Second, arbor.NewLogger())

	_, err := v.Validate(context.Background(), validCookies(), "42")

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeUidMismatch, appErr.Code)
}

func TestValidator_Validate_ProbeRejected(t *testing.T) {
	bridge := &fakeBridge{result: &interfaces.ValidateResult{Valid: false, Error: "status 403"}}
	v := New(bridge, time.Second, arbor.NewLogger())

	_, err := v.Validate(context.Background(), validCookies(), "")

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeValidationFailed, appErr.Code)
}

func TestValidator_Validate_NoUidInSuccessfulProbe(t *testing.T) {
	bridge := &fakeBridge{result: &interfaces.ValidateResult{Valid: true, UID: ""}}
	v := New(bridge, time.Second, arbor.NewLogger())

	_, err := v.Validate(context.Background(), validCookies(), "")

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeValidationFailed, appErr.Code)
}

func TestValidator_Validate_Timeout(t *testing.T) {
	bridge := &fakeBridge{delay: 50 * time.Millisecond}
	v := New(bridge, 10*time.Millisecond, arbor.NewLogger())

	_, err := v.Validate(context.Background(), validCookies(), "")

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeTimeout, appErr.Code)
}

func TestValidator_Validate_BridgeError(t *testing.T) {
	bridge := &fakeBridge{err: errors.New("connection reset")}
	v := New(bridge, time.Second, arbor.NewLogger())

	_, err := v.Validate(context.Background(), validCookies(), "")

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeValidationFailed, appErr.Code)
}
