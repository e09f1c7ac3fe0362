// Package validator implements the Credential Validator (C3): confirms a
// cookie set yields a successful profile probe through the Sidecar Bridge
// and extracts uid + display_name (spec.md §4.3).
package validator

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
)

// DefaultTimeout is the default probe timeout (spec.md §4.3, "Timeout
// 10 s; no retries at this layer").
const DefaultTimeout = 10 * time.Second

// Validator implements interfaces.CredentialValidator against a
// SidecarBridge probe.
type Validator struct {
	bridge  interfaces.SidecarBridge
	timeout time.Duration
	logger  arbor.ILogger
}

// New builds a Validator. A zero timeout falls back to DefaultTimeout.
func New(bridge interfaces.SidecarBridge, timeout time.Duration, logger arbor.ILogger) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{bridge: bridge, timeout: timeout, logger: logger}
}

var _ interfaces.CredentialValidator = (*Validator)(nil)

// Validate checks that cookies are complete, probes them through the
// bridge, and cross-checks the returned uid against expectedUID when one is
// supplied (spec.md §4.3). No retries are attempted here — the caller
// decides whether to retry.
func (v *Validator) Validate(ctx context.Context, cookies map[string]string, expectedUID string) (*interfaces.ValidationResult, error) {
	for _, name := range models.RequiredCookieNames {
		if _, ok := cookies[name]; !ok {
			v.logger.Warn().
				Strs("present_cookies", common.RedactCookies(cookies)).
				Str("missing", name).
				Msg("credential validation rejected: missing cookie")
			return nil, apperr.New(apperr.CodeMissingCookie, "missing required cookie: "+name)
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	result, err := v.bridge.Validate(probeCtx, cookies)
	if err != nil {
		if probeCtx.Err() != nil {
			v.logger.Warn().Dur("timeout", v.timeout).Msg("credential validation timed out")
			return nil, apperr.Wrap(apperr.CodeTimeout, "validation probe timed out", err)
		}
		return nil, apperr.Wrap(apperr.CodeValidationFailed, "validation probe failed", err)
	}

	if !result.Valid {
		v.logger.Warn().Str("reason", result.Error).Msg("credential validation rejected by probe")
		return nil, apperr.New(apperr.CodeValidationFailed, "probe rejected: "+result.Error)
	}

	if result.UID == "" {
		return nil, apperr.New(apperr.CodeValidationFailed, "probe succeeded without a uid: no-uid")
	}

	if expectedUID != "" && result.UID != expectedUID {
		v.logger.Warn().
			Str("expected_uid", expectedUID).
			Str("actual_uid", result.UID).
			Msg("credential validation uid mismatch")
		return nil, apperr.New(apperr.CodeUidMismatch, "expected uid "+expectedUID+", got "+result.UID)
	}

	v.logger.Info().Str("uid", result.UID).Msg("credential validated")

	return &interfaces.ValidationResult{
		UID:         result.UID,
		DisplayName: result.DisplayName,
	}, nil
}
