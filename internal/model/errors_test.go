package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestAuthError_IsMatchesByKind はerrors.Isが種別だけで一致することを検証する。
func TestAuthError_IsMatchesByKind(t *testing.T) {
	err := &AuthError{Kind: AuthInvalidCredentials, Code: "auth/wrong-password", Message: "wrong password"}
	wrapped := fmt.Errorf("sign in: %w", err)

	if !errors.Is(wrapped, ErrInvalidCredentials) {
		t.Error("expected wrapped error to match ErrInvalidCredentials")
	}
	if errors.Is(wrapped, ErrAccountDisabled) {
		t.Error("expected wrapped error not to match ErrAccountDisabled")
	}
	if got := AuthErrorKindOf(wrapped); got != AuthInvalidCredentials {
		t.Errorf("AuthErrorKindOf() = %q, want %q", got, AuthInvalidCredentials)
	}
}

func TestAuthError_ErrorPreservesProviderCode(t *testing.T) {
	err := &AuthError{Kind: AuthUnknown, Code: "auth/internal-error", Message: "boom"}

	if !strings.Contains(err.Error(), "auth/internal-error") {
		t.Errorf("Error() = %q, should contain provider code", err.Error())
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Error() = %q, should contain original message", err.Error())
	}
}

func TestAuthErrorKindOf_NonAuthError(t *testing.T) {
	if got := AuthErrorKindOf(errors.New("plain")); got != AuthUnknown {
		t.Errorf("AuthErrorKindOf() = %q, want %q", got, AuthUnknown)
	}
}

func TestAuthError_APIError_EveryKindHasCode(t *testing.T) {
	kinds := []AuthErrorKind{
		AuthInvalidCredentials, AuthAccountDisabled, AuthAccountNotFound,
		AuthEmailAlreadyRegistered, AuthWeakCredential, AuthNetworkUnavailable,
		AuthRateLimited, AuthUserCancelled, AuthPopupBlocked,
		AuthUnsupportedEnvironment, AuthUnknown,
	}
	seen := make(map[string]bool)
	for _, kind := range kinds {
		apiErr := (&AuthError{Kind: kind}).APIError()
		if apiErr.Code == "" {
			t.Errorf("kind %q has empty API code", kind)
		}
		if apiErr.Category != "auth" {
			t.Errorf("kind %q category = %q, want auth", kind, apiErr.Category)
		}
		if seen[apiErr.Code] {
			t.Errorf("duplicate API code %q", apiErr.Code)
		}
		seen[apiErr.Code] = true
	}
}

func TestRecordError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &RecordError{Kind: RecordUnavailable, Op: "create", Collection: "tasks", Err: cause}

	if !errors.Is(err, ErrRecordUnavailable) {
		t.Error("expected error to match ErrRecordUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to unwrap to cause")
	}
	if !strings.Contains(err.Error(), "tasks") {
		t.Errorf("Error() = %q, should mention collection", err.Error())
	}
}

func TestRecordError_APIError(t *testing.T) {
	tests := []struct {
		kind RecordErrorKind
		code string
	}{
		{RecordInvalid, "INVALID_RECORD"},
		{RecordNotFound, "RECORD_NOT_FOUND"},
		{RecordPermissionDenied, "PERMISSION_DENIED"},
		{RecordUnavailable, "STORE_UNAVAILABLE"},
		{RecordUnknown, "RECORD_WRITE_FAILED"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := (&RecordError{Kind: tt.kind, Collection: "goals", ID: "g1"}).APIError()
			if got.Code != tt.code {
				t.Errorf("Code = %q, want %q", got.Code, tt.code)
			}
		})
	}
}

func TestClampProgress(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		if got := ClampProgress(tt.in); got != tt.want {
			t.Errorf("ClampProgress(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNote_Payload(t *testing.T) {
	n := Note{Kind: NoteKindPhoto, Content: "ignored", PhotoRef: "data:image/jpeg;base64,AAAA"}
	if n.Payload() != "data:image/jpeg;base64,AAAA" {
		t.Errorf("Payload() = %q", n.Payload())
	}
	if NoteKind("video").Valid() {
		t.Error("expected video kind to be invalid")
	}
}
