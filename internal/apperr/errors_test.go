package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNotFound_MessageAndStatus(t *testing.T) {
	err := NotFound("datasource", "abc-123")
	if err.Code != CodeNotFound {
		t.Errorf("expected code %s, got %s", CodeNotFound, err.Code)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, err.HTTPStatus)
	}
	if err.Message != "datasource with id 'abc-123' not found" {
		t.Errorf("unexpected message: %s", err.Message)
	}
}

func TestAppError_ErrorIncludesWrappedCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := UpstreamFailure("query failed", cause)

	msg := err.Error()
	if !contains(msg, "query failed") || !contains(msg, "connection refused") {
		t.Errorf("expected Error() to mention both message and cause, got %q", msg)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Internal("setup failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through to the wrapped cause")
	}
}

func TestWrap_PreservesAppErrorCodeAndStatus(t *testing.T) {
	original := Forbidden("cross-tenant access")
	wrapped := Wrap(original, "datasource_query")

	if wrapped.Code != CodeForbidden {
		t.Errorf("expected code to be preserved as %s, got %s", CodeForbidden, wrapped.Code)
	}
	if wrapped.HTTPStatus != http.StatusForbidden {
		t.Errorf("expected status to be preserved as %d, got %d", http.StatusForbidden, wrapped.HTTPStatus)
	}
}

func TestWrap_PlainErrorBecomesInternal(t *testing.T) {
	wrapped := Wrap(fmt.Errorf("unexpected panic"), "schema_get")
	if wrapped.Code != CodeInternal {
		t.Errorf("expected a plain error to wrap as %s, got %s", CodeInternal, wrapped.Code)
	}
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	if Wrap(nil, "noop") != nil {
		t.Error("expected Wrap(nil, ...) to return nil")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NotFound("project", "x")) {
		t.Error("expected IsNotFound to be true for a NotFound error")
	}
	if IsNotFound(Forbidden("nope")) {
		t.Error("expected IsNotFound to be false for a Forbidden error")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("expected IsNotFound to be false for a non-AppError")
	}
}

func TestIsForbidden(t *testing.T) {
	if !IsForbidden(Forbidden("nope")) {
		t.Error("expected IsForbidden to be true for a Forbidden error")
	}
	if IsForbidden(NotFound("x", "y")) {
		t.Error("expected IsForbidden to be false for a NotFound error")
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(Conflict("already streaming")) {
		t.Error("expected IsConflict to be true for a Conflict error")
	}
	if IsConflict(NotFound("x", "y")) {
		t.Error("expected IsConflict to be false for a NotFound error")
	}
}

func TestGetHTTPStatus(t *testing.T) {
	if got := GetHTTPStatus(BadRequest("bad")); got != http.StatusBadRequest {
		t.Errorf("expected %d, got %d", http.StatusBadRequest, got)
	}
	if got := GetHTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("expected a plain error to default to %d, got %d", http.StatusInternalServerError, got)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || (len(substr) > 0 && indexOf(s, substr) >= 0))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
