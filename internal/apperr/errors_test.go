package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestConstructorsCarryStatusAndFlags(t *testing.T) {
	cases := []struct {
		err         *Error
		code        Code
		status      int
		operational bool
	}{
		{Validation("bad"), CodeValidation, http.StatusBadRequest, true},
		{NotFound("project", "p1"), CodeNotFound, http.StatusNotFound, true},
		{ToolCall("search_projects", errors.New("boom")), CodeToolCall, http.StatusBadRequest, true},
		{RateLimit("t", 5, time.Now()), CodeRateLimit, http.StatusTooManyRequests, true},
		{Database("db", nil), CodeDatabase, http.StatusInternalServerError, true},
		{Search("s", nil), CodeSearch, http.StatusInternalServerError, true},
		{VectorSearch("v", nil), CodeVectorSearch, http.StatusInternalServerError, true},
		{Timeout("t", nil), CodeTimeout, http.StatusRequestTimeout, true},
		{ServiceUnavailable("u", nil), CodeServiceUnavailable, http.StatusServiceUnavailable, true},
		{Conflict("c"), CodeConflict, http.StatusConflict, true},
		{Config("cfg", nil), CodeConfig, http.StatusInternalServerError, false},
	}
	for _, c := range cases {
		if c.err.Code != c.code {
			t.Errorf("Code = %s, want %s", c.err.Code, c.code)
		}
		if c.err.Status != c.status {
			t.Errorf("%s: Status = %d, want %d", c.code, c.err.Status, c.status)
		}
		if c.err.Operational != c.operational {
			t.Errorf("%s: Operational = %v, want %v", c.code, c.err.Operational, c.operational)
		}
	}
}

func TestNormalize(t *testing.T) {
	tagged := Validation("bad query")
	wrapped := fmt.Errorf("handler: %w", tagged)
	if got := Normalize(wrapped); got != tagged {
		t.Errorf("Normalize(wrapped) = %v, want original *Error", got)
	}

	if got := Normalize(context.DeadlineExceeded).Code; got != CodeTimeout {
		t.Errorf("deadline code = %s, want %s", got, CodeTimeout)
	}
	if got := Normalize(fmt.Errorf("querying: %w", context.Canceled)).Code; got != CodeServiceUnavailable {
		t.Errorf("canceled code = %s, want %s", got, CodeServiceUnavailable)
	}
	if got := Normalize(errors.New("sqlite: database is locked")).Code; got != CodeDatabase {
		t.Errorf("sqlite code = %s, want %s", got, CodeDatabase)
	}
	internal := Normalize(errors.New("nil pointer"))
	if internal.Code != CodeInternal || internal.Operational {
		t.Errorf("unknown error = %+v, want non-operational INTERNAL_ERROR", internal)
	}
	if Normalize(nil) != nil {
		t.Error("Normalize(nil) should be nil")
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NotFound("api", "a1"))
	if !errors.Is(err, &Error{Code: CodeNotFound}) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, &Error{Code: CodeValidation}) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestPublicOmitsCause(t *testing.T) {
	err := Database("database operation failed", errors.New("secret dsn /var/lib/x.db"))
	body := Public(err)
	if body.Code != CodeDatabase || body.StatusCode != 500 {
		t.Fatalf("body = %+v", body)
	}
	if body.Message != "database operation failed" {
		t.Errorf("Message = %q, cause must not leak", body.Message)
	}
}

func TestValidationIssues(t *testing.T) {
	err := Validation("invalid arguments", FieldIssue{Field: "limit", Message: "must be >= 1"})
	issues, ok := err.Details["issues"].([]FieldIssue)
	if !ok || len(issues) != 1 || issues[0].Field != "limit" {
		t.Errorf("issues = %#v", err.Details["issues"])
	}
}
