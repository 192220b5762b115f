package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NotFound("chain %d", 7), http.StatusNotFound},
		{"invalid", Invalid("bad payload"), http.StatusBadRequest},
		{"conflict", Conflict("session %d", 1), http.StatusConflict},
		{"unauthorized", Unauthorized("bad secret"), http.StatusForbidden},
		{"upstream", Upstream(cause, "setWebhook"), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("create step: %w", NotFound("button 3")), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("telegram: Unauthorized (401)")
	err := Upstream(cause, "getMe")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream in chain: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain: %v", err)
	}
	if Code(err) != "UPSTREAM" {
		t.Fatalf("code = %s", Code(err))
	}
}
