package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"plain", errors.New("x"), http.StatusInternalServerError},
		{"not found", NotFound("chatflow %s not found", "a"), http.StatusNotFound},
		{"wrapped by fmt", fmt.Errorf("ctx: %w", BadRequest("bad")), http.StatusBadRequest},
		{"wrap keeps inner status", Wrap(http.StatusInternalServerError, Forbidden("no"), "outer"), http.StatusForbidden},
		{"wrap plain", Wrap(http.StatusBadGateway, errors.New("io"), "upstream"), http.StatusBadGateway},
		{"wrap nil", Wrap(http.StatusConflict, nil, "dup"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Fatalf("StatusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInternalError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(http.StatusInternalServerError, cause, "save chatflow")

	if err.Error() != "save chatflow: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach cause")
	}
	if !Is(err, http.StatusInternalServerError) {
		t.Fatal("expected 500")
	}
}

func TestPublicMessage_HidesUnknownErrors(t *testing.T) {
	if got := PublicMessage(errors.New("pq: password authentication failed")); got != "Internal Server Error" {
		t.Fatalf("leaked message %q", got)
	}
	if got := PublicMessage(TooManyRequests("slow down")); got != "slow down" {
		t.Fatalf("got %q", got)
	}
}

func TestPublicMessage_HidesServerErrorCause(t *testing.T) {
	cause := errors.New(`pq: password authentication failed for user "nodeforge" at 10.1.2.3:5432`)
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrapped 500", Wrap(http.StatusInternalServerError, cause, "get chatflow"), "get chatflow"},
		{"wrapped 502 without message", &InternalError{StatusCode: http.StatusBadGateway, Err: cause}, "Bad Gateway"},
		{"fmt wrapped 500", fmt.Errorf("outer: %w", Wrap(http.StatusInternalServerError, cause, "save")), "save"},
		{"4xx keeps detail", Wrap(http.StatusInternalServerError, NotFound("chatflow %s not found", "a"), "get chatflow"), "get chatflow: chatflow a not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicMessage(tt.err); got != tt.want {
				t.Fatalf("PublicMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
