package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"data format", DataFormat("bad selector"), http.StatusBadRequest},
		{"permission", Permission("denied"), http.StatusForbidden},
		{"not found", NotFound("missing ids", "x"), http.StatusNotFound},
		{"operation", Operation("field cannot be changed"), http.StatusForbidden},
		{"conflict", Conflict("ids already exist", "x"), http.StatusConflict},
		{"server", Server(errors.New("boom"), "internal"), http.StatusInternalServerError},
		{"untyped", errors.New("raw"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("%s: Status = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestNotFoundListsIDs(t *testing.T) {
	err := NotFound("documents not found", "a", "missing-id")
	if !strings.Contains(err.Error(), "missing-id") {
		t.Errorf("error %q does not name the missing id", err.Error())
	}
	if !strings.Contains(Public(err), "missing-id") {
		t.Errorf("public message %q does not name the missing id", Public(err))
	}
}

func TestNormalizePassesTypedThrough(t *testing.T) {
	orig := Permission("denied")
	got := Normalize("orgs.find", orig)
	if got != orig {
		t.Errorf("Normalize rewrote a typed error: %v", got)
	}
}

func TestNormalizeWrapsRawErrors(t *testing.T) {
	raw := fmt.Errorf("pq: connection refused")
	got := Normalize("orgs.find", raw)
	if !IsKind(got, KindServer) {
		t.Fatalf("Normalize(%v) kind = %v, want server", raw, got)
	}
	if Public(got) != "Internal server error" {
		t.Errorf("Public leaked detail: %q", Public(got))
	}
	if !errors.Is(got, raw) {
		t.Error("normalized error does not wrap the original cause")
	}
}

func TestNormalizeNil(t *testing.T) {
	if err := Normalize("orgs.find", nil); err != nil {
		t.Errorf("Normalize(nil) = %v, want nil", err)
	}
}
