package errors_test

import (
	"testing"

	pkgerrors "github.com/pkg/errors"

	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
)

func TestIsClientError(t *testing.T) {
	base := pkgerrors.New("bad input")

	if !kerrors.IsClientError(kerrors.NewClientError(base)) {
		t.Fatal("expected client error")
	}
	if !kerrors.IsClientError(kerrors.NewClientErrorf("bad %s", "input")) {
		t.Fatal("expected client error")
	}
	if kerrors.IsClientError(base) {
		t.Fatal("unclassified error should not be a client error")
	}
	if kerrors.IsClientError(nil) {
		t.Fatal("nil should not be a client error")
	}
	if kerrors.IsClientError(kerrors.NewAuthorizationError(base)) {
		t.Fatal("authorization error should not be a client error")
	}

	// Classification survives wrapping.
	wrapped := pkgerrors.Wrap(kerrors.NewClientError(base), "while parsing")
	if !kerrors.IsClientError(wrapped) {
		t.Fatal("expected wrapped client error")
	}
}

func TestIsAuthorizationError(t *testing.T) {
	base := pkgerrors.New("denied")

	if !kerrors.IsAuthorizationError(kerrors.NewAuthorizationError(base)) {
		t.Fatal("expected authorization error")
	}
	if !kerrors.IsAuthorizationError(kerrors.NewAuthorizationErrorf("denied %q", "root")) {
		t.Fatal("expected authorization error")
	}
	if kerrors.IsAuthorizationError(kerrors.NewClientError(base)) {
		t.Fatal("client error should not be an authorization error")
	}
	if kerrors.IsAuthorizationError(nil) {
		t.Fatal("nil should not be an authorization error")
	}
}

func TestNewClientError_Nil(t *testing.T) {
	if kerrors.NewClientError(nil) != nil {
		t.Fatal("expected nil")
	}
	if kerrors.NewAuthorizationError(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestClientError_Message(t *testing.T) {
	err := kerrors.NewClientErrorf("series not found: %q", "cpu")
	if got := err.Error(); got != `series not found: "cpu"` {
		t.Fatalf("unexpected message: %q", got)
	}
}
