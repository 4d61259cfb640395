package auth

import (
	"context"
	"testing"
)

func TestContext_Identity(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Error("FromContext() on empty context should return nil")
	}

	id := &Identity{UserID: "u1"}
	ctx = WithContext(ctx, id)
	if got := FromContext(ctx); got != id {
		t.Errorf("FromContext() = %v, want %v", got, id)
	}
}

func TestContext_Session(t *testing.T) {
	ctx := context.Background()
	if SessionFromContext(ctx) != nil {
		t.Error("SessionFromContext() on empty context should return nil")
	}

	s := NewSession(State{Token: "t"})
	ctx = WithSession(ctx, s)
	if got := SessionFromContext(ctx); got != s {
		t.Error("SessionFromContext() should return the stored session")
	}
}
