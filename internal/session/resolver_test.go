package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abeely/appcore/pkg/testutil"
)

func newTestResolver(backend *testutil.MockBackend) *Resolver {
	r := NewResolver(backend, nil)
	r.RetryDelay = time.Millisecond
	return r
}

func TestResolveReturnsSession(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.Session = testutil.Session("u1")
	r := newTestResolver(backend)

	sess, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sess == nil || sess.UserID != "u1" {
		t.Errorf("session = %+v, want u1", sess)
	}
	if n := backend.Calls("GetSession"); n != 1 {
		t.Errorf("GetSession calls = %d, want 1", n)
	}
}

func TestResolveNoSessionIsNotAnError(t *testing.T) {
	backend := testutil.NewMockBackend()
	r := newTestResolver(backend)

	sess, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sess != nil {
		t.Errorf("session = %+v, want nil", sess)
	}
}

func TestResolveRetriesOnceOnNetworkError(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.SessionErr = testutil.NetworkError()
	r := newTestResolver(backend)

	_, err := r.Resolve(context.Background())
	if err == nil {
		t.Fatal("Resolve() error = nil, want advisory error")
	}
	if n := backend.Calls("GetSession"); n != 2 {
		t.Errorf("GetSession calls = %d, want 2 (one retry)", n)
	}
}

func TestResolveDoesNotRetryOtherErrors(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.SessionErr = errors.New("invalid api key")
	r := newTestResolver(backend)

	_, err := r.Resolve(context.Background())
	if err == nil {
		t.Fatal("Resolve() error = nil, want error")
	}
	if n := backend.Calls("GetSession"); n != 1 {
		t.Errorf("GetSession calls = %d, want 1 (no retry)", n)
	}
}

func TestResolveHonorsContextDuringRetryWait(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.SessionErr = testutil.NetworkError()
	r := NewResolver(backend, nil)
	r.RetryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Resolve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}
