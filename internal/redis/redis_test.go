package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("Ping() after Connect error = %v", err)
	}
}

func TestConnectPasswordOverride(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")

	if _, err := Connect(context.Background(), "redis://"+mr.Addr(), ""); err == nil {
		t.Fatal("Connect() without password against auth-required server should fail")
	}

	client, err := Connect(context.Background(), "redis://"+mr.Addr(), "hunter2")
	if err != nil {
		t.Fatalf("Connect() with password error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
}

func TestConnectInvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "not a url", ""); err == nil {
		t.Fatal("Connect() with invalid URL should fail")
	}
}

func TestConnectUnreachable(t *testing.T) {
	t.Parallel()

	// Nothing listens here; Ping must fail and Connect must surface it.
	if _, err := Connect(context.Background(), "redis://127.0.0.1:1", ""); err == nil {
		t.Fatal("Connect() against unreachable server should fail")
	}
}
