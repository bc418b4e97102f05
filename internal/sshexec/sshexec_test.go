package sshexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialRequiresUser(t *testing.T) {
	_, err := Dial(context.Background(), "web1", Config{Password: "pw"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh user is not configured")
}

func TestDialRequiresAuth(t *testing.T) {
	_, err := Dial(context.Background(), "web1", Config{User: "deploy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ssh auth configured")
}

func TestDialMissingIdentityFile(t *testing.T) {
	_, err := Dial(context.Background(), "web1", Config{
		User:         "deploy",
		IdentityFile: "/nonexistent/id_ed25519",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read identity file")
}

func TestDialUnreachableHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, "web1", Config{
		Host:                  "127.0.0.1",
		Port:                  1, // nothing listens here
		User:                  "deploy",
		Password:              "pw",
		InsecureIgnoreHostKey: true,
		Timeout:               100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/opt/shop/web'", shellQuote("/opt/shop/web"))
	assert.Equal(t, `'a'\''b'`, shellQuote("a'b"))
	assert.Equal(t, "''", shellQuote(""))
}
