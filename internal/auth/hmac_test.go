package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHMACVerify(t *testing.T) {
	secret := "super-secret"
	body := []byte(`{"projectId":"demo-project"}`)

	sig := ComputeSignature(secret, body)
	require.True(t, VerifySignature(secret, body, sig))
	require.False(t, VerifySignature(secret, body, "deadbeef"))
	require.False(t, VerifySignature(secret, body, "not-hex"))
	require.False(t, VerifySignature("other", body, sig))
}

func TestVerifyAcceptsPrefixedSignature(t *testing.T) {
	body := []byte(`{"errors":[]}`)
	sig := ComputeSignature("s", body)
	require.True(t, VerifySignature("s", body, "sha256="+sig))
	require.False(t, VerifySignature("s", body, ""))
}

func TestRequireSignature(t *testing.T) {
	body := []byte(`{}`)
	require.True(t, RequireSignature("", body, ""))
	require.False(t, RequireSignature("s", body, ""))
	require.True(t, RequireSignature("s", body, ComputeSignature("s", body)))
}
