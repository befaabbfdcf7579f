package panel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		secrets []string
		want    string
	}{
		{name: "replaces every occurrence", input: "pw=hunter2 again hunter2", secrets: []string{"hunter2"}, want: "pw=*** again ***"},
		{name: "empty secret ignored", input: "nothing here", secrets: []string{""}, want: "nothing here"},
		{name: "multiple secrets", input: "a:b", secrets: []string{"a", "b"}, want: "***:***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Redact(tt.input, tt.secrets...))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("add client: %w", &AuthError{Server: "s", Reason: "r", Rejected: true})
	require.True(t, IsAuth(wrapped))
	require.False(t, IsNetwork(wrapped))

	net := fmt.Errorf("x: %w", &NetworkError{Server: "s", Op: "list", Err: fmt.Errorf("timeout")})
	require.True(t, IsNetwork(net))

	nf := &NotFoundError{Server: "s", Kind: "inbound", Key: "id=3"}
	require.True(t, IsNotFound(nf))
	require.Equal(t, "panel s: inbound id=3 not found", nf.Error())
}

func TestServerStringHidesCredentials(t *testing.T) {
	srv := Server{Name: "de-1", BaseURL: "https://panel.example:2053", Username: "admin", Password: "topsecret"}
	require.NotContains(t, srv.String(), "topsecret")
	require.NotContains(t, srv.String(), "admin")
	require.Equal(t, "panel.example", srv.LinkHost())

	srv.PublicHost = "edge.example"
	require.Equal(t, "edge.example", srv.LinkHost())
}
