package inboundcfg

import (
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"kurut-provisioner/internal/panel"
)

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

func TestCredentialShapes(t *testing.T) {
	for _, mode := range []TrojanTokenMode{TrojanTokenLegacy, TrojanTokenRandom} {
		t.Run(string(mode), func(t *testing.T) {
			c := NewCredentials(mode)

			seen := make(map[string]struct{})
			for i := 0; i < 200; i++ {
				tok := c.New(panel.ProtocolTrojan)
				require.Len(t, tok, 15)
				require.Regexp(t, hexRe, tok)
				_, dup := seen[tok]
				require.False(t, dup, "duplicate token %s", tok)
				seen[tok] = struct{}{}
			}

			id := c.New(panel.ProtocolVLESS)
			parsed, err := uuid.Parse(id)
			require.NoError(t, err)
			require.Equal(t, uuid.Version(4), parsed.Version())
		})
	}
}

func TestUnknownTokenModeFallsBackToLegacy(t *testing.T) {
	require.Equal(t, TrojanTokenLegacy, NewCredentials("bogus").mode)
}

func TestRandomIDs(t *testing.T) {
	require.Len(t, NewShortID(), 8)
	require.Regexp(t, hexRe, NewShortID())
	require.Len(t, NewSubID(), 16)
	require.Regexp(t, `^[a-z0-9]{16}$`, NewSubID())
	require.NotEqual(t, NewSubID(), NewSubID())
}

func TestLocalKeyPair(t *testing.T) {
	kp, err := LocalKeyPair()
	require.NoError(t, err)

	priv, err := base64.RawURLEncoding.DecodeString(kp.PrivateKey)
	require.NoError(t, err)
	pub, err := base64.RawURLEncoding.DecodeString(kp.PublicKey)
	require.NoError(t, err)

	derived, err := curve25519.X25519(priv, curve25519.Basepoint)
	require.NoError(t, err)
	require.Equal(t, pub, derived)
}
