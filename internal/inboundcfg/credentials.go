package inboundcfg

import (
	"crypto/md5" //nolint:gosec // legacy trojan token shape, not used for integrity
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"

	"kurut-provisioner/internal/panel"
)

type TrojanTokenMode string

const (
	// TrojanTokenLegacy issues the historical 15 character token cut from an
	// md5 of the current time.
	TrojanTokenLegacy TrojanTokenMode = "legacy"
	// TrojanTokenRandom issues a token of the same shape from crypto/rand.
	TrojanTokenRandom TrojanTokenMode = "random"

	trojanTokenLength = 15
)

func (m TrojanTokenMode) Valid() bool {
	return m == TrojanTokenLegacy || m == TrojanTokenRandom
}

// Credentials generates client credentials and the random ids that go with
// them.
type Credentials struct {
	mode TrojanTokenMode
	now  func() time.Time
	seq  atomic.Uint64
}

func NewCredentials(mode TrojanTokenMode) *Credentials {
	if !mode.Valid() {
		mode = TrojanTokenLegacy
	}
	return &Credentials{mode: mode, now: time.Now}
}

// New returns a fresh credential for p: a UUID for vless and vmess, a token
// for trojan.
func (c *Credentials) New(p panel.Protocol) string {
	if p == panel.ProtocolTrojan {
		return c.trojanToken()
	}
	return uuid.NewString()
}

func (c *Credentials) trojanToken() string {
	if c.mode == TrojanTokenRandom {
		return RandomHex(trojanTokenLength)
	}
	// The sequence number keeps tokens distinct inside one batch, where the
	// clock alone can repeat.
	seed := fmt.Sprintf("%d.%d", c.now().UnixNano(), c.seq.Add(1))
	sum := md5.Sum([]byte(seed)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:trojanTokenLength]
}

const seqAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSeq returns n characters of lowercase letters and digits.
func RandomSeq(n int) string {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(seqAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		out[i] = seqAlphabet[idx.Int64()]
	}
	return string(out)
}

// RandomHex returns n lowercase hex characters.
func RandomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}

func NewShortID() string {
	return RandomHex(ShortIDLength)
}

func NewSubID() string {
	return RandomSeq(SubIDLength)
}

// LocalKeyPair generates an X25519 keypair in the encoding xray prints.
func LocalKeyPair() (*panel.KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &panel.KeyPair{
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv),
		PublicKey:  base64.RawURLEncoding.EncodeToString(pub),
	}, nil
}
