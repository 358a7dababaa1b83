package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"testing"

	"github.com/brojonat/swapper/service/swaperr"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Base58RoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		pk, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)

		text := base58.Encode(pk)
		key, err := Decode(text)
		require.NoError(t, err, "decode %s", text)

		assert.Equal(t, pk.PublicKey(), key.Address)
		assert.Equal(t, text, EncodeBase58(key))
	}
}

func TestDecode_Base64RoundTrip(t *testing.T) {
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	text := base64.StdEncoding.EncodeToString(pk)
	key, err := Decode("  " + text + "\n")
	require.NoError(t, err)

	assert.Equal(t, pk.PublicKey(), key.Address)
	assert.Equal(t, text, EncodeBase64(key))
}

func TestDecode_Rejects(t *testing.T) {
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	tampered := make([]byte, len(pk))
	copy(tampered, pk)
	tampered[40] ^= 0xff

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"base64 of 32 bytes", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))},
		{"base58 of 32 bytes", base58.Encode(bytes.Repeat([]byte{9}, 32))},
		{"invalid characters", "0OIl-not-a-key"},
		{"public half does not match seed", base58.Encode(tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, swaperr.ErrInvalidKeyFormat)
		})
	}
}

func TestLooksLikeBase64(t *testing.T) {
	assert.True(t, LooksLikeBase64("AAAA"))
	assert.True(t, LooksLikeBase64("ab+/cd=="))
	assert.False(t, LooksLikeBase64("abc"))
	assert.False(t, LooksLikeBase64("ab-_cd=="))
}

func TestFromBytes_CopiesInput(t *testing.T) {
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	raw := make([]byte, len(pk))
	copy(raw, pk)

	key, err := FromBytes(raw)
	require.NoError(t, err)

	for i := range raw {
		raw[i] = 0
	}

	msg := []byte("payload")
	sig, err := key.Sign(msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(key.Address[:]), msg, sig[:]))
}

func TestWalletKey_DoesNotLeakSecret(t *testing.T) {
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	key, err := FromBytes(pk)
	require.NoError(t, err)

	secret58 := base58.Encode(pk)
	var logBuf bytes.Buffer
	slog.New(slog.NewJSONHandler(&logBuf, nil)).Info("loaded", "wallet", key)

	for _, rendered := range []string{
		fmt.Sprintf("%v", key),
		fmt.Sprintf("%+v", key),
		fmt.Sprintf("%#v", key),
		fmt.Sprint(key),
		logBuf.String(),
	} {
		assert.NotContains(t, rendered, secret58)
		assert.Contains(t, rendered, key.Address.String())
	}
}

func TestWalletKey_ZeroValue(t *testing.T) {
	var key WalletKey
	assert.True(t, key.IsZero())

	_, err := key.Sign([]byte("x"))
	assert.ErrorIs(t, err, swaperr.ErrInvalidKeyFormat)
}
