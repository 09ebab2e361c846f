package cryptox_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aussiebroadwan/trackgate/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestHasherRoundTrip(t *testing.T) {
	t.Parallel()
	h := cryptox.NewHasher("pepper")

	tests := []struct {
		name     string
		password string
	}{
		{"simple", "password123"},
		{"symbols", "P@ssw0rd!#$%^&*()"},
		{"long", strings.Repeat("a", 100)},
		{"empty", ""},
		{"unicode", "пароль🔒密码"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash, err := h.Hash(tt.password)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$"))
			require.Len(t, strings.Split(hash, "$"), 6)

			require.NoError(t, h.Verify(tt.password, hash))
			require.ErrorIs(t, h.Verify(tt.password+"x", hash), cryptox.ErrPasswordMismatch)
		})
	}
}

func TestHasherUniqueSalts(t *testing.T) {
	t.Parallel()
	h := cryptox.NewHasher("pepper")

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NoError(t, h.Verify("same", a))
	require.NoError(t, h.Verify("same", b))
}

func TestHasherPepperMatters(t *testing.T) {
	t.Parallel()

	hash, err := cryptox.NewHasher("one").Hash("secret")
	require.NoError(t, err)
	require.ErrorIs(t, cryptox.NewHasher("two").Verify("secret", hash), cryptox.ErrPasswordMismatch)
}

func TestVerifyInvalidHashFormat(t *testing.T) {
	t.Parallel()
	h := cryptox.NewHasher("pepper")

	tests := []struct {
		name string
		hash string
	}{
		{"empty hash", ""},
		{"wrong algorithm", "$bcrypt$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
		{"missing parts", "$argon2id$v=19$m=19456"},
		{"malformed parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"invalid base64 salt", "$argon2id$v=19$m=19456,t=2,p=1$!!!invalid!!!$aGFzaA"},
		{"invalid base64 hash", "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$!!!invalid!!!"},
		{"wrong version", "$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, h.Verify("pw", tt.hash), cryptox.ErrInvalidHash)
		})
	}
}

func TestLoadOrCreatePepper(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "secrets", "pepper")

	first, err := cryptox.LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := cryptox.LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestGeneratePassword(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}

	for range 50 {
		pw, err := cryptox.GeneratePassword()
		require.NoError(t, err)
		require.Len(t, pw, 16)
		for _, c := range pw {
			require.True(t, (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'))
		}
		require.False(t, seen[pw])
		seen[pw] = true
	}
}
