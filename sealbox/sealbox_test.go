package sealbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonibytes/docsync/sealbox"
)

func TestSealOpen(t *testing.T) {
	msg := []byte("the quick brown fox")
	s, err := sealbox.Seal("hunter2", msg)
	require.NoError(t, err)
	assert.Len(t, s.Salt, sealbox.SaltSize)
	assert.Len(t, s.Nonce, 24)
	assert.NotContains(t, string(s.Ciphertext), "quick")

	out, err := sealbox.Open("hunter2", s)
	require.NoError(t, err)
	assert.Equal(t, msg, out)

	_, err = sealbox.Open("wrong", s)
	assert.ErrorIs(t, err, sealbox.ErrOpen)
}

func TestSeal_FreshSaltAndNonce(t *testing.T) {
	a, err := sealbox.Seal("p", []byte("x"))
	require.NoError(t, err)
	b, err := sealbox.Seal("p", []byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestOpen_Tampered(t *testing.T) {
	s, err := sealbox.Seal("p", []byte("payload"))
	require.NoError(t, err)
	s.Ciphertext[0] ^= 0xff
	_, err = sealbox.Open("p", s)
	assert.ErrorIs(t, err, sealbox.ErrOpen)

	s.Nonce = s.Nonce[:12]
	_, err = sealbox.Open("p", s)
	assert.Error(t, err)
}

func TestSeal_EmptyPassphrase(t *testing.T) {
	_, err := sealbox.Seal("", []byte("x"))
	assert.Error(t, err)
}
