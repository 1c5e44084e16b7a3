package signedtoken

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey      = "test-signing-key-0123456789abcdef"
	testOtherKey = "other-signing-key-fedcba987654321"
	testUID      = "u12345"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := New([]byte(testKey))

	token, err := s.Sign(map[string]any{"uid": testUID, "provider": "example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	payload, err := s.Verify(token, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testUID, payload["uid"])
	assert.Equal(t, "example.com", payload["provider"])

	// The issue timestamp is internal bookkeeping, not payload.
	_, hasIAT := payload["iat"]
	assert.False(t, hasIAT)
}

func TestVerifyZeroMaxAgeImmediately(t *testing.T) {
	// A token verified in the same instant it was signed is valid for any
	// maxAge >= 0.
	s := New([]byte(testKey))
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	token, err := s.Sign(map[string]any{"uid": testUID})
	require.NoError(t, err)

	_, err = s.Verify(token, 0)
	assert.NoError(t, err)
}

func TestVerifyExpired(t *testing.T) {
	s := New([]byte(testKey))
	issued := time.Now()
	s.now = func() time.Time { return issued }

	token, err := s.Sign(map[string]any{"uid": testUID})
	require.NoError(t, err)

	t.Run("within max age", func(t *testing.T) {
		s.now = func() time.Time { return issued.Add(29 * time.Minute) }
		_, err := s.Verify(token, 30*time.Minute)
		assert.NoError(t, err)
	})

	t.Run("past max age", func(t *testing.T) {
		s.now = func() time.Time { return issued.Add(31 * time.Minute) }
		_, err := s.Verify(token, 30*time.Minute)
		assert.ErrorIs(t, err, ErrExpired)
	})
}

func TestVerifyTamperedToken(t *testing.T) {
	s := New([]byte(testKey))
	token, err := s.Sign(map[string]any{"uid": testUID})
	require.NoError(t, err)

	t.Run("flipped payload byte", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		payload := []byte(parts[1])
		payload[0] ^= 0x01
		tampered := parts[0] + "." + string(payload) + "." + parts[2]

		_, err := s.Verify(tampered, time.Hour)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := s.Verify(token[:len(token)-5], time.Hour)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Verify("not-a-token", time.Hour)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := s.Verify("", time.Hour)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestVerifyWrongKey(t *testing.T) {
	signer := New([]byte(testKey))
	verifier := New([]byte(testOtherKey))

	token, err := signer.Sign(map[string]any{"uid": testUID})
	require.NoError(t, err)

	_, err = verifier.Verify(token, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	s := New([]byte(testKey))

	// alg=none token: {"alg":"none","typ":"JWT"} . {"uid":"u12345","iat":1} .
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1aWQiOiJ1MTIzNDUiLCJpYXQiOjF9."
	_, err := s.Verify(unsigned, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClaimTime(t *testing.T) {
	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{"float64", float64(1700000000), true},
		{"int64", int64(1700000000), true},
		{"string", "1700000000", false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := claimTime(tt.in)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
