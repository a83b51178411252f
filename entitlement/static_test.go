package entitlement_test

import (
	"context"
	"testing"

	"github.com/musicgen-ai/musicgen/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_GrantRevoke(t *testing.T) {
	s := entitlement.NewStatic()
	ctx := context.Background()

	s.Grant("u1", "musicgen.pro.monthly")
	s.Grant("u1", "musicgen.pro.monthly")
	s.Grant("u1", "musicgen.starter.monthly")

	got, err := s.ActiveProducts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"musicgen.pro.monthly", "musicgen.starter.monthly"}, got)

	// The result is a copy.
	got[0] = "tampered"
	again, err := s.ActiveProducts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "musicgen.pro.monthly", again[0])

	s.Revoke("u1", "musicgen.pro.monthly")
	got, err = s.ActiveProducts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"musicgen.starter.monthly"}, got)

	none, err := s.ActiveProducts(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
