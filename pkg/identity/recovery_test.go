package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietmind/anonid/pkg/fingerprint"
	"github.com/quietmind/anonid/pkg/identity"
)

func TestService_IssueRecoveryTokens(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	svc := newService(t, clk)

	user, _, err := svc.CreateAccount(ctx, deviceA(), nil)
	require.NoError(t, err)

	t.Run("returns plaintext once", func(t *testing.T) {
		tokens, err := svc.IssueRecoveryTokens(ctx, user.ID, 5)
		require.NoError(t, err)
		require.Len(t, tokens, 5)

		export, err := svc.ExportUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, export.RecoveryTokens.Issued)
		assert.Equal(t, 0, export.RecoveryTokens.Consumed)
	})

	t.Run("batch size is clamped to the maximum", func(t *testing.T) {
		tokens, err := svc.IssueRecoveryTokens(ctx, user.ID, 50)
		require.NoError(t, err)
		assert.Len(t, tokens, identity.DefaultConfig().MaxRecoveryTokens)
	})

	t.Run("new batch replaces the old one", func(t *testing.T) {
		first, err := svc.IssueRecoveryTokens(ctx, user.ID, 2)
		require.NoError(t, err)
		_, err = svc.IssueRecoveryTokens(ctx, user.ID, 2)
		require.NoError(t, err)

		_, _, err = svc.RedeemRecoveryToken(ctx, first[0], deviceB())
		assert.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.IssueRecoveryTokens(ctx, uuid.New(), 3)
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func TestService_RedeemRecoveryToken(t *testing.T) {
	ctx := context.Background()

	t.Run("rebinds to the new device and is single-use", func(t *testing.T) {
		clk := newFakeClock()
		svc := newService(t, clk)

		created, _, err := svc.CreateAccount(ctx, deviceA(), nil)
		require.NoError(t, err)

		tokens, err := svc.IssueRecoveryTokens(ctx, created.ID, 5)
		require.NoError(t, err)

		user, sess, err := svc.RedeemRecoveryToken(ctx, tokens[0], deviceB())
		require.NoError(t, err)
		assert.Equal(t, created.ID, user.ID)
		assert.Equal(t, fingerprint.Generate(deviceB()), user.Fingerprint)
		assert.True(t, sess.Active)
		assert.Equal(t, user.Fingerprint, sess.Fingerprint)

		// The account now authenticates from the new device only.
		_, _, err = svc.AuthenticateWithDevice(ctx, deviceB())
		require.NoError(t, err)
		_, _, err = svc.AuthenticateWithDevice(ctx, deviceA())
		assert.ErrorIs(t, err, identity.ErrNotFound)

		// Replay yields success then Invalid, never two successes.
		_, _, err = svc.RedeemRecoveryToken(ctx, tokens[0], deviceB())
		assert.ErrorIs(t, err, identity.ErrInvalidToken)

		// Other tokens of the batch are still redeemable.
		_, _, err = svc.RedeemRecoveryToken(ctx, tokens[1], deviceB())
		assert.NoError(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		clk := newFakeClock()
		svc := newService(t, clk)

		created, _, err := svc.CreateAccount(ctx, deviceA(), nil)
		require.NoError(t, err)

		tokens, err := svc.IssueRecoveryTokens(ctx, created.ID, 1)
		require.NoError(t, err)

		clk.Advance(identity.DefaultConfig().RecoveryTokenValidity + time.Hour)

		_, _, err = svc.RedeemRecoveryToken(ctx, tokens[0], deviceB())
		assert.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		clk := newFakeClock()
		svc := newService(t, clk)

		_, _, err := svc.RedeemRecoveryToken(ctx, "definitely-not-issued", deviceB())
		assert.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("cannot rebind onto another user's device", func(t *testing.T) {
		clk := newFakeClock()
		svc := newService(t, clk)

		created, _, err := svc.CreateAccount(ctx, deviceA(), nil)
		require.NoError(t, err)
		other, _, err := svc.CreateAccount(ctx, deviceB(), nil)
		require.NoError(t, err)

		tokens, err := svc.IssueRecoveryTokens(ctx, created.ID, 1)
		require.NoError(t, err)

		_, _, err = svc.RedeemRecoveryToken(ctx, tokens[0], deviceB())
		assert.ErrorIs(t, err, identity.ErrInvalidToken)

		// Both accounts keep their devices.
		user, _, err := svc.AuthenticateWithDevice(ctx, deviceB())
		require.NoError(t, err)
		assert.Equal(t, other.ID, user.ID)
		user, _, err = svc.AuthenticateWithDevice(ctx, deviceA())
		require.NoError(t, err)
		assert.Equal(t, created.ID, user.ID)

		// The token survives the failed attempt.
		_, _, err = svc.RedeemRecoveryToken(ctx, tokens[0], deviceA())
		assert.NoError(t, err)
	})

	t.Run("all failure causes are indistinguishable", func(t *testing.T) {
		clk := newFakeClock()
		svc := newService(t, clk)

		created, _, err := svc.CreateAccount(ctx, deviceA(), nil)
		require.NoError(t, err)
		tokens, err := svc.IssueRecoveryTokens(ctx, created.ID, 2)
		require.NoError(t, err)

		_, _, err = svc.RedeemRecoveryToken(ctx, tokens[0], deviceB())
		require.NoError(t, err)

		_, _, replay := svc.RedeemRecoveryToken(ctx, tokens[0], deviceB())
		_, _, unknown := svc.RedeemRecoveryToken(ctx, "never-issued", deviceB())

		assert.Equal(t, replay, unknown, "consumed and unknown tokens return the same error")
		assert.ErrorIs(t, replay, identity.ErrInvalidToken)
	})
}
