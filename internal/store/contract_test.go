package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plughub/internal/security"
	"plughub/internal/shared/testutil"
	"plughub/internal/store"
	"plughub/pkg/contracts/domain"
)

// runStoreContract exercises behaviour every Store implementation must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("KeyLookupByPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, secret := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))

		keys, err := s.GetKeysByPrefix(ctx, security.KeyPrefix(secret))
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, key.ID, keys[0].ID)
		assert.True(t, security.CompareSecret(keys[0].SecretHash, secret))

		assert.ErrorIs(t, s.CreateKey(ctx, key), store.ErrDuplicate)

		_, err = s.GetKey(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ActivateIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 2)
		require.NoError(t, s.CreateKey(ctx, key))

		first, err := s.Activate(ctx, key, "example.com", newToken(t), time.Now())
		require.NoError(t, err)
		require.NotNil(t, first.Activation)
		assert.False(t, first.AlreadyActive)

		second, err := s.Activate(ctx, key, "example.com", newToken(t), time.Now())
		require.NoError(t, err)
		assert.True(t, second.AlreadyActive)
		assert.Equal(t, first.Activation.Token, second.Activation.Token)

		n, err := s.CountActiveActivations(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ActivationLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 2)
		require.NoError(t, s.CreateKey(ctx, key))

		a, err := s.Activate(ctx, key, "a.com", newToken(t), time.Now())
		require.NoError(t, err)
		_, err = s.Activate(ctx, key, "b.com", newToken(t), time.Now())
		require.NoError(t, err)

		full, err := s.Activate(ctx, key, "c.com", newToken(t), time.Now())
		require.NoError(t, err)
		assert.True(t, full.LimitReached)
		assert.Nil(t, full.Activation)
		assert.Equal(t, []string{"a.com", "b.com"}, full.ActiveDomains)

		deleted, err := s.DeleteActivation(ctx, a.Activation.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		freed, err := s.Activate(ctx, key, "c.com", newToken(t), time.Now())
		require.NoError(t, err)
		assert.False(t, freed.LimitReached)
		require.NotNil(t, freed.Activation)
	})

	t.Run("UnlimitedKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))

		for i := range 5 {
			out, err := s.Activate(ctx, key, fmt.Sprintf("site-%d.com", i), newToken(t), time.Now())
			require.NoError(t, err)
			assert.False(t, out.LimitReached)
		}
		n, err := s.CountActiveActivations(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("ConcurrentActivateSameDomain", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))

		const workers = 16
		tokens := make([]string, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := s.Activate(ctx, key, "race.com", newToken(t), time.Now())
				if assert.NoError(t, err) && assert.NotNil(t, out.Activation) {
					tokens[i] = out.Activation.Token
				}
			}(i)
		}
		wg.Wait()

		for _, tok := range tokens[1:] {
			assert.Equal(t, tokens[0], tok)
		}
		list, err := s.ListActivations(ctx, key.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("ConcurrentActivateRespectsLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 3)
		require.NoError(t, s.CreateKey(ctx, key))

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Activate(ctx, key, fmt.Sprintf("site-%d.com", i), newToken(t), time.Now())
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		n, err := s.CountActiveActivations(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("TouchActivationIsMonotonic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))
		out, err := s.Activate(ctx, key, "example.com", newToken(t), time.Now())
		require.NoError(t, err)

		later := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
		require.NoError(t, s.TouchActivation(ctx, out.Activation.ID, later))
		require.NoError(t, s.TouchActivation(ctx, out.Activation.ID, later.Add(-30*time.Minute)))

		got, err := s.GetActivationByToken(ctx, out.Activation.Token)
		require.NoError(t, err)
		require.NotNil(t, got.LastVerifiedAt)
		assert.True(t, later.Equal(*got.LastVerifiedAt))

		assert.ErrorIs(t, s.TouchActivation(ctx, uuid.New(), later), store.ErrNotFound)
	})

	t.Run("RevokeDeletesActivations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))
		out, err := s.Activate(ctx, key, "example.com", newToken(t), time.Now())
		require.NoError(t, err)

		updated, err := s.UpdateKeyStatus(ctx, key.ID, domain.KeyStatusRevoked)
		require.NoError(t, err)
		assert.Equal(t, domain.KeyStatusRevoked, updated.Status)

		_, err = s.GetActivationByToken(ctx, out.Activation.Token)
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.UpdateKeyStatus(ctx, key.ID, domain.KeyStatusActive)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("DeactivatedKeyKeepsActivations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))
		_, err := s.Activate(ctx, key, "example.com", newToken(t), time.Now())
		require.NoError(t, err)

		_, err = s.UpdateKeyStatus(ctx, key.ID, domain.KeyStatusInactive)
		require.NoError(t, err)
		n, err := s.CountActiveActivations(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("PluginResolution", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p := testutil.NewPlugin("acme-pro")
		p.SlugOverride = "acme-premium"
		require.NoError(t, s.CreatePlugin(ctx, p))
		require.NoError(t, s.CreatePlugin(ctx, testutil.NewPlugin("other")))

		byOverride, err := s.GetPluginBySlug(ctx, "acme-premium")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byOverride.ID)

		byCanonical, err := s.GetPluginBySlug(ctx, "acme-pro")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byCanonical.ID)

		_, err = s.GetPluginBySlug(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		assert.ErrorIs(t, s.CreatePlugin(ctx, testutil.NewPlugin("acme-pro")), store.ErrDuplicate)

		all, err := s.ListPlugins(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("Blacklist", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key, _ := testutil.NewKey(t, domain.AccessAll, 0)
		require.NoError(t, s.CreateKey(ctx, key))
		out, err := s.Activate(ctx, key, "example.com", newToken(t), time.Now())
		require.NoError(t, err)

		entry := &domain.BlacklistEntry{
			ID:           uuid.New(),
			ActivationID: out.Activation.ID,
			PluginSlug:   "acme-pro",
			Reason:       "chargeback",
			CreatedAt:    time.Now().UTC(),
		}
		require.NoError(t, s.AddBlacklistEntry(ctx, entry))

		entries, err := s.ListBlacklist(ctx, out.Activation.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Matches("acme-pro"))
		assert.False(t, entries[0].Matches("other"))

		orphan := &domain.BlacklistEntry{ID: uuid.New(), ActivationID: uuid.New(), CreatedAt: time.Now()}
		assert.ErrorIs(t, s.AddBlacklistEntry(ctx, orphan), store.ErrNotFound)

		require.NoError(t, s.DeleteBlacklistEntry(ctx, entry.ID))
		assert.ErrorIs(t, s.DeleteBlacklistEntry(ctx, entry.ID), store.ErrNotFound)
	})
}

func newToken(t *testing.T) string {
	t.Helper()
	tok, err := security.GenerateActivationToken()
	require.NoError(t, err)
	return tok
}
