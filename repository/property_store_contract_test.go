package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"csmbot/domain/entities"
	"csmbot/domain/interfaces"
	"csmbot/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runPropertyStoreContract exercises the behavior every PropertyStore backend must share.
// newStore must return an empty store.
func runPropertyStoreContract(t *testing.T, newStore func(t *testing.T) interfaces.PropertyStore) {
	t.Run("empty store loads nothing", func(t *testing.T) {
		store := newStore(t)

		got, err := store.LoadAll(context.Background())

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("add then load round trips in insertion order", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		want := []*entities.GuildProperty{
			testutil.CreateTestProperty(300),
			testutil.CreateTestPropertyWithResources(100, 1, 2, 3),
			testutil.CreateTestProperty(200),
		}
		for _, p := range want {
			require.NoError(t, store.Add(ctx, p))
		}

		got, err := store.LoadAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("duplicate add fails and leaves the store unchanged", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		original := testutil.CreateTestProperty(42)
		require.NoError(t, store.Add(ctx, original))

		dup := entities.NewGuildProperty(42, "Impostor", 1)
		err := store.Add(ctx, dup)

		assert.ErrorIs(t, err, entities.ErrDuplicateKey)
		got, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []*entities.GuildProperty{original}, got)
	})

	t.Run("invalid record is refused", func(t *testing.T) {
		store := newStore(t)

		err := store.Add(context.Background(), entities.NewGuildProperty(42, "", 1))

		assert.ErrorIs(t, err, entities.ErrValidation)
	})

	t.Run("update one replaces the matching record", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Add(ctx, testutil.CreateTestProperty(1)))
		require.NoError(t, store.Add(ctx, testutil.CreateTestProperty(2)))

		update := testutil.CreateTestPropertyWithResources(2, 10, 20, 30)
		update.BotName = "Renamed"
		require.NoError(t, store.UpdateOne(ctx, update))

		got, err := store.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, testutil.CreateTestProperty(1), got[0])
		assert.Equal(t, update, got[1])
	})

	t.Run("update one of an unknown guild fails", func(t *testing.T) {
		store := newStore(t)

		err := store.UpdateOne(context.Background(), testutil.CreateTestProperty(404))

		assert.ErrorIs(t, err, entities.ErrNotFound)
	})

	t.Run("update many merges by key and rejects unknown guilds", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		untouched := testutil.CreateTestPropertyWithResources(1, 11, 12, 13)
		require.NoError(t, store.Add(ctx, untouched))
		require.NoError(t, store.Add(ctx, testutil.CreateTestProperty(2)))
		require.NoError(t, store.Add(ctx, testutil.CreateTestProperty(3)))

		changed := testutil.CreateTestPropertyWithResources(3, 31, 32, 33)
		report, err := store.UpdateMany(ctx, []*entities.GuildProperty{
			changed,
			testutil.CreateTestPropertyWithResources(999, 1, 2, 3),
		})

		require.NoError(t, err)
		assert.Equal(t, []int64{3}, report.Updated)
		assert.Equal(t, []int64{999}, report.Rejected)

		got, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []*entities.GuildProperty{
			untouched,
			testutil.CreateTestProperty(2),
			changed,
		}, got)
	})

	t.Run("update never clears a stored id", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Add(ctx, testutil.CreateTestPropertyWithResources(5, 51, 52, 53)))

		_, err := store.UpdateMany(ctx, []*entities.GuildProperty{testutil.CreateTestProperty(5)})
		require.NoError(t, err)

		got, err := store.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, testutil.CreateTestPropertyWithResources(5, 51, 52, 53), got[0])
	})

	t.Run("update many with only unknown guilds writes nothing", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Add(ctx, testutil.CreateTestProperty(1)))

		report, err := store.UpdateMany(ctx, []*entities.GuildProperty{testutil.CreateTestProperty(2)})

		require.NoError(t, err)
		assert.Empty(t, report.Updated)
		assert.Equal(t, []int64{2}, report.Rejected)
		got, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("concurrent adds and updates lose nothing", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.Add(ctx, testutil.CreateTestProperty(1)))

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers*2)
		for i := 0; i < writers; i++ {
			wg.Add(2)
			go func(id int64) {
				defer wg.Done()
				errs <- store.Add(ctx, testutil.CreateTestProperty(100+id))
			}(int64(i))
			go func(id int64) {
				defer wg.Done()
				p := testutil.CreateTestProperty(1)
				p.BotName = fmt.Sprintf("writer %d", id)
				_, err := store.UpdateMany(ctx, []*entities.GuildProperty{p})
				errs <- err
			}(int64(i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, got, writers+1)
		seen := make(map[int64]bool)
		for _, p := range got {
			assert.False(t, seen[p.GuildID], "guild %d stored twice", p.GuildID)
			seen[p.GuildID] = true
		}
	})
}
