package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
)

func mustProduct(t *testing.T, name, brand, category string, price float64, stock int) domain.Product {
	t.Helper()
	p, err := domain.NewProduct(0, name, brand, category, "42", "Negro", price, stock, "")
	require.NoError(t, err)
	return p
}

func TestCatalog_SaveAssignsIDsAndQueries(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()

	a, err := c.Save(ctx, mustProduct(t, "Pegasus 40", "Nike", "Running", 120, 8))
	require.NoError(t, err)
	b, err := c.Save(ctx, mustProduct(t, "Chuck 70", "Converse", "Casual", 75, 15))
	require.NoError(t, err)
	require.Equal(t, int64(1), a.ID)
	require.Equal(t, int64(2), b.ID)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := c.GetByID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "Chuck 70", got.Name)

	_, err = c.GetByID(ctx, 42)
	require.ErrorIs(t, err, domain.ErrNotFound)

	byBrand, err := c.GetByBrand(ctx, "Nike")
	require.NoError(t, err)
	require.Len(t, byBrand, 1)

	byCat, err := c.GetByCategory(ctx, "Casual")
	require.NoError(t, err)
	require.Len(t, byCat, 1)
	require.Equal(t, "Chuck 70", byCat[0].Name)

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), all[0].ID)
	require.Equal(t, int64(2), all[1].ID)
}

func TestCatalog_SaveUpdatesAndRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()
	p, err := c.Save(ctx, mustProduct(t, "Old Skool", "Vans", "Casual", 70, 20))
	require.NoError(t, err)

	require.NoError(t, p.ReduceStock(5))
	_, err = c.Save(ctx, p)
	require.NoError(t, err)
	got, err := c.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 15, got.Stock)

	_, err = c.Save(ctx, domain.Product{Name: "bad", Price: 0})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func msg(t *testing.T, session string, role domain.Role, text string) domain.Message {
	t.Helper()
	m, err := domain.NewMessage(session, role, text, time.Now().UTC())
	require.NoError(t, err)
	return m
}

func TestConversations_AppendRecentHistoryPurge(t *testing.T) {
	ctx := context.Background()
	c := NewConversations()

	for i := 1; i <= 8; i++ {
		stored, err := c.Append(ctx, msg(t, "s1", domain.RoleUser, fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		require.NotEmpty(t, stored.ID)
	}
	_, err := c.Append(ctx, msg(t, "s2", domain.RoleUser, "other"))
	require.NoError(t, err)

	recent, err := c.Recent(ctx, "s1", 6)
	require.NoError(t, err)
	require.Len(t, recent, 6)
	require.Equal(t, "m3", recent[0].Text)
	require.Equal(t, "m8", recent[5].Text)

	all, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 8)

	empty, err := c.Recent(ctx, "missing", 6)
	require.NoError(t, err)
	require.Empty(t, empty)

	n, err := c.Purge(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 8, n)
	n, err = c.Purge(ctx, "s1")
	require.NoError(t, err)
	require.Zero(t, n)

	left, err := c.History(ctx, "s2", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestConversations_AppendRejectsInvalid(t *testing.T) {
	_, err := NewConversations().Append(context.Background(), domain.Message{SessionID: "s1", Role: "system", Text: "x"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestConversations_AppendTurnIsAtomic(t *testing.T) {
	ctx := context.Background()
	c := NewConversations()

	u, a, err := c.AppendTurn(ctx, msg(t, "s1", domain.RoleUser, "hi"), msg(t, "s1", domain.RoleAssistant, "hello"))
	require.NoError(t, err)
	require.NotEqual(t, u.ID, a.ID)

	_, _, err = c.AppendTurn(ctx, msg(t, "s1", domain.RoleUser, "again"), domain.Message{SessionID: "s1", Role: domain.RoleAssistant})
	require.Error(t, err)

	all, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestConversations_ConcurrentTurnsStayPaired(t *testing.T) {
	ctx := context.Background()
	c := NewConversations()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		q := msg(t, "s1", domain.RoleUser, fmt.Sprintf("q%d", i))
		a := msg(t, "s1", domain.RoleAssistant, fmt.Sprintf("a%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.AppendTurn(ctx, q, a)
		}()
	}
	wg.Wait()

	all, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 40)
	for i := 0; i < len(all); i += 2 {
		require.Equal(t, domain.RoleUser, all[i].Role)
		require.Equal(t, "a"+all[i].Text[1:], all[i+1].Text)
	}
}
