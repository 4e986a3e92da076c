package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/metrics"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "nested", "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSchema(context.Background(), db))
	return db
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, InitSchema(context.Background(), db))
}

func TestNew_NilDB(t *testing.T) {
	_, err := NewCatalog(nil)
	require.Error(t, err)
	_, err = NewConversations(nil)
	require.Error(t, err)
}

func TestCatalog_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := NewCatalog(openTestDB(t))
	require.NoError(t, err)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	p, err := domain.NewProduct(0, "Pegasus 40", "Nike", "Running", "42", "Negro", 120, 8, "Daily trainer")
	require.NoError(t, err)
	saved, err := c.Save(ctx, p)
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	q, err := domain.NewProduct(0, "Chuck 70", "Converse", "Casual", "42", "Negro", 75, 15, "")
	require.NoError(t, err)
	_, err = c.Save(ctx, q)
	require.NoError(t, err)

	got, err := c.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, saved, got)

	_, err = c.GetByID(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Pegasus 40", all[0].Name)

	nike, err := c.GetByBrand(ctx, "Nike")
	require.NoError(t, err)
	require.Len(t, nike, 1)

	casual, err := c.GetByCategory(ctx, "Casual")
	require.NoError(t, err)
	require.Len(t, casual, 1)
	require.Equal(t, "Chuck 70", casual[0].Name)

	require.NoError(t, saved.ReduceStock(3))
	_, err = c.Save(ctx, saved)
	require.NoError(t, err)
	got, err = c.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.Stock)

	n, err = c.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCatalog_SaveRejectsInvalidAndUnknown(t *testing.T) {
	ctx := context.Background()
	c, err := NewCatalog(openTestDB(t))
	require.NoError(t, err)

	_, err = c.Save(ctx, domain.Product{Name: "x", Price: -1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.Save(ctx, domain.Product{ID: 77, Name: "ghost", Price: 10})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_InvalidRowFailsConstruction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `INSERT INTO products (name, price, stock) VALUES ('broken', 0, 1)`)
	require.NoError(t, err)

	c, err := NewCatalog(db)
	require.NoError(t, err)
	_, err = c.GetAll(ctx)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func newMsg(t *testing.T, session string, role domain.Role, text string, at time.Time) domain.Message {
	t.Helper()
	m, err := domain.NewMessage(session, role, text, at)
	require.NoError(t, err)
	return m
}

func TestConversations_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	c, err := NewConversations(openTestDB(t), WithMetrics(m))
	require.NoError(t, err)

	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 8; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		stored, err := c.Append(ctx, newMsg(t, "s1", role, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		require.NotEmpty(t, stored.ID)
	}
	_, err = c.Append(ctx, newMsg(t, "s2", domain.RoleUser, "other", base))
	require.NoError(t, err)

	recent, err := c.Recent(ctx, "s1", 6)
	require.NoError(t, err)
	require.Len(t, recent, 6)
	require.Equal(t, "m3", recent[0].Text)
	require.Equal(t, "m8", recent[5].Text)
	require.Equal(t, domain.RoleAssistant, recent[5].Role)
	require.True(t, recent[5].Timestamp.Equal(base.Add(8*time.Second)))

	all, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 8)
	require.Equal(t, "m1", all[0].Text)

	none, err := c.Recent(ctx, "nobody", 6)
	require.NoError(t, err)
	require.Empty(t, none)

	require.Equal(t, 9.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("sqlite", "history_append", "success")))
}

func TestConversations_AppendTurnAndPurge(t *testing.T) {
	ctx := context.Background()
	c, err := NewConversations(openTestDB(t))
	require.NoError(t, err)

	now := time.Now().UTC()
	u, a, err := c.AppendTurn(ctx,
		newMsg(t, "s1", domain.RoleUser, "hi", now),
		newMsg(t, "s1", domain.RoleAssistant, "hello", now.Add(time.Microsecond)))
	require.NoError(t, err)
	require.NotEqual(t, u.ID, a.ID)

	_, _, err = c.AppendTurn(ctx,
		newMsg(t, "s1", domain.RoleUser, "again", now),
		domain.Message{SessionID: "s1", Role: domain.RoleAssistant, Text: " "})
	require.ErrorIs(t, err, domain.ErrValidation)

	all, err := c.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "hi", all[0].Text)
	require.Equal(t, "hello", all[1].Text)

	n, err := c.Purge(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = c.Purge(ctx, "s1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConversations_UnknownRowRoleNormalizes(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx,
		`INSERT INTO chat_memory (session_id, role, message, timestamp) VALUES ('s1', 'Asistente', 'hola', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	c, err := NewConversations(db)
	require.NoError(t, err)
	msgs, err := c.Recent(ctx, "s1", 6)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleAssistant, msgs[0].Role)
}
