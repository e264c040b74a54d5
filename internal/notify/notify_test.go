package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
)

type tick struct{ t time.Time }

func (c *tick) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestDispatcherInbox(t *testing.T) {
	store := NewInMemory()
	clock := &tick{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDispatcher(store, clock.now)
	ctx := context.Background()

	staff := auth.StaffClaims(1, 3, 7)
	for i := 0; i < InboxSize+5; i++ {
		d.Notify(ctx, RecipientFor(staff), "New log", "body")
	}
	d.Notify(ctx, Recipient{Role: auth.RoleStudent, TargetID: 7}, "Same id, other role", "")

	items, err := d.List(ctx, staff)
	require.NoError(t, err)
	require.Len(t, items, InboxSize)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt), "expected newest first")
	for _, n := range items {
		assert.Equal(t, auth.RoleStaff, n.Role)
	}

	count, err := d.UnreadCount(ctx, staff)
	require.NoError(t, err)
	assert.Equal(t, InboxSize+5, count)

	read, err := d.MarkRead(ctx, staff, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)

	count, err = d.UnreadCount(ctx, staff)
	require.NoError(t, err)
	assert.Equal(t, InboxSize+4, count)
}

func TestMarkReadScopedToRecipient(t *testing.T) {
	store := NewInMemory()
	d := NewDispatcher(store, nil)
	ctx := context.Background()

	d.Notify(ctx, Recipient{Role: auth.RoleStudent, TargetID: 9}, "Log approved", "")
	id := store.All()[0].ID

	_, err := d.MarkRead(ctx, auth.StudentClaims(1, 3, 7, 10), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// A staff principal with the same numeric id does not own a student notification.
	_, err = d.MarkRead(ctx, auth.StaffClaims(1, 3, 9), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Nil(t, store.All()[0].ReadAt)

	_, err = d.MarkRead(ctx, auth.StudentClaims(1, 3, 7, 9), id)
	assert.NoError(t, err)
}

func TestNotifySwallowsStoreFailure(t *testing.T) {
	store := NewInMemory()
	store.FailWrites(errors.New("db down"))
	d := NewDispatcher(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() {
		d.Notify(ctx, Recipient{Role: auth.RoleStaff, TargetID: 7}, "t", "b")
	})
	assert.Empty(t, store.All())

	store.FailWrites(nil)
	d.Notify(ctx, Recipient{Role: auth.RoleStaff, TargetID: 7}, "t", "b")
	assert.Len(t, store.All(), 1, "cancelled request context must not drop the write")

	d.Notify(context.Background(), Recipient{}, "t", "b")
	assert.Len(t, store.All(), 1)
}
