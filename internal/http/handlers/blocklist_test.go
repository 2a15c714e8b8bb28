package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/blocklist"
	"github.com/dan246/mtx-toolkit/internal/models"
)

func setupBlocklistHandler(t *testing.T) *BlocklistHandler {
	t.Helper()
	store := setupHandlerStore(t)
	return NewBlocklistHandler(blocklist.NewManager(store, nil))
}

func TestBlocklistHandler_BlockAndList(t *testing.T) {
	h := setupBlocklistHandler(t)
	ctx := context.Background()

	created, err := h.Block(ctx, &CreateBlockEntryInput{Body: BlockEntryRequest{
		Address: "203.0.113.7", Reason: "credential stuffing",
	}})
	require.NoError(t, err)
	assert.True(t, created.Body.IsPermanent)
	assert.True(t, created.Body.IsActive)

	list, err := h.List(ctx, &ListBlockEntriesInput{})
	require.NoError(t, err)
	require.Len(t, list.Body.Entries, 1)
	assert.Equal(t, "203.0.113.7", list.Body.Entries[0].Address)
}

func TestBlocklistHandler_TemporaryBlockHasExpiry(t *testing.T) {
	h := setupBlocklistHandler(t)

	created, err := h.Block(context.Background(), &CreateBlockEntryInput{Body: BlockEntryRequest{
		Address: "203.0.113.7", Reason: "abuse", TTLSeconds: 3600,
	}})
	require.NoError(t, err)
	assert.False(t, created.Body.IsPermanent)
	require.NotNil(t, created.Body.ExpiresAt)
}

func TestBlocklistHandler_RejectsInvalidAddress(t *testing.T) {
	h := setupBlocklistHandler(t)

	_, err := h.Block(context.Background(), &CreateBlockEntryInput{Body: BlockEntryRequest{
		Address: "not-an-ip",
	}})
	requireStatus(t, err, 400)
}

func TestBlocklistHandler_CheckMatchesPathPattern(t *testing.T) {
	h := setupBlocklistHandler(t)
	ctx := context.Background()

	_, err := h.Block(ctx, &CreateBlockEntryInput{Body: BlockEntryRequest{
		Address: "203.0.113.7", PathPattern: "cam-*", Reason: "scraping",
	}})
	require.NoError(t, err)

	hit, err := h.Check(ctx, &CheckBlockedInput{Address: "203.0.113.7", Path: "cam-lobby"})
	require.NoError(t, err)
	assert.True(t, hit.Body.Blocked)
	require.NotNil(t, hit.Body.Entry)
	assert.Equal(t, "cam-*", hit.Body.Entry.PathPattern)

	miss, err := h.Check(ctx, &CheckBlockedInput{Address: "203.0.113.7", Path: "studio-1"})
	require.NoError(t, err)
	assert.False(t, miss.Body.Blocked)
	assert.Nil(t, miss.Body.Entry)
}

func TestBlocklistHandler_Unblock(t *testing.T) {
	h := setupBlocklistHandler(t)
	ctx := context.Background()

	created, err := h.Block(ctx, &CreateBlockEntryInput{Body: BlockEntryRequest{
		Address: "203.0.113.7",
	}})
	require.NoError(t, err)

	_, err = h.Unblock(ctx, &DeleteBlockEntryInput{ID: created.Body.ID})
	require.NoError(t, err)

	list, err := h.List(ctx, &ListBlockEntriesInput{})
	require.NoError(t, err)
	assert.Empty(t, list.Body.Entries)

	_, err = h.Unblock(ctx, &DeleteBlockEntryInput{ID: models.NewULID().String()})
	requireStatus(t, err, 404)
}

