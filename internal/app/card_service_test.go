package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueCardPersistsProviderIDs(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")

	card, err := f.cardSvc.IssueCard(ctx, IssueCardInput{OwnerID: "owner", PoolID: pool.ID, Label: "Groceries"})
	require.NoError(t, err)

	assert.NotEqual(t, "ic_1", card.ID, "document id is store-assigned")
	assert.Equal(t, "ic_1", card.ProviderCardID)
	assert.Equal(t, "ich_1", card.ProviderCardholderID)
	assert.Equal(t, domain.CardTypeVirtual, card.Type)
	assert.Equal(t, domain.CardStatusActive, card.Status)

	stored, err := f.cardsRepo.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "ic_1", stored.ProviderCardID)
	assert.Equal(t, "Groceries", stored.Label)

	last := f.provider.issued[len(f.provider.issued)-1]
	assert.Equal(t, "Ada Lovelace", last.CardholderName)
	assert.Equal(t, issuing.CardTypeVirtual, last.Type)
	assert.Equal(t, pool.ID, last.Metadata["pool_id"])
}

func TestIssueCardValidatesBeforeCallingProvider(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")
	issuedBefore := len(f.provider.issued)

	_, err := f.cardSvc.IssueCard(ctx, IssueCardInput{OwnerID: "owner", PoolID: pool.ID, Type: domain.CardTypePhysical})
	var vErr *issuing.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "shipping", vErr.Field)

	_, err = f.cardSvc.IssueCard(ctx, IssueCardInput{OwnerID: "owner", PoolID: pool.ID, Label: "this label is far too long for a card"})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "second_line", vErr.Field)

	assert.Len(t, f.provider.issued, issuedBefore)
}

func TestIssueCardRequiresMembership(t *testing.T) {
	f := newAppFixture(t)
	f.addAccount(t, "owner", true)
	f.addAccount(t, "outsider", true)
	pool := f.createPool(t, "owner")

	_, err := f.cardSvc.IssueCard(context.Background(), IssueCardInput{OwnerID: "outsider", PoolID: pool.ID})
	assert.ErrorIs(t, err, ErrNotPoolMember)
}

func TestCardActivation(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	f.addAccount(t, "other", true)
	f.createPool(t, "owner")

	cards, err := f.cardSvc.ListCards(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	cardID := cards[0].ID

	_, err = f.cardSvc.DeactivateCard(ctx, "other", cardID)
	assert.ErrorIs(t, err, ErrNotCardOwner)

	card, err := f.cardSvc.DeactivateCard(ctx, "owner", cardID)
	require.NoError(t, err)
	assert.Equal(t, domain.CardStatusInactive, card.Status)

	// Already inactive: no provider call.
	_, err = f.cardSvc.DeactivateCard(ctx, "owner", cardID)
	require.NoError(t, err)

	card, err = f.cardSvc.ActivateCard(ctx, "owner", cardID)
	require.NoError(t, err)
	assert.Equal(t, domain.CardStatusActive, card.Status)
	assert.Equal(t, []bool{false, true}, f.provider.statusCalls)

	f.provider.statusErr = errProvider
	_, err = f.cardSvc.DeactivateCard(ctx, "owner", cardID)
	assert.ErrorIs(t, err, errProvider)
	stored, err := f.cardsRepo.GetCard(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, domain.CardStatusActive, stored.Status, "doc untouched when provider fails")

	_, err = f.cardSvc.ActivateCard(ctx, "owner", "missing")
	assert.ErrorIs(t, err, store.ErrCardNotFound)
}
