package api

import (
	"github.com/Pool-labs/Pool/internal/app"
	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/samber/lo"
)

// Stored entities keep their id outside the document body; the views put it
// back for clients.

type poolView struct {
	ID string `json:"id"`
	*domain.Pool
}

type cardView struct {
	ID string `json:"id"`
	*domain.Card
}

type paymentView struct {
	ID string `json:"id"`
	*domain.Payment
}

type createPoolView struct {
	Pool      poolView  `json:"pool"`
	Card      *cardView `json:"card,omitempty"`
	CardError string    `json:"card_error,omitempty"`
}

func newPoolView(p *domain.Pool) poolView {
	return poolView{ID: p.ID, Pool: p}
}

func newCardView(c *domain.Card) cardView {
	return cardView{ID: c.ID, Card: c}
}

func newPaymentView(p *domain.Payment) paymentView {
	return paymentView{ID: p.ID, Payment: p}
}

func newCreatePoolView(res *app.CreatePoolResult) createPoolView {
	out := createPoolView{Pool: newPoolView(res.Pool), CardError: res.CardError}
	if res.Card != nil {
		card := newCardView(res.Card)
		out.Card = &card
	}
	return out
}

func poolViews(pools []domain.Pool) []poolView {
	return lo.Map(pools, func(p domain.Pool, _ int) poolView { return newPoolView(&p) })
}

func cardViews(cards []domain.Card) []cardView {
	return lo.Map(cards, func(c domain.Card, _ int) cardView { return newCardView(&c) })
}

func paymentViews(payments []domain.Payment) []paymentView {
	return lo.Map(payments, func(p domain.Payment, _ int) paymentView { return newPaymentView(&p) })
}
