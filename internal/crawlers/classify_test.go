package crawlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session/sessiontest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		markers Markers
		want    models.Classification
	}{
		{"无标记", Markers{}, models.ClassUnavailable},
		{"已拥有优先", Markers{Owned: true, Purchase: true}, models.ClassPurchaseOwned},
		{"已借", Markers{Borrowed: true, Subscription: true}, models.ClassSubscriptionHeld},
		{"可借", Markers{Subscription: true, Purchase: true}, models.ClassSubscriptionAvailable},
		{"仅购买", Markers{Purchase: true, Price: "$4.99"}, models.ClassPurchaseAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.markers))
		})
	}
}

func TestIsZeroPrice(t *testing.T) {
	tests := []struct {
		price string
		want  bool
	}{
		{"$0.00", true},
		{"0,00 €", true},
		{"￥0", true},
		{"$1.99", false},
		{"$10.00", false},
		{"Free", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			assert.Equal(t, tt.want, IsZeroPrice(tt.price))
		})
	}
}

func TestProbeMarkers(t *testing.T) {
	ctx := context.Background()
	site := &models.SiteProfile{
		OwnedSelector:        ".owned",
		BorrowedSelector:     ".borrowed",
		SubscriptionSelector: ".borrow",
		PurchaseSelector:     ".buy",
		PriceSelector:        ".price",
	}

	fake := sessiontest.New()
	price := sessiontest.El("span", nil)
	price.Content = "  $0.00 "
	fake.Static("https://shop.example.com/dp/1", map[string][]*sessiontest.Node{
		".buy":   {sessiontest.El("button", nil)},
		".price": {price},
	})
	require.NoError(t, fake.Navigate(ctx, "https://shop.example.com/dp/1"))

	m, err := ProbeMarkers(ctx, fake, site)
	require.NoError(t, err)
	assert.Equal(t, Markers{Purchase: true, Price: "$0.00"}, m)
	assert.Equal(t, models.ClassPurchaseAvailable, Classify(m))
	assert.True(t, IsZeroPrice(m.Price))
}
