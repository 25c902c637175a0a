// Package cached decorates a data access binding with a Redis read-through
// cache for holder lookups. Balances, cards and records always go to the
// underlying backend.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/shared/models"
	sharedredis "github.com/eaglebank/core-banking/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "tpc:holder"

// Holders serves HolderName and HolderPhone from the cache and everything
// else from the wrapped binding.
type Holders struct {
	repository.DataAccess
	views *sharedredis.ViewCache[models.HolderView]
}

func NewHolders(da repository.DataAccess, client *goredis.Client, ttl time.Duration) *Holders {
	return &Holders{
		DataAccess: da,
		views:      sharedredis.NewViewCache[models.HolderView](client, keyPrefix, ttl),
	}
}

// cacheKey keeps raw card numbers out of Redis.
func cacheKey(cardNumber string) string {
	sum := sha256.Sum256([]byte(cardNumber))
	return hex.EncodeToString(sum[:])
}

func (h *Holders) holder(ctx context.Context, cardNumber string) (*models.HolderView, error) {
	return h.views.GetOrLoad(ctx, cacheKey(cardNumber), func(ctx context.Context) (*models.HolderView, error) {
		name, err := h.DataAccess.HolderName(ctx, cardNumber)
		if err != nil {
			return nil, err
		}
		phone, err := h.DataAccess.HolderPhone(ctx, cardNumber)
		if err != nil {
			return nil, err
		}
		return &models.HolderView{Name: name, Phone: phone}, nil
	})
}

func (h *Holders) HolderName(ctx context.Context, cardNumber string) (string, error) {
	v, err := h.holder(ctx, cardNumber)
	if err != nil {
		return "", err
	}
	return v.Name, nil
}

func (h *Holders) HolderPhone(ctx context.Context, cardNumber string) (string, error) {
	v, err := h.holder(ctx, cardNumber)
	if err != nil {
		return "", err
	}
	return v.Phone, nil
}

// Forget drops the cached view for a card.
func (h *Holders) Forget(ctx context.Context, cardNumber string) {
	h.views.Delete(ctx, cacheKey(cardNumber))
}
