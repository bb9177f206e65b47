package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	customerCachePrefix = "billing:customer:"
	customerCacheTTL    = 24 * time.Hour
)

// Resolver maps a payment provider customer id (plus an optional email hint)
// to a user. Webhook events carry customer ids, not user ids, so every event
// funnels through here. Lookup order: Redis cache, billing_profiles, then a
// provider fetch whose metadata or email identifies the user.
type Resolver struct {
	repo    Repository
	gateway Gateway
	cache   *redis.Client // nil disables caching
}

func NewResolver(repo Repository, gateway Gateway, cache *redis.Client) *Resolver {
	return &Resolver{repo: repo, gateway: gateway, cache: cache}
}

// Resolve returns the user owning a provider customer. A customer that cannot
// be mapped yields ErrLookupFailed; the caller fails the event so the
// provider redelivers it after the data race settles.
func (r *Resolver) Resolve(ctx context.Context, customerID, email string) (uuid.UUID, error) {
	if customerID != "" {
		if userID, ok := r.cached(ctx, customerID); ok {
			return userID, nil
		}

		profile, err := r.repo.GetProfileByCustomerID(ctx, customerID)
		if err == nil {
			r.remember(ctx, customerID, profile.UserID)
			return profile.UserID, nil
		}
		if err != ErrProfileNotFound {
			return uuid.Nil, err
		}

		// Customer unknown locally. Ask the provider; checkout tags
		// customers with our user id, and the customer record carries an
		// email we can fall back to.
		cust, err := r.gateway.GetCustomer(ctx, customerID)
		if err != nil {
			log.Warn().Err(err).Str("customer_id", customerID).Msg("provider customer fetch failed")
		} else if cust != nil {
			if raw, ok := cust.Metadata["user_id"]; ok {
				if userID, parseErr := uuid.Parse(raw); parseErr == nil {
					r.adopt(ctx, customerID, userID)
					return userID, nil
				}
			}
			if email == "" {
				email = cust.Email
			}
		}
	}

	if email != "" {
		profile, err := r.repo.GetProfileByEmail(ctx, email)
		if err == nil {
			if customerID != "" {
				r.adopt(ctx, customerID, profile.UserID)
			}
			return profile.UserID, nil
		}
		if err != ErrProfileNotFound {
			return uuid.Nil, err
		}
	}

	log.Warn().Str("customer_id", customerID).Str("email", email).Msg("customer resolution exhausted")
	return uuid.Nil, ErrLookupFailed
}

// adopt persists a newly learned customer mapping and caches it.
func (r *Resolver) adopt(ctx context.Context, customerID string, userID uuid.UUID) {
	if err := r.repo.SetCustomerID(ctx, userID, customerID); err != nil && err != ErrProfileNotFound {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("persist customer mapping failed")
	}
	r.remember(ctx, customerID, userID)
}

func (r *Resolver) cached(ctx context.Context, customerID string) (uuid.UUID, bool) {
	if r.cache == nil {
		return uuid.Nil, false
	}

	val, err := r.cache.Get(ctx, customerCachePrefix+customerID).Result()
	if err != nil {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func (r *Resolver) remember(ctx context.Context, customerID string, userID uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, customerCachePrefix+customerID, userID.String(), customerCacheTTL).Err(); err != nil {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("cache customer mapping failed")
	}
}
