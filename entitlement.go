package musicgen

import "context"

// EntitlementSource reports the subscription products a user currently owns.
type EntitlementSource interface {
	ActiveProducts(ctx context.Context, userID string) ([]string, error)
}

// PlanForProducts maps active product ids to a plan. When several products
// are active the highest plan wins (unlimited > pro > starter > free).
// Unknown product ids are ignored.
func PlanForProducts(products []string, mapping map[string]Plan) Plan {
	best := PlanFree
	for _, id := range products {
		p, ok := mapping[id]
		if !ok {
			continue
		}
		if p.rank() > best.rank() {
			best = p
		}
	}
	return best
}

// applyEntitlements updates the plan and subscription status of p from the
// active products. It reports whether anything changed.
func applyEntitlements(p *UserProfile, products []string, mapping map[string]Plan) bool {
	plan := PlanForProducts(products, mapping)
	before := *p

	switch {
	case plan.IsPaid():
		p.CurrentPlan = plan
		p.SubscriptionStatus = SubscriptionActive
	case p.CurrentPlan.IsPaid():
		// Keep the lapsed plan so CanGenerate reports the expiry.
		p.SubscriptionStatus = SubscriptionExpired
	default:
		p.CurrentPlan = PlanFree
		p.SubscriptionStatus = SubscriptionNone
	}

	return p.CurrentPlan != before.CurrentPlan || p.SubscriptionStatus != before.SubscriptionStatus
}

// SyncPlan persists the plan implied by products when it differs from the
// stored one. It returns the refreshed profile.
func (l *QuotaLedger) SyncPlan(ctx context.Context, userID string, products []string) (UserProfile, error) {
	u := l.acquire(userID)
	defer l.release(userID, u)
	u.mu.Lock()
	defer u.mu.Unlock()

	current, err := l.load(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	if !applyEntitlements(&current, products, l.cfg.Products) {
		p, _ := l.Refresh(current, l.now())
		return p, nil
	}

	p, err := l.store.UpdateProfile(ctx, userID, func(p *UserProfile) error {
		applyEntitlements(p, products, l.cfg.Products)
		return nil
	})
	if err != nil {
		return UserProfile{}, err
	}
	p, _ = l.Refresh(p, l.now())
	return p, nil
}
