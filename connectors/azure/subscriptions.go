package azure

import (
	"context"
	"fmt"
	"log/slog"

	"azcost/domain/cloudspending"
)

// ListSubscriptions returns every subscription the credential can read.
func (c *Client) ListSubscriptions(ctx context.Context) ([]cloudspending.Subscription, error) {
	var out []cloudspending.Subscription
	pager := c.subs.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, s := range page.Value {
			if s == nil || s.SubscriptionID == nil {
				continue
			}
			sub := cloudspending.Subscription{
				ID:          *s.SubscriptionID,
				DisplayName: deref(s.DisplayName),
				TenantID:    deref(s.TenantID),
			}
			if s.State != nil {
				sub.State = string(*s.State)
			}
			out = append(out, sub)
		}
	}
	slog.Debug("azure.subscriptions.listed", "count", len(out))
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
