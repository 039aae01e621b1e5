package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/managementgroups/armmanagementgroups"
	"github.com/google/uuid"

	"azcost/domain/hierarchy"
)

const resourceGraphAPIVersion = "2021-03-01"

var errNoTenantRoot = errors.New("tenant root management group not found")

type graphRequest struct {
	Subscriptions []string     `json:"subscriptions"`
	Query         string       `json:"query"`
	Options       graphOptions `json:"options"`
}

type graphOptions struct {
	ResultFormat string `json:"resultFormat"`
}

type graphResponse struct {
	Data []struct {
		Chain []struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"chain"`
	} `json:"data"`
}

// SubscriptionAncestors reads managementGroupAncestorsChain from Resource Graph. The chain is
// nearest first and only ever contains management groups.
func (c *Client) SubscriptionAncestors(ctx context.Context, subscriptionID string) ([]hierarchy.Ancestor, error) {
	id, err := uuid.Parse(lastSegment(subscriptionID))
	if err != nil {
		return nil, fmt.Errorf("invalid subscription id %q: %w", subscriptionID, err)
	}
	body := graphRequest{
		Subscriptions: []string{id.String()},
		Query: fmt.Sprintf("resourcecontainers"+
			" | where type =~ 'microsoft.resources/subscriptions' and subscriptionId =~ '%s'"+
			" | project chain = properties.managementGroupAncestorsChain", id),
		Options: graphOptions{ResultFormat: "objectArray"},
	}
	var resp graphResponse
	err = c.do(ctx, http.MethodPost, "/providers/Microsoft.ResourceGraph/resources",
		apiVersion(resourceGraphAPIVersion), body, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource graph: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	out := make([]hierarchy.Ancestor, 0, len(resp.Data[0].Chain))
	for _, a := range resp.Data[0].Chain {
		out = append(out, hierarchy.Ancestor{Name: a.Name, DisplayName: a.DisplayName, Kind: hierarchy.KindGroup})
	}
	return out, nil
}

// ListSubscriptionGroups lists every subscription entity with its parent display name chain.
func (c *Client) ListSubscriptionGroups(ctx context.Context) ([]hierarchy.SubscriptionGroup, error) {
	var out []hierarchy.SubscriptionGroup
	pager := c.entities.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list entities: %w", err)
		}
		for _, e := range page.Value {
			if e == nil || e.Name == nil || !strings.EqualFold(deref(e.Type), string(armmanagementgroups.ManagementGroupChildTypeSubscriptions)) {
				continue
			}
			sg := hierarchy.SubscriptionGroup{SubscriptionID: *e.Name}
			if e.Properties != nil {
				for _, name := range e.Properties.ParentDisplayNameChain {
					sg.Path = append(sg.Path, deref(name))
				}
			}
			out = append(out, sg)
		}
	}
	return out, nil
}

// ListGroups enumerates the visible management groups without children.
func (c *Client) ListGroups(ctx context.Context) ([]hierarchy.Node, error) {
	var out []hierarchy.Node
	pager := c.groups.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list management groups: %w", err)
		}
		for _, g := range page.Value {
			if g == nil || g.Name == nil {
				continue
			}
			n := hierarchy.Node{ID: deref(g.ID), Name: *g.Name, Kind: hierarchy.KindGroup}
			if g.Properties != nil {
				n.DisplayName = deref(g.Properties.DisplayName)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

// ExpandGroup returns the direct children of a group.
func (c *Client) ExpandGroup(ctx context.Context, groupName string) ([]hierarchy.Node, error) {
	resp, err := c.groups.Get(ctx, groupName, &armmanagementgroups.ClientGetOptions{
		Expand: to.Ptr(armmanagementgroups.ManagementGroupExpandTypeChildren),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand management group %s: %w", groupName, err)
	}
	if resp.Properties == nil {
		return nil, nil
	}
	nodes := make([]hierarchy.Node, 0, len(resp.Properties.Children))
	for _, ch := range resp.Properties.Children {
		if ch != nil {
			n := childNode(ch)
			n.Children = nil
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// DescendantTree fetches the whole hierarchy below the tenant root group in one call.
func (c *Client) DescendantTree(ctx context.Context) ([]hierarchy.Node, error) {
	root, err := c.tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.groups.Get(ctx, root, &armmanagementgroups.ClientGetOptions{
		Expand:  to.Ptr(armmanagementgroups.ManagementGroupExpandTypeChildren),
		Recurse: to.Ptr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch management group tree: %w", err)
	}
	n := hierarchy.Node{ID: deref(resp.ID), Name: deref(resp.Name), Kind: hierarchy.KindGroup}
	if resp.Properties != nil {
		n.DisplayName = deref(resp.Properties.DisplayName)
		for _, ch := range resp.Properties.Children {
			if ch != nil {
				n.Children = append(n.Children, childNode(ch))
			}
		}
	}
	return []hierarchy.Node{n}, nil
}

// SubscriptionParent looks the subscription up below the tenant root group and returns the
// name of its parent group.
func (c *Client) SubscriptionParent(ctx context.Context, subscriptionID string) (string, error) {
	root, err := c.tenantRoot(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.groupSubs.GetSubscription(ctx, root, lastSegment(subscriptionID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to get subscription parent: %w", err)
	}
	if resp.Properties == nil || resp.Properties.Parent == nil {
		return "", nil
	}
	return lastSegment(deref(resp.Properties.Parent.ID)), nil
}

func (c *Client) GroupDisplayName(ctx context.Context, groupName string) (string, error) {
	resp, err := c.groups.Get(ctx, groupName, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get management group %s: %w", groupName, err)
	}
	if resp.Properties == nil || deref(resp.Properties.DisplayName) == "" {
		return groupName, nil
	}
	return *resp.Properties.DisplayName, nil
}

// tenantRoot returns the tenant root group name, which equals the tenant id. Without a
// configured tenant it is the listed group whose name is its own tenant id.
func (c *Client) tenantRoot(ctx context.Context) (string, error) {
	c.rootMu.Lock()
	defer c.rootMu.Unlock()
	if c.tenantID != "" {
		return c.tenantID, nil
	}
	pager := c.groups.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list management groups: %w", err)
		}
		for _, g := range page.Value {
			if g != nil && g.Properties != nil && g.Name != nil && strings.EqualFold(*g.Name, deref(g.Properties.TenantID)) {
				c.tenantID = *g.Name
				return c.tenantID, nil
			}
		}
	}
	return "", errNoTenantRoot
}

// childNode converts an expanded child and its own children.
func childNode(ch *armmanagementgroups.ManagementGroupChildInfo) hierarchy.Node {
	n := hierarchy.Node{
		ID:          deref(ch.ID),
		Name:        deref(ch.Name),
		DisplayName: deref(ch.DisplayName),
		Kind:        childKind(ch.Type),
	}
	for _, gc := range ch.Children {
		if gc != nil {
			n.Children = append(n.Children, childNode(gc))
		}
	}
	return n
}

func childKind(t *armmanagementgroups.ManagementGroupChildType) hierarchy.Kind {
	if t == nil {
		return hierarchy.KindUnknown
	}
	switch {
	case strings.EqualFold(string(*t), string(armmanagementgroups.ManagementGroupChildTypeMicrosoftManagementManagementGroups)):
		return hierarchy.KindGroup
	case strings.EqualFold(string(*t), string(armmanagementgroups.ManagementGroupChildTypeSubscriptions)):
		return hierarchy.KindSubscription
	}
	return hierarchy.KindUnknown
}
