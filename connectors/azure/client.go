package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/managementgroups/armmanagementgroups"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	dc "azcost/domain/config"
)

const (
	moduleName    = "azcost"
	moduleVersion = "v1.0.0"
)

// Client talks to Azure Resource Manager. Typed SDK clients are used where one exists; the
// cost, consumption, billing and resource graph calls go through the shared ARM pipeline.
// Every method takes the subscription it works on; the client holds no current subscription.
type Client struct {
	arm       *arm.Client
	subs      *armsubscriptions.Client
	groups    *armmanagementgroups.Client
	entities  *armmanagementgroups.EntitiesClient
	groupSubs *armmanagementgroups.ManagementGroupSubscriptionsClient

	// rootMu guards tenantID, the name of the tenant root management group. It is
	// discovered on first use when not configured.
	rootMu   sync.Mutex
	tenantID string
}

// ClientOptions builds the ARM pipeline options for the configured cloud.
func ClientOptions(cfg dc.Azure) *arm.ClientOptions {
	rm := strings.TrimRight(cfg.ResourceManager, "/")
	return &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Cloud: cloud.Configuration{
				ActiveDirectoryAuthorityHost: cfg.AuthorityHost,
				Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
					cloud.ResourceManager: {Endpoint: rm, Audience: rm},
				},
			},
		},
	}
}

// NewClient creates the ARM clients sharing one credential and option set.
func NewClient(cred azcore.TokenCredential, tenantID string, opts *arm.ClientOptions) (*Client, error) {
	pl, err := arm.NewClient(moduleName, moduleVersion, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create arm client: %w", err)
	}
	subs, err := armsubscriptions.NewClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	groups, err := armmanagementgroups.NewClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create management groups client: %w", err)
	}
	entities, err := armmanagementgroups.NewEntitiesClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create entities client: %w", err)
	}
	groupSubs, err := armmanagementgroups.NewManagementGroupSubscriptionsClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create management group subscriptions client: %w", err)
	}
	return &Client{
		arm:       pl,
		subs:      subs,
		groups:    groups,
		entities:  entities,
		groupSubs: groupSubs,
		tenantID:  tenantID,
	}, nil
}

// do sends one request through the ARM pipeline and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := runtime.NewRequest(ctx, method, runtime.JoinPaths(c.arm.Endpoint(), path))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Raw().URL.RawQuery = query.Encode()
	req.Raw().Header.Set("Accept", "application/json")
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return c.send(req, out)
}

func (c *Client) send(req *policy.Request, out any) error {
	resp, err := c.arm.Pipeline().Do(req)
	if err != nil {
		return err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return runtime.NewResponseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"nextLink"`
}

// listAll follows nextLink until the collection is exhausted.
func listAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var all []T
	var p page[T]
	if err := c.do(ctx, http.MethodGet, path, query, nil, &p); err != nil {
		return nil, err
	}
	all = append(all, p.Value...)
	for p.NextLink != "" {
		req, err := runtime.NewRequest(ctx, http.MethodGet, p.NextLink)
		if err != nil {
			return nil, fmt.Errorf("failed to create next page request: %w", err)
		}
		next := page[T]{}
		if err := c.send(req, &next); err != nil {
			return nil, err
		}
		all = append(all, next.Value...)
		p = next
	}
	return all, nil
}

func subscriptionPath(subscriptionID string, parts ...string) string {
	return "/subscriptions/" + url.PathEscape(lastSegment(subscriptionID)) + strings.Join(parts, "")
}

// lastSegment returns the name part of a resource id such as /subscriptions/{id}.
func lastSegment(id string) string {
	id = strings.Trim(id, "/")
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func apiVersion(v string, extra ...string) url.Values {
	q := url.Values{"api-version": {v}}
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	return q
}
