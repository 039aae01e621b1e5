// Package hierarchy resolves the management group that owns a subscription.
//
// Resolution tries a fixed list of independent lookup strategies in priority order and keeps
// the first match. A failing strategy is logged and skipped; when every strategy misses the
// result is the NoData sentinel, which is a normal outcome.
package hierarchy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"azcost/domain/cloudspending"
)

// Kind tells groups and subscriptions apart in hierarchy trees.
type Kind int

const (
	KindUnknown Kind = iota
	KindGroup
	KindSubscription
)

// Node is a management group or subscription. Children is only populated by calls that
// return whole trees.
type Node struct {
	ID          string
	Name        string
	DisplayName string
	Kind        Kind
	Children    []Node
}

// Label is the name shown in paths: the display name, falling back to the name.
func (n Node) Label() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.Name
}

// Ancestor is one entry of a subscription's ancestor chain.
type Ancestor struct {
	Name        string
	DisplayName string
	Kind        Kind
}

// SubscriptionGroup is a subscription with its root-first group path as returned by a listing
// that includes management group information.
type SubscriptionGroup struct {
	SubscriptionID string
	Path           []string
}

// Client answers the hierarchy queries used by the resolver. Every call is scoped by its
// arguments; implementations keep no current-subscription state.
type Client interface {
	// SubscriptionAncestors returns the ancestor chain, nearest first.
	SubscriptionAncestors(ctx context.Context, subscriptionID string) ([]Ancestor, error)
	// ListGroups enumerates the management groups visible to the caller.
	ListGroups(ctx context.Context) ([]Node, error)
	// ExpandGroup returns the immediate children of a group.
	ExpandGroup(ctx context.Context, groupName string) ([]Node, error)
	// DescendantTree returns the full tree below the tenant root group, root included.
	DescendantTree(ctx context.Context) ([]Node, error)
	// SubscriptionParent returns the name of the group the subscription is attached to.
	SubscriptionParent(ctx context.Context, subscriptionID string) (string, error)
	// GroupDisplayName resolves a group name to its display name.
	GroupDisplayName(ctx context.Context, groupName string) (string, error)
}

// SubscriptionGroupLister is an optional capability of a Client.
type SubscriptionGroupLister interface {
	ListSubscriptionGroups(ctx context.Context) ([]SubscriptionGroup, error)
}

// Result is the outcome of Resolve.
type Result struct {
	Name     string
	Path     []string
	Strategy string
}

// Resolved reports whether any strategy matched.
func (r Result) Resolved() bool { return r.Strategy != "" }

// PathString joins the path root-first, or returns NoData when unresolved.
func (r Result) PathString() string {
	if !r.Resolved() || len(r.Path) == 0 {
		return cloudspending.NoData
	}
	return cloudspending.JoinPath(r.Path)
}

// Unresolved is returned when every strategy misses.
func Unresolved() Result {
	return Result{Name: cloudspending.NoData}
}

// Strategy names, in priority order.
const (
	StrategyAncestors      = "ancestors"
	StrategyListing        = "subscription-listing"
	StrategyGroupScan      = "group-scan"
	StrategyDescendantTree = "descendant-tree"
	StrategyAttachedGroup  = "attached-group"
)

const component = "hierarchy"

type lookupFunc func(ctx context.Context, subscriptionID string) (Result, bool, error)

type strategy struct {
	name   string
	lookup lookupFunc
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver reports every strategy outcome to o.
func WithObserver(o cloudspending.StrategyObserver) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithCallTimeout bounds each strategy attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.callTimeout = d }
}

// Resolver tries the lookup strategies in order. It is safe for concurrent use.
type Resolver struct {
	client      Client
	strategies  []strategy
	observer    cloudspending.StrategyObserver
	callTimeout time.Duration

	listMu  sync.Mutex
	listing map[string][]string

	mu       sync.Mutex
	expanded map[string][]Node
}

// NewResolver builds the strategy list for c. The subscription-listing strategy is only
// enabled when c implements SubscriptionGroupLister.
func NewResolver(c Client, opts ...Option) *Resolver {
	r := &Resolver{client: c, observer: cloudspending.NopObserver{}}
	for _, o := range opts {
		o(r)
	}
	r.strategies = []strategy{
		{StrategyAncestors, r.byAncestors},
		{StrategyListing, r.byListing},
		{StrategyGroupScan, r.byGroupScan},
		{StrategyDescendantTree, r.byDescendantTree},
		{StrategyAttachedGroup, r.byAttachedGroup},
	}
	return r
}

// Resolve returns the owning group and its root-first path, or Unresolved.
func (r *Resolver) Resolve(ctx context.Context, subscriptionID string) Result {
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}
		res, outcome, err := r.attempt(ctx, s, subscriptionID)
		r.observer.ObserveStrategy(component, s.name, outcome)
		switch outcome {
		case cloudspending.OutcomeHit:
			res.Strategy = s.name
			slog.Info("hierarchy.strategy.hit", "subscription_id", subscriptionID, "strategy", s.name,
				"group", res.Name, "path", res.PathString())
			return res
		case cloudspending.OutcomeError:
			slog.Warn("hierarchy.strategy.error", "subscription_id", subscriptionID, "strategy", s.name, "error", err)
		case cloudspending.OutcomeSkipped:
			slog.Debug("hierarchy.strategy.skipped", "subscription_id", subscriptionID, "strategy", s.name)
		default:
			slog.Debug("hierarchy.strategy.miss", "subscription_id", subscriptionID, "strategy", s.name)
		}
	}
	slog.Warn("hierarchy.unresolved", "subscription_id", subscriptionID)
	return Unresolved()
}

func (r *Resolver) attempt(ctx context.Context, s strategy, subscriptionID string) (Result, string, error) {
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	res, ok, err := s.lookup(ctx, subscriptionID)
	switch {
	case errors.Is(err, errSkipped):
		return Result{}, cloudspending.OutcomeSkipped, nil
	case err != nil:
		return Result{}, cloudspending.OutcomeError, err
	case !ok || res.Name == "" || len(res.Path) == 0:
		// a match without a usable name counts as a miss
		return Result{}, cloudspending.OutcomeMiss, nil
	}
	return res, cloudspending.OutcomeHit, nil
}

func (r *Resolver) byAncestors(ctx context.Context, subscriptionID string) (Result, bool, error) {
	chain, err := r.client.SubscriptionAncestors(ctx, subscriptionID)
	if err != nil {
		return Result{}, false, err
	}
	var path []string
	for _, a := range chain {
		if a.Kind != KindGroup {
			continue
		}
		label := a.DisplayName
		if label == "" {
			label = a.Name
		}
		path = append(path, label)
	}
	if len(path) == 0 {
		return Result{}, false, nil
	}
	nearest := path[0]
	reverse(path)
	return Result{Name: nearest, Path: path}, true, nil
}

func (r *Resolver) byListing(ctx context.Context, subscriptionID string) (Result, bool, error) {
	lister, ok := r.client.(SubscriptionGroupLister)
	if !ok {
		return Result{}, false, errSkipped
	}
	listing, err := r.subscriptionListing(ctx, lister)
	if err != nil {
		return Result{}, false, err
	}
	path := listing[normalizeID(subscriptionID)]
	if len(path) == 0 {
		return Result{}, false, nil
	}
	path = append([]string(nil), path...)
	return Result{Name: path[len(path)-1], Path: path}, true, nil
}

// subscriptionListing fetches the listing once and serves later lookups from memory.
// A failed fetch is not cached so the next subscription retries it.
func (r *Resolver) subscriptionListing(ctx context.Context, lister SubscriptionGroupLister) (map[string][]string, error) {
	r.listMu.Lock()
	defer r.listMu.Unlock()
	if r.listing != nil {
		return r.listing, nil
	}
	subs, err := lister.ListSubscriptionGroups(ctx)
	if err != nil {
		return nil, err
	}
	listing := make(map[string][]string, len(subs))
	for _, s := range subs {
		listing[normalizeID(s.SubscriptionID)] = s.Path
	}
	r.listing = listing
	return listing, nil
}

func (r *Resolver) byGroupScan(ctx context.Context, subscriptionID string) (Result, bool, error) {
	groups, err := r.client.ListGroups(ctx)
	if err != nil {
		return Result{}, false, err
	}

	// expand every listed group one level, remembering parents to rebuild full paths
	parents := map[string]Node{}
	children := make([][]Node, len(groups))
	for i, g := range groups {
		kids, err := r.expand(ctx, g)
		if err != nil {
			return Result{}, false, err
		}
		children[i] = kids
		for _, k := range kids {
			if _, seen := parents[nodeKey(k)]; k.Kind == KindGroup && !seen {
				parents[nodeKey(k)] = g
			}
		}
	}
	for i, g := range groups {
		for _, k := range children[i] {
			if matchesSubscription(k, subscriptionID) {
				path := append(ancestry(g, parents), g.Label())
				return Result{Name: g.Label(), Path: path}, true, nil
			}
		}
	}

	// not a direct child of any listed group: walk nested groups depth-first
	starts := make([]frame, 0, len(groups))
	for _, g := range groups {
		starts = append(starts, frame{node: g, prefix: ancestry(g, parents)})
	}
	return findSubscription(ctx, starts, subscriptionID, r.expand)
}

// expand returns a group's children, caching successful expansions for the resolver's lifetime.
func (r *Resolver) expand(ctx context.Context, n Node) ([]Node, error) {
	key := nodeKey(n)
	r.mu.Lock()
	kids, ok := r.expanded[key]
	r.mu.Unlock()
	if ok {
		return kids, nil
	}
	kids, err := r.client.ExpandGroup(ctx, n.Name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.expanded == nil {
		r.expanded = map[string][]Node{}
	}
	r.expanded[key] = kids
	r.mu.Unlock()
	return kids, nil
}

func (r *Resolver) byDescendantTree(ctx context.Context, subscriptionID string) (Result, bool, error) {
	roots, err := r.client.DescendantTree(ctx)
	if err != nil {
		return Result{}, false, err
	}
	return findSubscription(ctx, forest(roots), subscriptionID, func(_ context.Context, n Node) ([]Node, error) {
		return n.Children, nil
	})
}

func (r *Resolver) byAttachedGroup(ctx context.Context, subscriptionID string) (Result, bool, error) {
	groupName, err := r.client.SubscriptionParent(ctx, subscriptionID)
	if err != nil {
		return Result{}, false, err
	}
	if groupName == "" {
		return Result{}, false, nil
	}
	display, err := r.client.GroupDisplayName(ctx, groupName)
	if err != nil {
		return Result{}, false, err
	}
	if display == "" {
		display = groupName
	}
	return Result{Name: display, Path: []string{display}}, true, nil
}

var errSkipped = errors.New("strategy not supported by client")

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// normalizeID reduces "/subscriptions/<id>" and "<id>" to the lowercase id.
func normalizeID(id string) string {
	id = strings.TrimSpace(strings.ToLower(id))
	if i := strings.LastIndex(id, "/subscriptions/"); i >= 0 {
		id = id[i+len("/subscriptions/"):]
	}
	return strings.Trim(id, "/")
}

func matchesSubscription(n Node, subscriptionID string) bool {
	if n.Kind != KindSubscription {
		return false
	}
	want := normalizeID(subscriptionID)
	return normalizeID(n.Name) == want || normalizeID(n.ID) == want
}

func nodeKey(n Node) string {
	if n.ID != "" {
		return strings.ToLower(n.ID)
	}
	return strings.ToLower(n.Name)
}
