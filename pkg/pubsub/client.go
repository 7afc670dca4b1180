package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscriptions   = errors.New("pubsub subscription name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client holds the Pub/Sub connection for one GCP project and hands out
// cached, ordering-enabled publishers and subscribers by short or full name.
type Client struct {
	ps      *gpubsub.Client
	project string
	cfg     config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*gpubsub.Publisher
}

// NewClient connects and fails when a configured subscription is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	ps, err := gpubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{ps: ps, project: project, cfg: cfg, publishers: map[string]*gpubsub.Publisher{}}
	if err := c.checkSubscriptions(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project", project), "pubsub client initialized")
	}
	return c, nil
}

// subscriptionNames lists the configured subscriptions, skipping blanks.
func subscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, n := range []string{cfg.NotificationSubscription, cfg.AnalyticsSubscription} {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	names := subscriptionNames(c.cfg)
	if len(names) == 0 {
		return errNoSubscriptions
	}
	var errs error
	for _, name := range names {
		_, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.resource("subscriptions", name),
		})
		errs = multierr.Append(errs, describeLookup("subscription", name, err))
	}
	return errs
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("look up %s %q: %w", kind, name, err)
	}
}

// Ping confirms the subscriptions this deployment reads from still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	return c.checkSubscriptions(ctx)
}

// Subscription returns a subscriber for a subscription ID or full resource name.
func (c *Client) Subscription(name string) *gpubsub.Subscriber {
	if c == nil || c.ps == nil {
		return nil
	}
	full := c.resource("subscriptions", name)
	if full == "" {
		return nil
	}
	return c.ps.Subscriber(full)
}

func (c *Client) NotificationSubscription() *gpubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.NotificationSubscription)
}

// AnalyticsSubscription is the second subscription on the escrow topic.
func (c *Client) AnalyticsSubscription() *gpubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns the cached publisher of a topic ID or full resource name.
// Ordering is on: messages sharing an ordering key are delivered in publish
// order, and a failed publish pauses its key until ResumePublish.
func (c *Client) Publisher(name string) *gpubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	full := c.resource("topics", name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.publishers[full]
	if !ok {
		pub = c.ps.Publisher(full)
		pub.EnableMessageOrdering = true
		c.publishers[full] = pub
	}
	return pub
}

// EmailPublisher feeds the transactional email service.
func (c *Client) EmailPublisher() *gpubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.Publisher(c.cfg.EmailTopic)
}

// Close flushes every cached publisher before releasing the connection.
func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	c.mu.Lock()
	for full, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, full)
	}
	c.mu.Unlock()
	return c.ps.Close()
}

// resource expands a short name to projects/<project>/<kind>/<name>. Names
// already in that form for the same kind pass through unchanged.
func (c *Client) resource(kind, name string) string {
	if c == nil {
		return ""
	}
	return resourceName(c.project, kind, name)
}

func resourceName(project, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case project == "":
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}
