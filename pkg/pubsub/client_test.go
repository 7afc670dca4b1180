package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/noretmy/escrow-backend/pkg/config"
)

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{NotificationSubscription: "  nm-escrow-notifications "})
	if len(names) != 1 || names[0] != "nm-escrow-notifications" {
		t.Fatalf("unexpected names %v", names)
	}
	names = subscriptionNames(config.PubSubConfig{
		NotificationSubscription: "nm-escrow-notifications",
		AnalyticsSubscription:    "nm-escrow-analytics",
	})
	if len(names) != 2 || names[1] != "nm-escrow-analytics" {
		t.Fatalf("unexpected names %v", names)
	}
	if got := subscriptionNames(config.PubSubConfig{}); len(got) != 0 {
		t.Fatalf("expected no names, got %v", got)
	}
}

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, kind, name, want string
	}{
		{"noretmy-prod", "topics", "nm-escrow-events", "projects/noretmy-prod/topics/nm-escrow-events"},
		{"noretmy-prod", "topics", "projects/other/topics/alerts", "projects/other/topics/alerts"},
		{"noretmy-prod", "subscriptions", " nm-escrow-notifications ", "projects/noretmy-prod/subscriptions/nm-escrow-notifications"},
		{"noretmy-prod", "subscriptions", " ", ""},
		{"", "topics", "nm-escrow-events", ""},
	}
	for _, tc := range cases {
		if got := resourceName(tc.project, tc.kind, tc.name); got != tc.want {
			t.Fatalf("resourceName(%q, %q, %q) = %q, want %q", tc.project, tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestDescribeLookup(t *testing.T) {
	if err := describeLookup("subscription", "s", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := describeLookup("subscription", "s", status.Error(codes.NotFound, "gone"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected not-found message, got %v", err)
	}
	cause := status.Error(codes.PermissionDenied, "nope")
	if err := describeLookup("subscription", "s", cause); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("nm-escrow-events") != nil || c.EmailPublisher() != nil {
		t.Fatal("nil client should return nil publisher")
	}
	if c.Subscription("nm-escrow-notifications") != nil || c.AnalyticsSubscription() != nil {
		t.Fatal("nil client should return nil subscriber")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
}
