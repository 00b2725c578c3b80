package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/relaycrm-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "relaycrm-prod"}
	if got := c.topicResourceName("credit-recharges"); got != "projects/relaycrm-prod/topics/credit-recharges" {
		t.Fatalf("unexpected topic name %q", got)
	}
	full := "projects/other/topics/x"
	if got := c.topicResourceName(full); got != full {
		t.Fatalf("full resource names should pass through, got %q", got)
	}
	if got := c.topicResourceName("  "); got != "" {
		t.Fatalf("blank topic should resolve to empty, got %q", got)
	}
	if got := (&Client{}).topicResourceName("t"); got != "" {
		t.Fatalf("missing project should resolve to empty, got %q", got)
	}
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{RechargeTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errTopicRequired {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil {
		t.Fatalf("nil client should not return a publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("ping on nil client should fail")
	}
}
