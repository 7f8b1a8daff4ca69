// Package bus provides event bus implementations: in-process channels for
// the Community tier and NATS for the Pro tier.
package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates an event bus from configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// validTenant rejects IDs that would break subject routing.
func validTenant(tenantID string, allowWildcard bool) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if allowWildcard && tenantID == domain.AllTenants {
		return nil
	}
	if strings.ContainsAny(tenantID, ".*> \t\r\n") {
		return fmt.Errorf("invalid tenantID %q", tenantID)
	}
	return nil
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
