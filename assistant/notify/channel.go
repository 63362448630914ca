// Package notify bridges backend-pushed deposit events into the chat. It
// owns an in-memory registry of realtime subscriptions keyed by
// (user, organization) and relays inbound events to the originating user
// through the chat transport.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSubscription reports a failed channel subscription.
	ErrSubscription = errors.New("notify: subscription failed")
	// ErrAuthorization reports a failed or malformed channel authorization
	// handshake; the subscription is not established.
	ErrAuthorization = errors.New("notify: channel authorization failed")
)

// DepositEvent is the domain event delivered on a deposit channel.
type DepositEvent struct {
	Title     string    `json:"title"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Network   string    `json:"network,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Callbacks are registered per channel subscription. Confirmation of a
// subscribe arrives asynchronously through OnSuccess or OnError.
type Callbacks struct {
	OnSuccess func()
	OnError   func(error)
	OnDeposit func(DepositEvent)
}

// ChannelClient is the hosted pub/sub transport for named private channels.
type ChannelClient interface {
	Subscribe(channel string, cb Callbacks) error
	Unsubscribe(channel string) error
}

// Authorizer performs the per-connection authorization round trip through
// the payments backend. A well-formed payload is forwarded to the channel
// service verbatim; a missing payload or backend failure means the
// connection is not authorized.
type Authorizer interface {
	Authorize(ctx context.Context, connectionID, channelName string) (json.RawMessage, error)
}

// ChannelName derives the private channel for an organization's deposits.
// The derivation is deterministic so every subscriber of the same
// organization lands on the same channel.
func ChannelName(organizationID string) string {
	return fmt.Sprintf("private-org-%s-deposits", organizationID)
}
