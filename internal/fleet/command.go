package fleet

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandStatus is the delivery state of a command.
type CommandStatus string

// Command statuses. A command starts pending and ends in exactly one of
// sent or failed.
const (
	CommandPending CommandStatus = "pending"
	CommandSent    CommandStatus = "sent"
	CommandFailed  CommandStatus = "failed"
)

// Command is one instruction queued for delivery to a device.
type Command struct {
	ID             string         `json:"commandId"`
	OrganizationID string         `json:"organizationId"`
	DeviceID       string         `json:"deviceId"`
	Name           string         `json:"name"`
	Params         map[string]any `json:"params,omitempty"`
	Status         CommandStatus  `json:"status"`
	Error          *string        `json:"error,omitempty"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Path returns the document path of the command.
func (c *Command) Path() string {
	return CommandPath(c.OrganizationID, c.ID)
}

// Validate checks the fields required to address and deliver the command.
func (c *Command) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidCommand)
	case c.OrganizationID == "":
		return fmt.Errorf("%w: missing organizationId", ErrInvalidCommand)
	case c.DeviceID == "":
		return fmt.Errorf("%w: missing deviceId", ErrInvalidCommand)
	case c.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidCommand)
	}
	return nil
}

// Envelope is the message published to a device's command topic.
// Field order matches what device agents expect on the wire.
type Envelope struct {
	CommandID      string         `json:"commandId"`
	Name           string         `json:"name"`
	Params         map[string]any `json:"params"`
	OrganizationID string         `json:"organizationId"`
	DeviceID       string         `json:"deviceId"`
}

// Envelope builds the wire message for c. Missing params become {}.
func (c *Command) Envelope() Envelope {
	params := c.Params
	if params == nil {
		params = map[string]any{}
	}
	return Envelope{
		CommandID:      c.ID,
		Name:           c.Name,
		Params:         params,
		OrganizationID: c.OrganizationID,
		DeviceID:       c.DeviceID,
	}
}

// MarshalEnvelope returns the JSON encoding of c.Envelope().
func (c *Command) MarshalEnvelope() ([]byte, error) {
	b, err := json.Marshal(c.Envelope())
	if err != nil {
		return nil, fmt.Errorf("marshalling command envelope: %w", err)
	}
	return b, nil
}

// ChangeType classifies an entry of the pending command feed.
type ChangeType string

// Feed change types.
const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// CommandChange is one event from the pending command feed. For removed
// changes Command holds the last version seen while pending.
type CommandChange struct {
	Type    ChangeType
	Command Command
}
