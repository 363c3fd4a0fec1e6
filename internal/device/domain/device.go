// Package domain defines the device model served by the status API: the
// durable ledger record, the live fleet index entry, and the merged view
// returned to callers.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a device is absent or outside the caller's scope.
	// The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed names, labels, and page keys.
	ErrInvalidArgument = errors.New("invalid argument")
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)

// ValidateName checks that name is a legal device name (serial number or thing name).
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: name must match the regex: [a-zA-Z0-9:_-]+", ErrInvalidArgument)
	}
	return nil
}

// CanonicalName normalizes a provider/organization name for querying:
// lowercase, single dashes for runs of whitespace.
func CanonicalName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// CustomLabel is an operator-assigned deployment label.
type CustomLabel string

const (
	LabelDeployed      CustomLabel = "DEPLOYED"
	LabelUndeployed    CustomLabel = "UNDEPLOYED"
	LabelPeriodicBatch CustomLabel = "PERIODIC_BATCH"
	// LabelDeactivated additionally moves the device into the deactivated
	// thing group, hiding it from default listings.
	LabelDeactivated CustomLabel = "DEACTIVATED"
)

// ParseCustomLabel validates a raw label value.
func ParseCustomLabel(raw string) (CustomLabel, error) {
	switch l := CustomLabel(raw); l {
	case LabelDeployed, LabelUndeployed, LabelPeriodicBatch, LabelDeactivated:
		return l, nil
	}
	return "", fmt.Errorf("%w: label must be one of: %s, %s, %s, %s",
		ErrInvalidArgument, LabelDeployed, LabelUndeployed, LabelPeriodicBatch, LabelDeactivated)
}

// ReasonNotProvisioned is the synthetic disconnect reason reported for devices
// that exist in the ledger but have never been provisioned into the fleet.
const ReasonNotProvisioned = "NOT_PROVISIONED"

const reasonNotProvisionedDescription = "The client has not been provisioned yet."

// disconnectReasonDescriptions maps fleet index disconnect reason codes to
// human-readable descriptions.
var disconnectReasonDescriptions = map[string]string{
	"AUTH_ERROR": "The client failed to authenticate or authorization failed.",
	"CLIENT_ERROR": "The client did something wrong that causes it to disconnect. " +
		"For example, a client will be disconnected for sending more " +
		"than 1 MQTT CONNECT packet on the same connection or if the " +
		"client attempts to publish with a payload that exceeds the " +
		"payload limit.",
	"CLIENT_INITIATED_DISCONNECT": "The client indicates that it will disconnect. " +
		"The client can do this by sending either a " +
		"MQTT DISCONNECT control packet or a Close " +
		"frame if the client is using a WebSocket " +
		"connection.",
	"CONNECTION_LOST": "The client-server connection is cut off. This can happen " +
		"during a period of high network latency or when the " +
		"internet connection is lost.",
	"DUPLICATE_CLIENTID": "The client is using a client ID that is already in " +
		"use. In this case, the client that is already " +
		"connected will be disconnected with this disconnect " +
		"reason.",
	"FORBIDDEN_ACCESS": "The client is not allowed to be connected. For example, " +
		"a client with a denied IP address will fail to connect.",
	"MQTT_KEEP_ALIVE_TIMEOUT": "If there is no client-server communication for " +
		"1.5x of the client's keep-alive time, the client " +
		"is disconnected.",
	"SERVER_ERROR": "Disconnected due to unexpected server issues.",
	"SERVER_INITIATED_DISCONNECT": "Server intentionally disconnects a client for " +
		"operational reasons.",
	"THROTTLED": "The client is disconnected for exceeding a throttling limit.",
	"WEBSOCKET_TTL_EXPIRATION": "The client is disconnected because a WebSocket " +
		"has been connected longer than its time-to-live " +
		"value.",
}

// DisconnectReasonDescription returns the human description for a fleet
// disconnect reason code, or "" for unknown codes.
func DisconnectReasonDescription(reason string) string {
	return disconnectReasonDescriptions[reason]
}

// Connectivity is the live connection state of a device.
type Connectivity struct {
	Connected bool `json:"connected"`
	// Timestamp is the last state change in epoch seconds; nil when unknown.
	Timestamp                   *float64 `json:"timestamp"`
	DisconnectReason            *string  `json:"disconnectReason"`
	DisconnectReasonDescription *string  `json:"disconnectReasonDescription"`
}

// UnprovisionedConnectivity returns the placeholder connectivity for devices
// known to the ledger but never provisioned into the fleet.
func UnprovisionedConnectivity() *Connectivity {
	reason := ReasonNotProvisioned
	description := reasonNotProvisionedDescription
	return &Connectivity{
		Connected:                   false,
		Timestamp:                   nil,
		DisconnectReason:            &reason,
		DisconnectReasonDescription: &description,
	}
}

// Info is the durable ledger metadata of a device.
type Info struct {
	Organization          string   `json:"organization"`
	Project               string   `json:"project"`
	ProvisioningStatus    *string  `json:"provisioningStatus"`
	ProvisioningTimestamp *float64 `json:"provisioningTimestamp"`
	RegistrationStatus    *string  `json:"registrationStatus"`
	RegistrationTimestamp *float64 `json:"registrationTimestamp"`
}

// SchemaSpec describes the data schema assigned to a device.
type SchemaSpec struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Schema   string `json:"schema"`
	Title    string `json:"title"`
	Version  int    `json:"version"`
}

// Device is the merged view served to callers: live fleet state joined with
// the ledger record that owns the device durably.
type Device struct {
	Name         string        `json:"name"`
	Provider     string        `json:"provider"`
	Organization string        `json:"organization"`
	Connectivity *Connectivity `json:"connectivity"`
	Info         *Info         `json:"deviceInfo,omitempty"`
	Label        CustomLabel   `json:"label,omitempty"`
	// DataSchema carries the raw schema body for older clients. Use SchemaSpec.
	DataSchema string      `json:"dataSchema,omitempty"`
	SchemaSpec *SchemaSpec `json:"schemaSpec,omitempty"`
	// StreamPreview is the head of the latest stream batch (JSONL).
	StreamPreview            string   `json:"streamPreview,omitempty"`
	LastStreamBatchTimestamp *float64 `json:"lastStreamBatchTimestamp,omitempty"`
}

// FleetThing is one fleet index hit: the searchable live state of a device.
type FleetThing struct {
	Name            string
	Provider        string
	Organization    string
	Project         string
	SchemaID        string
	Label           CustomLabel
	RegistrationWay string
	Connectivity    *Connectivity
}

// LedgerRecord is the durable device row keyed by serial number.
type LedgerRecord struct {
	Serial             string
	Provider           string
	Organization       string
	Project            string
	ProvisioningStatus *string
	ProvisioningTime   *time.Time
	RegistrationStatus *string
	RegistrationTime   *time.Time
	Label              CustomLabel
	SchemaID           string
	PolicyDocument     *PolicyDocument
}

// PolicyDocument is the IoT policy attached at provisioning. The publish
// statement encodes the topic the device streams to.
type PolicyDocument struct {
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is a single policy grant.
type PolicyStatement struct {
	Action   string `json:"Action"`
	Effect   string `json:"Effect"`
	Resource string `json:"Resource"`
}

// StreamingTopic returns the topic the device publishes stream batches to,
// or "" when the device is unprovisioned or carries no publish grant.
func (r *LedgerRecord) StreamingTopic() string {
	if r == nil || r.ProvisioningStatus == nil || r.PolicyDocument == nil {
		return ""
	}
	for _, stmt := range r.PolicyDocument.Statement {
		if stmt.Action != "iot:Publish" {
			continue
		}
		if _, topic, ok := strings.Cut(stmt.Resource, "topic/"); ok {
			return topic
		}
	}
	return ""
}

// Compose merges a fleet index hit with a ledger record into the served
// device. At least one of the two must be non-nil; ledger attributes win
// where both carry a value. A device with no live connectivity reports the
// synthetic NOT_PROVISIONED state unless the ledger says it was provisioned,
// in which case connectivity is simply unknown (fleet index lag).
func Compose(fleet *FleetThing, ledger *LedgerRecord) *Device {
	d := &Device{}

	if fleet != nil {
		d.Name = fleet.Name
		d.Provider = fleet.Provider
		d.Organization = fleet.Organization
		d.Label = fleet.Label
		d.Connectivity = fleet.Connectivity
	}
	if ledger != nil {
		d.Name = ledger.Serial
		if ledger.Provider != "" {
			d.Provider = ledger.Provider
		}
		if ledger.Organization != "" {
			d.Organization = ledger.Organization
		}
		if ledger.Label != "" {
			d.Label = ledger.Label
		}
		d.Info = &Info{
			Organization:          ledger.Organization,
			Project:               ledger.Project,
			ProvisioningStatus:    ledger.ProvisioningStatus,
			ProvisioningTimestamp: epochSeconds(ledger.ProvisioningTime),
			RegistrationStatus:    ledger.RegistrationStatus,
			RegistrationTimestamp: epochSeconds(ledger.RegistrationTime),
		}
	}

	if d.Connectivity == nil {
		provisioned := ledger != nil && ledger.ProvisioningStatus != nil
		if !provisioned {
			d.Connectivity = UnprovisionedConnectivity()
		}
	}
	return d
}

func epochSeconds(t *time.Time) *float64 {
	if t == nil {
		return nil
	}
	s := float64(t.UnixMilli()) / 1000.0
	return &s
}
