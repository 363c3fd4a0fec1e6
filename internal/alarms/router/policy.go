package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"streaming-status/backend/internal/alarms/domain"
)

const routingQuery = "data.alarms.routing.destinations"

// Default Rego routing rules. Known devices alarm on their own topic;
// unknown devices fall back to their organization's topic, then to the
// configured default sink, so no routable event is ever dropped silently.
// Invalidated alarms resolve to no destinations.
const defaultRoutingPolicy = `package alarms.routing

routable if {
	input.event.alarmType != "invalidated"
}

destinations contains input.event.deviceId if {
	routable
	input.device.known
}

destinations contains topic if {
	routable
	not input.device.known
	input.event.organization != ""
	topic := sprintf("org_%s", [input.event.organization])
}

destinations contains input.defaults.sink if {
	routable
	not input.device.known
	input.event.organization == ""
}
`

// DeviceAttributes are the ledger attributes routing rules evaluate against.
// Known is false on a ledger miss.
type DeviceAttributes struct {
	Known        bool
	Organization string
	Project      string
}

// PolicyEngine resolves an alarm event to its destination topic set using
// OPA Rego rules compiled once at construction.
type PolicyEngine struct {
	compiler    *ast.Compiler
	defaultSink string
}

// NewPolicyEngine compiles policyText, or the built-in rules when empty.
// defaultSink is the topic suffix exposed to rules as input.defaults.sink.
func NewPolicyEngine(policyText, defaultSink string) (*PolicyEngine, error) {
	if policyText == "" {
		policyText = defaultRoutingPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"routing.rego": policyText})
	if err != nil {
		return nil, fmt.Errorf("compile routing policy: %w", err)
	}
	return &PolicyEngine{compiler: compiler, defaultSink: defaultSink}, nil
}

// HealthCheck verifies the compiled rules evaluate against a minimal input.
func (e *PolicyEngine) HealthCheck(ctx context.Context) error {
	event := &domain.AlarmEvent{DeviceID: "healthcheck", Type: domain.AlarmOffline}
	_, err := e.Destinations(ctx, event, DeviceAttributes{})
	return err
}

// Destinations evaluates the routing rules for one event. The returned topic
// suffixes are sorted; an empty set means the event routes nowhere.
func (e *PolicyEngine) Destinations(ctx context.Context, event *domain.AlarmEvent, device DeviceAttributes) ([]string, error) {
	input := map[string]interface{}{
		"event": map[string]interface{}{
			"deviceId":     event.DeviceID,
			"alarmType":    string(event.Type),
			"organization": event.Organization,
			"timestamp":    event.Timestamp,
		},
		"device": map[string]interface{}{
			"known":        device.Known,
			"organization": device.Organization,
			"project":      device.Project,
		},
		"defaults": map[string]interface{}{
			"sink": e.defaultSink,
		},
	}

	q := rego.New(
		rego.Query(routingQuery),
		rego.Compiler(e.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("eval routing policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("routing policy returned no result")
	}
	values, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("routing policy returned %T, want a set of topics", rs[0].Expressions[0].Value)
	}

	destinations := make([]string, 0, len(values))
	for _, v := range values {
		topic, ok := v.(string)
		if !ok || topic == "" {
			return nil, fmt.Errorf("routing policy returned destination %v, want a topic name", v)
		}
		destinations = append(destinations, topic)
	}
	sort.Strings(destinations)
	return destinations, nil
}
