package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iot/types"

	"streaming-status/backend/internal/device/domain"
)

// Thing attribute names set by the provisioning flow and indexed by the fleet.
const (
	attrRegistrationWay = "RegistrationWay"
	attrProvider        = "SensorProvider"
	attrOrganization    = "SensorOrganization"
	attrProject         = "SensorProject"
	attrLabel           = "CustomLabel"
	attrSchemaID        = "SchemaId"
)

// SearchClient is the slice of the IoT control plane the fleet index uses.
type SearchClient interface {
	SearchIndex(ctx context.Context, params *iot.SearchIndexInput, optFns ...func(*iot.Options)) (*iot.SearchIndexOutput, error)
	AddThingToThingGroup(ctx context.Context, params *iot.AddThingToThingGroupInput, optFns ...func(*iot.Options)) (*iot.AddThingToThingGroupOutput, error)
	RemoveThingFromThingGroup(ctx context.Context, params *iot.RemoveThingFromThingGroupInput, optFns ...func(*iot.Options)) (*iot.RemoveThingFromThingGroupOutput, error)
}

var _ SearchClient = (*iot.Client)(nil)

// IoTFleetIndex reads live device state from the AWS IoT fleet index.
type IoTFleetIndex struct {
	client           SearchClient
	deactivatedGroup string
}

// NewIoTFleetIndex wires a fleet index against the IoT search API.
// deactivatedGroup is the thing group that hides devices from listings.
func NewIoTFleetIndex(client SearchClient, deactivatedGroup string) *IoTFleetIndex {
	return &IoTFleetIndex{client: client, deactivatedGroup: deactivatedGroup}
}

// Search implements FleetIndex.
func (f *IoTFleetIndex) Search(ctx context.Context, q FleetQuery, pageSize int, nextToken string) (*FleetPage, error) {
	input := &iot.SearchIndexInput{
		QueryString: aws.String(f.buildQuery(q)),
		MaxResults:  aws.Int32(int32(pageSize)),
	}
	if nextToken != "" {
		input.NextToken = aws.String(nextToken)
	}

	out, err := f.client.SearchIndex(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("fleet index: search: %w", err)
	}

	page := &FleetPage{NextToken: aws.ToString(out.NextToken)}
	for _, doc := range out.Things {
		page.Things = append(page.Things, thingFromDocument(doc))
	}
	return page, nil
}

// Find implements FleetIndex.
func (f *IoTFleetIndex) Find(ctx context.Context, scope Scope, name string) (*domain.FleetThing, error) {
	clauses := []string{fmt.Sprintf("thingName:%q", name)}
	clauses = appendScopeClauses(clauses, scope)

	out, err := f.client.SearchIndex(ctx, &iot.SearchIndexInput{
		QueryString: aws.String(strings.Join(clauses, " AND ")),
		MaxResults:  aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("fleet index: find %s: %w", name, err)
	}
	if len(out.Things) == 0 {
		return nil, nil
	}
	thing := thingFromDocument(out.Things[0])
	return &thing, nil
}

// SetActive implements FleetIndex.
func (f *IoTFleetIndex) SetActive(ctx context.Context, name string, active bool) error {
	if active {
		_, err := f.client.RemoveThingFromThingGroup(ctx, &iot.RemoveThingFromThingGroupInput{
			ThingName:      aws.String(name),
			ThingGroupName: aws.String(f.deactivatedGroup),
		})
		if err != nil {
			return fmt.Errorf("fleet index: activate %s: %w", name, err)
		}
		return nil
	}
	_, err := f.client.AddThingToThingGroup(ctx, &iot.AddThingToThingGroupInput{
		ThingName:      aws.String(name),
		ThingGroupName: aws.String(f.deactivatedGroup),
	})
	if err != nil {
		return fmt.Errorf("fleet index: deactivate %s: %w", name, err)
	}
	return nil
}

// buildQuery renders a fleet query into the IoT search grammar. Only things
// that completed registration carry the RegistrationWay attribute, so the
// base clause doubles as an "is a device" filter.
func (f *IoTFleetIndex) buildQuery(q FleetQuery) string {
	clauses := []string{"attributes." + attrRegistrationWay + ":*"}
	clauses = appendScopeClauses(clauses, q.Scope)

	if q.NamePrefix != "" {
		clauses = append(clauses, "thingName:"+q.NamePrefix+"*")
	}
	if q.Project != "" {
		clauses = append(clauses, fmt.Sprintf("attributes.%s:%q", attrProject, q.Project))
	}
	if q.SchemaID != "" {
		clauses = append(clauses, fmt.Sprintf("attributes.%s:%q", attrSchemaID, q.SchemaID))
	}
	if q.Connected != nil {
		clauses = append(clauses, fmt.Sprintf("connectivity.connected:%t", *q.Connected))
	}

	if q.Label == domain.LabelDeactivated {
		clauses = append(clauses, "thingGroupNames:"+f.deactivatedGroup)
	} else {
		if q.Label != "" {
			clauses = append(clauses, fmt.Sprintf("attributes.%s:%q", attrLabel, string(q.Label)))
		}
		clauses = append(clauses, "NOT thingGroupNames:"+f.deactivatedGroup)
	}
	return strings.Join(clauses, " AND ")
}

func appendScopeClauses(clauses []string, scope Scope) []string {
	if scope.Provider != "" {
		clauses = append(clauses, fmt.Sprintf("attributes.%s:%q", attrProvider, scope.Provider))
	}
	if scope.Organization != "" {
		clauses = append(clauses, fmt.Sprintf("attributes.%s:%q", attrOrganization, scope.Organization))
	}
	return clauses
}

func thingFromDocument(doc types.ThingDocument) domain.FleetThing {
	thing := domain.FleetThing{
		Name:            aws.ToString(doc.ThingName),
		Provider:        doc.Attributes[attrProvider],
		Organization:    doc.Attributes[attrOrganization],
		Project:         doc.Attributes[attrProject],
		SchemaID:        doc.Attributes[attrSchemaID],
		Label:           domain.CustomLabel(doc.Attributes[attrLabel]),
		RegistrationWay: doc.Attributes[attrRegistrationWay],
	}
	if doc.Connectivity != nil {
		conn := &domain.Connectivity{Connected: aws.ToBool(doc.Connectivity.Connected)}
		if ms := aws.ToInt64(doc.Connectivity.Timestamp); ms > 0 {
			seconds := float64(ms) / 1000.0
			conn.Timestamp = &seconds
		}
		if doc.Connectivity.DisconnectReason != nil {
			reason := aws.ToString(doc.Connectivity.DisconnectReason)
			conn.DisconnectReason = &reason
			if desc := domain.DisconnectReasonDescription(reason); desc != "" {
				conn.DisconnectReasonDescription = &desc
			}
		}
		thing.Connectivity = conn
	}
	return thing
}
