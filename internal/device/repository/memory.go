package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"streaming-status/backend/internal/device/domain"
)

// MemoryFleetIndex is an in-memory FleetIndex for tests and offline runs.
type MemoryFleetIndex struct {
	mu       sync.Mutex
	things   []domain.FleetThing
	inactive map[string]bool
}

// NewMemoryFleetIndex builds a fleet index preloaded with the given things.
func NewMemoryFleetIndex(things ...domain.FleetThing) *MemoryFleetIndex {
	return &MemoryFleetIndex{things: things, inactive: map[string]bool{}}
}

// Add registers more things.
func (m *MemoryFleetIndex) Add(things ...domain.FleetThing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.things = append(m.things, things...)
}

// Search implements FleetIndex. Tokens are plain offsets.
func (m *MemoryFleetIndex) Search(ctx context.Context, q FleetQuery, pageSize int, nextToken string) (*FleetPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := 0
	if nextToken != "" {
		n, err := strconv.Atoi(nextToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: malformed page token", domain.ErrInvalidArgument)
		}
		offset = n
	}

	var matched []domain.FleetThing
	for _, thing := range m.things {
		if m.matches(thing, q) {
			matched = append(matched, thing)
		}
	}

	page := &FleetPage{}
	if offset >= len(matched) {
		return page, nil
	}
	end := min(offset+pageSize, len(matched))
	page.Things = matched[offset:end]
	if end < len(matched) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// Find implements FleetIndex.
func (m *MemoryFleetIndex) Find(ctx context.Context, scope Scope, name string) (*domain.FleetThing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, thing := range m.things {
		if thing.Name != name {
			continue
		}
		if scope.Provider != "" && thing.Provider != scope.Provider {
			continue
		}
		if scope.Organization != "" && thing.Organization != scope.Organization {
			continue
		}
		found := thing
		return &found, nil
	}
	return nil, nil
}

// SetActive implements FleetIndex.
func (m *MemoryFleetIndex) SetActive(ctx context.Context, name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactive[name] = !active
	return nil
}

// Inactive reports whether a device sits in the deactivated group.
func (m *MemoryFleetIndex) Inactive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inactive[name]
}

func (m *MemoryFleetIndex) matches(thing domain.FleetThing, q FleetQuery) bool {
	if thing.RegistrationWay == "" {
		return false
	}
	if q.Scope.Provider != "" && thing.Provider != q.Scope.Provider {
		return false
	}
	if q.Scope.Organization != "" && thing.Organization != q.Scope.Organization {
		return false
	}
	if q.NamePrefix != "" && !strings.HasPrefix(thing.Name, q.NamePrefix) {
		return false
	}
	if q.Project != "" && thing.Project != q.Project {
		return false
	}
	if q.SchemaID != "" && thing.SchemaID != q.SchemaID {
		return false
	}
	if q.Connected != nil {
		connected := thing.Connectivity != nil && thing.Connectivity.Connected
		if connected != *q.Connected {
			return false
		}
	}
	if q.Label == domain.LabelDeactivated {
		return m.inactive[thing.Name]
	}
	if m.inactive[thing.Name] {
		return false
	}
	return q.Label == "" || thing.Label == q.Label
}

// MemoryLedger is an in-memory Ledger for tests and offline runs.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*domain.LedgerRecord
}

// NewMemoryLedger builds a ledger preloaded with the given records.
func NewMemoryLedger(records ...domain.LedgerRecord) *MemoryLedger {
	m := &MemoryLedger{records: map[string]*domain.LedgerRecord{}}
	m.Put(records...)
	return m
}

// Put upserts records.
func (m *MemoryLedger) Put(records ...domain.LedgerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		stored := record
		m.records[record.Serial] = &stored
	}
}

// ListUnprovisioned implements Ledger. Records page in serial order using the
// same base64 key encoding as the DynamoDB ledger.
func (m *MemoryLedger) ListUnprovisioned(ctx context.Context, q LedgerQuery, limit int, startKey string) (*LedgerPage, error) {
	after, err := serialFromPageKey(startKey)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	serials := make([]string, 0, len(m.records))
	for serial := range m.records {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	page := &LedgerPage{}
	for _, serial := range serials {
		if after != "" && serial <= after {
			continue
		}
		record := m.records[serial]
		if !m.matches(record, q) {
			continue
		}
		page.Records = append(page.Records, *record)
		if len(page.Records) >= limit {
			page.NextKey = encodePageKey(serial)
			break
		}
	}
	return page, nil
}

// Find implements Ledger.
func (m *MemoryLedger) Find(ctx context.Context, scope Scope, serial string) (*domain.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[serial]
	if !ok || !inScope(record, scope) {
		return nil, nil
	}
	found := *record
	return &found, nil
}

// BatchGet implements Ledger.
func (m *MemoryLedger) BatchGet(ctx context.Context, scope Scope, serials []string) (map[string]*domain.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make(map[string]*domain.LedgerRecord, len(serials))
	for _, serial := range serials {
		if record, ok := m.records[serial]; ok && inScope(record, scope) {
			found := *record
			records[serial] = &found
		}
	}
	return records, nil
}

// UpdateLabel implements Ledger.
func (m *MemoryLedger) UpdateLabel(ctx context.Context, serial string, label domain.CustomLabel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[serial]
	if !ok {
		return fmt.Errorf("%w: device %s", domain.ErrNotFound, serial)
	}
	record.Label = label
	return nil
}

// ListOrganizations implements Ledger.
func (m *MemoryLedger) ListOrganizations(ctx context.Context, provider string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for _, record := range m.records {
		if provider != "" && record.Provider != provider {
			continue
		}
		if record.Organization != "" {
			seen[record.Organization] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

// ListProjects implements Ledger.
func (m *MemoryLedger) ListProjects(ctx context.Context, scope Scope) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for _, record := range m.records {
		if !inScope(record, scope) {
			continue
		}
		if record.Project != "" {
			seen[record.Project] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (m *MemoryLedger) matches(record *domain.LedgerRecord, q LedgerQuery) bool {
	if record.ProvisioningStatus != nil {
		return false
	}
	if !inScope(record, q.Scope) {
		return false
	}
	if q.SerialPrefix != "" && !strings.HasPrefix(record.Serial, q.SerialPrefix) {
		return false
	}
	if q.Label != "" && record.Label != q.Label {
		return false
	}
	if q.Project != "" && record.Project != q.Project {
		return false
	}
	if q.SchemaID != "" && record.SchemaID != q.SchemaID {
		return false
	}
	return true
}

func serialFromPageKey(startKey string) (string, error) {
	if startKey == "" {
		return "", nil
	}
	key, err := decodePageKey(startKey)
	if err != nil {
		return "", err
	}
	if s, ok := key["serialNumber"].(*types.AttributeValueMemberS); ok {
		return s.Value, nil
	}
	return "", fmt.Errorf("%w: malformed page key", domain.ErrInvalidArgument)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
