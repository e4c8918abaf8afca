package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/resolver"
	"github.com/audit-agent/backend/internal/router"
	"github.com/audit-agent/backend/internal/storage/models"
)

var (
	testAudits = []models.Audit{
		{ID: 3, Name: "Firewall Rules Audit", Category: "Security", DeviceCategories: []string{"firewall"}},
		{ID: 5, Name: "Router Security Check", Category: "Security", Description: "Checks router hardening", DeviceCategories: []string{"router"}},
		{ID: 16, Name: "Cisco Audit New", Category: "Network", DeviceCategories: []string{"router", "switch"}},
	}
	testDevices = []models.Device{
		{ID: 1, Name: "core-router", Category: "router"},
		{ID: 2, Name: "access-switch", Category: "switch"},
		{ID: 3, Name: "edge-fw", Category: "firewall"},
	}
)

type fakeStore struct {
	reports    []models.Report
	lastFilter models.ReportFilter
	err        error
}

func (f *fakeStore) ListAudits(ctx context.Context) ([]models.Audit, error) {
	return testAudits, f.err
}

func (f *fakeStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	return testDevices, f.err
}

func (f *fakeStore) ListReports(ctx context.Context, rf models.ReportFilter) ([]models.Report, error) {
	f.lastFilter = rf
	if rf.Limit > 0 && rf.Limit < len(f.reports) {
		return f.reports[:rf.Limit], f.err
	}
	return f.reports, f.err
}

func (f *fakeStore) CountReports(ctx context.Context, rf models.ReportFilter) (int, error) {
	return len(f.reports), f.err
}

func newTestEngine(store *fakeStore) *Engine {
	cat := catalog.FromData(catalog.Data{Audits: testAudits, Devices: testDevices})
	e := NewEngine(store, resolver.New(cat))
	e.now = func() time.Time { return time.Date(2024, time.May, 15, 10, 0, 0, 0, time.UTC) }
	return e
}

func dispatch(action, msg string) router.Dispatch {
	return router.Dispatch{Target: router.TargetRetrieval, Action: action, Message: msg, SessionID: "s1"}
}

func TestListAuditsGroupsByCategory(t *testing.T) {
	e := newTestEngine(&fakeStore{})

	reply, err := e.Handle(context.Background(), dispatch(router.ActionListAudits, "what audits do you have"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Found 3 audits in 2 categories.")
	assert.Contains(t, reply, "Security (2):\n  3. Firewall Rules Audit\n  5. Router Security Check - Checks router hardening")
	assert.Contains(t, reply, "Network (1):\n  16. Cisco Audit New")
	assert.Less(t, strings.Index(reply, "Security"), strings.Index(reply, "Network"))
}

func TestListAuditsCanListDevices(t *testing.T) {
	e := newTestEngine(&fakeStore{})

	reply, err := e.Handle(context.Background(), dispatch(router.ActionListAudits, "list the devices"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Found 3 devices matching your criteria.")
	assert.Contains(t, reply, "1. core-router\n   Category: router")
}

func TestAuditsByCategory(t *testing.T) {
	e := newTestEngine(&fakeStore{})

	reply, err := e.Handle(context.Background(), dispatch(router.ActionGetAuditsByCategory, "show security audits"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Found 2 audits matching your criteria.")
	assert.Contains(t, reply, "Filters: category Security")
	assert.Contains(t, reply, "5. Router Security Check\nCategory: Security\nDescription: Checks router hardening\nCompatible Devices: router")
	assert.NotContains(t, reply, "Cisco Audit New")
}

func TestAuditsByDeviceCategory(t *testing.T) {
	e := newTestEngine(&fakeStore{})

	reply, err := e.Handle(context.Background(), dispatch(router.ActionGetAuditsByCategory, "which audits support switch"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Found 1 audits matching your criteria.")
	assert.Contains(t, reply, "16. Cisco Audit New")
}

func TestHistoryDefaultsToReports(t *testing.T) {
	base := time.Date(2024, time.May, 14, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{reports: []models.Report{
		{ID: 9, AuditName: "Cisco Audit New", DeviceName: "core-router", Status: models.ReportSuccess, ExecutionTime: base, Summary: "AUDIT: Cisco Audit New"},
		{ID: 8, AuditName: "Cisco Audit New", DeviceName: "access-switch", Status: models.ReportFailed, ExecutionTime: base, ErrorMessage: "exit 1"},
	}}
	e := newTestEngine(store)

	reply, err := e.Handle(context.Background(), dispatch(router.ActionGetAuditHistoryFiltered, "what happened to id 16 on core-router yesterday"))
	require.NoError(t, err)

	assert.Equal(t, 16, store.lastFilter.AuditID)
	assert.Equal(t, "core-router", store.lastFilter.DeviceName)
	assert.Empty(t, store.lastFilter.DeviceCategory, "device name wins over its category")
	assert.Equal(t, time.Date(2024, time.May, 14, 0, 0, 0, 0, time.UTC), store.lastFilter.Since)
	assert.Equal(t, time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC), store.lastFilter.Until)

	assert.Contains(t, reply, "Found 2 reports matching your criteria.")
	assert.Contains(t, reply, "Filters: audit 16 (Cisco Audit New), device core-router, period yesterday")
	assert.Contains(t, reply, "Report 9\n   Audit: Cisco Audit New\n   Device: core-router\n   Status: success\n   Executed: 2024-05-14 09:00:00")
	assert.Contains(t, reply, "   Error: exit 1")
}

func TestHistoryTruncatesLongListings(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 13; i++ {
		store.reports = append(store.reports, models.Report{ID: int64(100 - i), AuditName: fmt.Sprintf("a%d", i), Status: models.ReportSuccess})
	}
	e := newTestEngine(store)

	reply, err := e.Handle(context.Background(), dispatch(router.ActionGetAuditHistory, "show the history"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Found 13 reports")
	assert.Contains(t, reply, "... and 3 more reports.")
	assert.NotContains(t, reply, "Report 90")
	assert.Equal(t, maxReportsShown, store.lastFilter.Limit)
}

func TestHistoryEmpty(t *testing.T) {
	e := newTestEngine(&fakeStore{})

	reply, err := e.Handle(context.Background(), dispatch(router.ActionGetAuditHistory, "security runs last week"))
	require.NoError(t, err)
	assert.Contains(t, reply, "No reports found matching your criteria.")
	assert.Contains(t, reply, "Filters: category Security, period last week")
}

func TestBuildFilter(t *testing.T) {
	e := newTestEngine(&fakeStore{})
	cat := catalog.FromData(catalog.Data{Audits: testAudits, Devices: testDevices})
	r := resolver.New(cat)

	tests := []struct {
		name   string
		action string
		text   string
		kind   resolver.RetrievalKind
	}{
		{"history default", router.ActionGetAuditHistory, "anything for core-router", resolver.RetrieveReports},
		{"history explicit devices", router.ActionGetAuditHistory, "which devices ran audit 5", resolver.RetrieveDevices},
		{"list default", router.ActionListAudits, "what can you do", resolver.RetrieveAudits},
		{"category explicit reports", router.ActionGetAuditsByCategory, "security reports", resolver.RetrieveReports},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := e.BuildFilter(tt.action, r.ResolveAll(tt.text))
			assert.Equal(t, tt.kind, f.Kind)
		})
	}
}

func TestStoreError(t *testing.T) {
	e := newTestEngine(&fakeStore{err: errors.New("db locked")})

	_, err := e.Handle(context.Background(), dispatch(router.ActionGetAuditHistory, "show reports"))
	assert.ErrorContains(t, err, "db locked")
}
