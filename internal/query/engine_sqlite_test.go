package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/resolver"
	"github.com/audit-agent/backend/internal/router"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/internal/storage/sqlite"
)

func newSQLiteEngine(t *testing.T) (*Engine, *sqlite.Client) {
	t.Helper()
	st, err := sqlite.NewClient(filepath.Join(t.TempDir(), "audits.db"))
	require.NoError(t, err)
	require.NoError(t, st.InitSchema())
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for i := range testAudits {
		require.NoError(t, st.UpsertAudit(ctx, &testAudits[i]))
	}
	for i := range testDevices {
		require.NoError(t, st.UpsertDevice(ctx, &testDevices[i]))
	}

	cat := catalog.FromData(catalog.Data{Audits: testAudits, Devices: testDevices})
	e := NewEngine(st, resolver.New(cat))
	e.now = func() time.Time { return time.Date(2024, time.May, 15, 10, 0, 0, 0, time.UTC) }
	return e, st
}

func TestHistoryCountsBeyondStoreLimit(t *testing.T) {
	e, st := newSQLiteEngine(t)
	ctx := context.Background()

	base := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		_, err := st.InsertReport(ctx, &models.Report{
			AuditID:       16,
			DeviceID:      1,
			AuditName:     "Cisco Audit New",
			DeviceName:    "core-router",
			ExecutionTime: base.Add(time.Duration(i) * time.Minute),
			Status:        models.ReportSuccess,
		})
		require.NoError(t, err)
	}
	_, err := st.InsertReport(ctx, &models.Report{
		AuditID: 3, DeviceID: 3, AuditName: "Firewall Rules Audit", DeviceName: "edge-fw",
		ExecutionTime: base, Status: models.ReportSuccess,
	})
	require.NoError(t, err)

	reply, err := e.Handle(ctx, dispatch(router.ActionGetAuditHistory, "show audit history for audit 16"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Found 120 reports matching your criteria.")
	assert.Contains(t, reply, "... and 110 more reports.")
	assert.Contains(t, reply, "Report 120\n", "newest first")
	assert.NotContains(t, reply, "Firewall Rules Audit")
}

func TestCountReportsIgnoresLimit(t *testing.T) {
	_, st := newSQLiteEngine(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := st.InsertReport(ctx, &models.Report{
			AuditID: 3, DeviceID: 3, AuditName: "Firewall Rules Audit", DeviceName: "edge-fw",
			ExecutionTime: time.Unix(int64(1700000000+i), 0), Status: models.ReportFailed,
		})
		require.NoError(t, err)
	}

	n, err := st.CountReports(ctx, models.ReportFilter{AuditCategory: "security", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	n, err = st.CountReports(ctx, models.ReportFilter{Status: models.ReportSuccess})
	require.NoError(t, err)
	assert.Zero(t, n)
}
