package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/storage/models"
)

func ciscoCatalog() *catalog.Catalog {
	return catalog.FromData(catalog.Data{
		Audits: []models.Audit{
			{ID: 16, Name: "Cisco Audit New", Category: "Network", DeviceCategories: []string{"Router"}},
		},
	})
}

func labCatalog() *catalog.Catalog {
	return catalog.FromData(catalog.Data{
		Audits: []models.Audit{
			{ID: 3, Name: "Check Listening Ports", Category: "Network", DeviceCategories: []string{"Server"}},
			{ID: 16, Name: "Cisco Audit New", Category: "Network", DeviceCategories: []string{"Router"}},
			{ID: 21, Name: "Switch MAC Table", Category: "Switching", DeviceCategories: []string{"Switch"}},
		},
		Devices: []models.Device{
			{ID: 1, Name: "edge-router", Category: "Router"},
			{ID: 2, Name: "web-01", Category: "Server"},
		},
		Aliases: catalog.AliasTable{
			{Audit: "Switch MAC Table", Aliases: []string{"learned MACs", "mac address table"}},
		},
	})
}

func TestResolveAuditIDScenario(t *testing.T) {
	r := New(ciscoCatalog())

	res := r.Resolve("run audit 16")

	require.True(t, res.Matched)
	assert.Equal(t, SpecificAudit, res.Kind)
	assert.Equal(t, "audit_id", res.Stage)
	assert.Equal(t, []Entity{
		NewEntity(AuditID(16), 1.0),
		NewEntity(AuditName("Cisco Audit New"), 1.0),
	}, res.Entities)
	require.NotNil(t, res.Audit)
	assert.Equal(t, 16, res.Audit.ID)
}

func TestResolveCategoryScenario(t *testing.T) {
	r := New(ciscoCatalog())

	res := r.Resolve("show network audits")

	require.True(t, res.Matched)
	assert.Equal(t, CategoryClarification, res.Kind)
	assert.Equal(t, "exact_category", res.Stage)
	assert.Equal(t, "Network", res.Category)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Cisco Audit New", res.Candidates[0].Name)

	cat, ok := res.AuditCategory()
	require.True(t, ok)
	assert.Equal(t, "Network", cat)
	assert.Equal(t, 1.0, res.Confidence())
}

func TestResolveEmptyCatalog(t *testing.T) {
	r := New(catalog.New(catalog.StaticSource{}))

	for _, text := range []string{"run audit 16", "", "hello"} {
		res := r.Resolve(text)
		assert.Equal(t, NoData, res.Kind, text)
		assert.False(t, res.Matched)
		assert.Empty(t, res.Entities)
	}
}

func TestResolveAuditIDVariants(t *testing.T) {
	r := New(labCatalog())

	tests := []struct {
		text string
		want int
	}{
		{"audit 16", 16},
		{"Run Audit-16!!", 16},
		{"audit id 3", 3},
		{"show id 3 please", 3},
		{"execute 16", 16},
		{"launch audit 21", 21},
		{"start 3", 3},
		{"the 16th audit", 16},
		{"3rd audit", 3},
		// first pattern that resolves wins, even if a later pattern also would
		{"id 16 or audit 3", 3},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res := r.Resolve(tt.text)
			require.Equal(t, SpecificAudit, res.Kind)
			assert.Equal(t, "audit_id", res.Stage)
			id, ok := res.AuditID()
			require.True(t, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestResolveUnknownIDFallsThrough(t *testing.T) {
	r := New(ciscoCatalog())

	res := r.Resolve("run audit 99 cisco new")

	require.Equal(t, SpecificAudit, res.Kind)
	assert.Equal(t, "fuzzy_name", res.Stage)
	id, _ := res.AuditID()
	assert.Equal(t, 16, id)
	assert.InDelta(t, 0.85, res.Confidence(), 1e-9)
}

func TestResolveExactName(t *testing.T) {
	r := New(labCatalog())

	res := r.Resolve("please run Check Listening-Ports now")

	require.Equal(t, SpecificAudit, res.Kind)
	assert.Equal(t, "exact_name", res.Stage)
	name, _ := res.AuditName()
	assert.Equal(t, "Check Listening Ports", name)
}

func TestResolveFuzzyNeedsHalfTheWords(t *testing.T) {
	r := New(catalog.FromData(catalog.Data{
		Audits: []models.Audit{{ID: 1, Name: "Alpha Bravo Charlie Delta", Category: "Network"}},
	}))

	res := r.Resolve("alpha zzz")

	assert.Equal(t, NoMatch, res.Kind)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Entities)

	res = r.Resolve("alpha brav")
	require.Equal(t, SpecificAudit, res.Kind)
	assert.InDelta(t, 0.85*0.5, res.Confidence(), 1e-9)
}

func TestResolveExactCategoryBeatsFuzzyName(t *testing.T) {
	r := New(catalog.FromData(catalog.Data{
		Audits: []models.Audit{{ID: 1, Name: "Router Security Audit", Category: "Network"}},
	}))

	res := r.Resolve("show network routr securty")

	assert.Equal(t, CategoryClarification, res.Kind)
	assert.Equal(t, "exact_category", res.Stage)
}

func TestResolveFuzzyTieKeepsCatalogOrder(t *testing.T) {
	r := New(catalog.FromData(catalog.Data{
		Audits: []models.Audit{
			{ID: 1, Name: "Port Scan", Category: "Network"},
			{ID: 2, Name: "Port Check", Category: "Security"},
		},
	}))

	res := r.Resolve("port")

	require.Equal(t, SpecificAudit, res.Kind)
	id, _ := res.AuditID()
	assert.Equal(t, 1, id)
	assert.InDelta(t, 0.425, res.Confidence(), 1e-9)
}

func TestResolveFuzzyPrefersBestScore(t *testing.T) {
	r := New(catalog.FromData(catalog.Data{
		Audits: []models.Audit{
			{ID: 1, Name: "Port Scan", Category: "Network"},
			{ID: 2, Name: "Port Status Check", Category: "Security"},
		},
	}))

	res := r.Resolve("prt statu chek")

	require.Equal(t, SpecificAudit, res.Kind)
	id, _ := res.AuditID()
	assert.Equal(t, 2, id)
}

func TestResolveFuzzyCategory(t *testing.T) {
	r := New(ciscoCatalog())

	res := r.Resolve("netwrk stuff")

	require.Equal(t, CategoryClarification, res.Kind)
	assert.Equal(t, "fuzzy_category", res.Stage)
	assert.InDelta(t, 0.85, res.Confidence(), 1e-9)
	assert.Len(t, res.Candidates, 1)
}

func TestResolveNoMatch(t *testing.T) {
	r := New(ciscoCatalog())

	res := r.Resolve("what is the weather")

	assert.Equal(t, NoMatch, res.Kind)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Entities)
}

func TestResolveAllCombinesExtractors(t *testing.T) {
	r := New(labCatalog())

	res := r.ResolveAll("show reports for cisco audit new on edge-router last week")

	require.Equal(t, SpecificAudit, res.Kind)
	id, _ := res.AuditID()
	assert.Equal(t, 16, id)

	device, ok := res.DeviceName()
	require.True(t, ok)
	assert.Equal(t, "edge-router", device)

	devCat, ok := res.DeviceCategory()
	require.True(t, ok)
	assert.Equal(t, "Router", devCat)

	tr, ok := res.TimeRange()
	require.True(t, ok)
	assert.Equal(t, UnitWeek, tr.Unit)
	assert.Equal(t, -7, tr.DayOffset)

	kind, conf := res.RetrievalKind()
	assert.Equal(t, RetrieveReports, kind)
	assert.Equal(t, 0.90, conf)
	assert.True(t, res.RetrievalKindExplicit())

	e, _ := res.Entity(KindDeviceName)
	assert.Equal(t, 0.85, e.Confidence)
	e, _ = res.Entity(KindTimeRange)
	assert.Equal(t, 0.90, e.Confidence)
}

func TestResolveAllAliasFillsGap(t *testing.T) {
	r := New(labCatalog())

	assert.Equal(t, NoMatch, r.Resolve("show learned macs").Kind)

	res := r.ResolveAll("show learned macs")
	require.Equal(t, SpecificAudit, res.Kind)
	assert.Equal(t, "alias", res.Stage)
	name, _ := res.AuditName()
	assert.Equal(t, "Switch MAC Table", name)
	assert.Equal(t, 0.80, res.Confidence())
	assert.False(t, res.RetrievalKindExplicit())
}

func TestResolveAllEmptyCatalogStillExtractsTime(t *testing.T) {
	r := New(catalog.New(catalog.StaticSource{}))

	res := r.ResolveAll("reports from yesterday")

	assert.Equal(t, NoData, res.Kind)
	assert.True(t, res.Has(KindTimeRange))
	kind, _ := res.RetrievalKind()
	assert.Equal(t, RetrieveReports, kind)
}

func TestExtractAliasAndDevices(t *testing.T) {
	snap := labCatalog().Snapshot()

	e, ok := ExtractAlias(snap, "the MAC address table please")
	require.True(t, ok)
	assert.Equal(t, AuditName("Switch MAC Table"), e.Value)
	assert.Equal(t, KindAuditName, e.Kind)

	devices := ExtractDevices(snap, "status of web-01")
	require.Len(t, devices, 1)
	assert.Equal(t, DeviceName("web-01"), devices[0].Value)

	devices = ExtractDevices(snap, "all server machines")
	require.Len(t, devices, 1)
	assert.Equal(t, DeviceCategory("Server"), devices[0].Value)
}

func TestExtractRetrievalKind(t *testing.T) {
	tests := []struct {
		text string
		kind RetrievalKind
		conf float64
	}{
		{"show audit history", RetrieveReports, 0.90},
		{"list the devices", RetrieveDevices, 0.90},
		{"which checks exist", RetrieveAudits, 0.90},
		{"hello there", RetrieveAudits, 0.50},
	}
	for _, tt := range tests {
		kind, conf := ExtractRetrievalKind(tt.text)
		assert.Equal(t, tt.kind, kind, tt.text)
		assert.Equal(t, tt.conf, conf, tt.text)
	}
}

func TestStrategyOrder(t *testing.T) {
	r := New(ciscoCatalog())
	assert.Equal(t, []string{"audit_id", "exact_name", "exact_category", "fuzzy_name", "fuzzy_category"}, r.Strategies())
}
