package resolver

import (
	"strconv"

	"github.com/audit-agent/backend/internal/storage/models"
)

type Kind string

const (
	KindAuditID        Kind = "audit_id"
	KindAuditName      Kind = "audit_name"
	KindAuditCategory  Kind = "audit_category"
	KindDeviceName     Kind = "device_name"
	KindDeviceCategory Kind = "device_category"
	KindTimeRange      Kind = "time_range"
	KindRetrievalKind  Kind = "retrieval_kind"
)

// Value is the closed set of extracted entity values. Only types in this
// package implement it.
type Value interface {
	kind() Kind
	String() string
}

type AuditID int

type AuditName string

type AuditCategory string

type DeviceName string

type DeviceCategory string

type RetrievalKind string

const (
	RetrieveAudits  RetrievalKind = "audits"
	RetrieveDevices RetrievalKind = "devices"
	RetrieveReports RetrievalKind = "reports"
)

func (AuditID) kind() Kind        { return KindAuditID }
func (AuditName) kind() Kind      { return KindAuditName }
func (AuditCategory) kind() Kind  { return KindAuditCategory }
func (DeviceName) kind() Kind     { return KindDeviceName }
func (DeviceCategory) kind() Kind { return KindDeviceCategory }
func (TimeRange) kind() Kind      { return KindTimeRange }
func (RetrievalKind) kind() Kind  { return KindRetrievalKind }

func (v AuditID) String() string        { return strconv.Itoa(int(v)) }
func (v AuditName) String() string      { return string(v) }
func (v AuditCategory) String() string  { return string(v) }
func (v DeviceName) String() string     { return string(v) }
func (v DeviceCategory) String() string { return string(v) }
func (v RetrievalKind) String() string  { return string(v) }

type Entity struct {
	Kind       Kind    `json:"kind"`
	Value      Value   `json:"value"`
	Confidence float64 `json:"confidence"`
}

func NewEntity(v Value, confidence float64) Entity {
	return Entity{Kind: v.kind(), Value: v, Confidence: confidence}
}

// IsIdentifying reports whether the entity names an audit or an audit category.
func (e Entity) IsIdentifying() bool {
	switch e.Kind {
	case KindAuditID, KindAuditName, KindAuditCategory:
		return true
	}
	return false
}

type ResultKind string

const (
	SpecificAudit         ResultKind = "specific_audit"
	CategoryClarification ResultKind = "category_clarification"
	NoMatch               ResultKind = "no_match"
	NoData                ResultKind = "no_data"
)

// Result is the outcome of one resolution. Entities holds at most one entity
// per kind.
type Result struct {
	Kind       ResultKind     `json:"kind"`
	Matched    bool           `json:"matched"`
	Stage      string         `json:"stage,omitempty"`
	Entities   []Entity       `json:"entities"`
	Audit      *models.Audit  `json:"audit,omitempty"`
	Category   string         `json:"category,omitempty"`
	Candidates []models.Audit `json:"candidates,omitempty"`
}

func (r Result) Entity(kind Kind) (Entity, bool) {
	for _, e := range r.Entities {
		if e.Kind == kind {
			return e, true
		}
	}
	return Entity{}, false
}

func (r Result) Has(kind Kind) bool {
	_, ok := r.Entity(kind)
	return ok
}

func (r Result) AuditID() (int, bool) {
	e, ok := r.Entity(KindAuditID)
	if !ok {
		return 0, false
	}
	return int(e.Value.(AuditID)), true
}

func (r Result) AuditName() (string, bool) {
	e, ok := r.Entity(KindAuditName)
	if !ok {
		return "", false
	}
	return string(e.Value.(AuditName)), true
}

func (r Result) AuditCategory() (string, bool) {
	e, ok := r.Entity(KindAuditCategory)
	if !ok {
		return "", false
	}
	return string(e.Value.(AuditCategory)), true
}

func (r Result) DeviceName() (string, bool) {
	e, ok := r.Entity(KindDeviceName)
	if !ok {
		return "", false
	}
	return string(e.Value.(DeviceName)), true
}

func (r Result) DeviceCategory() (string, bool) {
	e, ok := r.Entity(KindDeviceCategory)
	if !ok {
		return "", false
	}
	return string(e.Value.(DeviceCategory)), true
}

func (r Result) TimeRange() (TimeRange, bool) {
	e, ok := r.Entity(KindTimeRange)
	if !ok {
		return TimeRange{}, false
	}
	return e.Value.(TimeRange), true
}

// RetrievalKind returns the requested retrieval kind and its confidence.
func (r Result) RetrievalKind() (RetrievalKind, float64) {
	e, ok := r.Entity(KindRetrievalKind)
	if !ok {
		return RetrieveAudits, 0
	}
	return e.Value.(RetrievalKind), e.Confidence
}

// RetrievalKindExplicit reports whether the text named what to retrieve
// rather than falling back to audits.
func (r Result) RetrievalKindExplicit() bool {
	e, ok := r.Entity(KindRetrievalKind)
	return ok && e.Confidence > defaultRetrievalConf
}

// Confidence is the highest confidence among identifying entities.
func (r Result) Confidence() float64 {
	best := 0.0
	for _, e := range r.Entities {
		if e.IsIdentifying() && e.Confidence > best {
			best = e.Confidence
		}
	}
	return best
}

func (r *Result) add(e Entity) {
	if r.Has(e.Kind) {
		return
	}
	r.Entities = append(r.Entities, e)
}

func noMatch() Result {
	return Result{Kind: NoMatch, Entities: []Entity{}}
}

func noData() Result {
	return Result{Kind: NoData, Entities: []Entity{}}
}

func specific(audit models.Audit, confidence float64) Result {
	a := audit
	return Result{
		Kind:    SpecificAudit,
		Matched: true,
		Audit:   &a,
		Entities: []Entity{
			NewEntity(AuditID(audit.ID), confidence),
			NewEntity(AuditName(audit.Name), confidence),
		},
	}
}

func clarification(category string, audits []models.Audit, confidence float64) Result {
	return Result{
		Kind:       CategoryClarification,
		Matched:    true,
		Category:   category,
		Candidates: audits,
		Entities:   []Entity{NewEntity(AuditCategory(category), confidence)},
	}
}
