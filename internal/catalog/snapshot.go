package catalog

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/internal/textmatch"
	"github.com/audit-agent/backend/pkg/utils"
)

// Data is the bulk reference data a snapshot is built from.
type Data struct {
	Audits  []models.Audit  `json:"audits"`
	Devices []models.Device `json:"devices"`
	Aliases AliasTable      `json:"aliases"`
}

// AuditEntry is an audit with its precomputed match keys.
type AuditEntry struct {
	Audit models.Audit
	Key   string
	Words []string
}

// CategoryEntry is a category label with its normalized match key.
type CategoryEntry struct {
	Label string
	Key   string
}

type DeviceEntry struct {
	Device models.Device
	Key    string
}

// AliasEntry maps one normalized synonym to a canonical audit name.
type AliasEntry struct {
	Key       string
	Canonical string
}

// Snapshot is an immutable, consistently indexed view of the catalog.
// All indices are built together in newSnapshot and never modified afterwards.
type Snapshot struct {
	audits           []AuditEntry
	devices          []DeviceEntry
	categories       []CategoryEntry
	deviceCategories []CategoryEntry
	aliases          []AliasEntry

	byID       map[int]int
	byName     map[string]int
	byCategory map[string][]int

	fingerprint string
	builtAt     time.Time
}

func emptySnapshot() *Snapshot {
	return newSnapshot(&Data{}, time.Time{})
}

func newSnapshot(data *Data, now time.Time) *Snapshot {
	s := &Snapshot{
		byID:       make(map[int]int, len(data.Audits)),
		byName:     make(map[string]int, len(data.Audits)),
		byCategory: make(map[string][]int),
		builtAt:    now,
	}

	for _, a := range data.Audits {
		name := nameKey(a.Name)
		if _, dup := s.byID[a.ID]; dup {
			continue
		}
		if _, dup := s.byName[name]; dup {
			continue
		}

		idx := len(s.audits)
		key := textmatch.Normalize(a.Name)
		s.audits = append(s.audits, AuditEntry{Audit: a, Key: key, Words: strings.Fields(key)})
		s.byID[a.ID] = idx
		s.byName[name] = idx

		cat := nameKey(a.Category)
		if cat == "" {
			continue
		}
		if _, seen := s.byCategory[cat]; !seen {
			s.categories = append(s.categories, CategoryEntry{Label: a.Category, Key: textmatch.Normalize(a.Category)})
		}
		s.byCategory[cat] = append(s.byCategory[cat], idx)
	}

	seenDeviceCat := map[string]bool{}
	for _, d := range data.Devices {
		s.devices = append(s.devices, DeviceEntry{Device: d, Key: textmatch.Normalize(d.Name)})
		cat := nameKey(d.Category)
		if cat == "" || seenDeviceCat[cat] {
			continue
		}
		seenDeviceCat[cat] = true
		s.deviceCategories = append(s.deviceCategories, CategoryEntry{Label: d.Category, Key: textmatch.Normalize(d.Category)})
	}

	for _, group := range data.Aliases {
		idx, ok := s.byName[nameKey(group.Audit)]
		if !ok {
			continue
		}
		canonical := s.audits[idx].Audit.Name
		for _, alias := range group.Aliases {
			if key := textmatch.Normalize(alias); key != "" {
				s.aliases = append(s.aliases, AliasEntry{Key: key, Canonical: canonical})
			}
		}
	}

	s.fingerprint = fingerprint(data)
	return s
}

func nameKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func fingerprint(data *Data) string {
	fields := make([]string, 0, len(data.Audits)+len(data.Devices)+len(data.Aliases))
	for _, a := range data.Audits {
		fields = append(fields, strconv.Itoa(a.ID), a.Name, a.Category, a.Description,
			strings.Join(a.DeviceCategories, ","), strings.Join(a.Tags, ","), a.ScriptPath)
	}
	for _, d := range data.Devices {
		fields = append(fields, strconv.Itoa(d.ID), d.Name, d.Category, d.Host, strconv.Itoa(d.Port))
	}
	for _, g := range data.Aliases {
		fields = append(fields, g.Audit, strings.Join(g.Aliases, ","))
	}
	return utils.Fingerprint(fields...)
}

func (s *Snapshot) IsEmpty() bool {
	return len(s.audits) == 0
}

func (s *Snapshot) Fingerprint() string {
	return s.fingerprint
}

func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// AuditEntries returns the audits in snapshot order. Callers must not modify the slice.
func (s *Snapshot) AuditEntries() []AuditEntry {
	return s.audits
}

func (s *Snapshot) Categories() []CategoryEntry {
	return s.categories
}

func (s *Snapshot) DeviceEntries() []DeviceEntry {
	return s.devices
}

func (s *Snapshot) DeviceCategories() []CategoryEntry {
	return s.deviceCategories
}

func (s *Snapshot) Aliases() []AliasEntry {
	return s.aliases
}

func (s *Snapshot) Audits() []models.Audit {
	out := make([]models.Audit, len(s.audits))
	for i, e := range s.audits {
		out[i] = e.Audit
	}
	return out
}

func (s *Snapshot) Devices() []models.Device {
	out := make([]models.Device, len(s.devices))
	for i, e := range s.devices {
		out[i] = e.Device
	}
	return out
}

// AuditNames returns display names in snapshot order.
func (s *Snapshot) AuditNames() []string {
	out := make([]string, len(s.audits))
	for i, e := range s.audits {
		out[i] = e.Audit.Name
	}
	return out
}

func (s *Snapshot) LookupByID(id int) (models.Audit, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return models.Audit{}, false
	}
	return s.audits[idx].Audit, true
}

func (s *Snapshot) LookupByName(name string) (models.Audit, bool) {
	idx, ok := s.byName[nameKey(name)]
	if !ok {
		return models.Audit{}, false
	}
	return s.audits[idx].Audit, true
}

// ByCategory returns the audits of a category in snapshot order.
func (s *Snapshot) ByCategory(category string) []models.Audit {
	idxs := s.byCategory[nameKey(category)]
	out := make([]models.Audit, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.audits[idx].Audit)
	}
	return out
}

// DevicesFor returns the devices an audit can run on, ordered by device id.
func (s *Snapshot) DevicesFor(audit models.Audit) []models.Device {
	var out []models.Device
	for _, e := range s.devices {
		if audit.SupportsDevice(e.Device.Category) {
			out = append(out, e.Device)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Data returns the records the snapshot was built from, suitable for caching.
func (s *Snapshot) Data() *Data {
	data := &Data{Audits: s.Audits(), Devices: s.Devices()}
	byCanonical := map[string]int{}
	for _, a := range s.aliases {
		idx, ok := byCanonical[a.Canonical]
		if !ok {
			idx = len(data.Aliases)
			byCanonical[a.Canonical] = idx
			data.Aliases = append(data.Aliases, AliasGroup{Audit: a.Canonical})
		}
		data.Aliases[idx].Aliases = append(data.Aliases[idx].Aliases, a.Key)
	}
	return data
}
