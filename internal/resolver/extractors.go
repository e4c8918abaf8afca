package resolver

import (
	"regexp"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/textmatch"
)

var retrievalPatterns = []struct {
	re   *regexp.Regexp
	kind RetrievalKind
}{
	{regexp.MustCompile(`\b(?:reports?|results?|executions?|history|histories)\b`), RetrieveReports},
	{regexp.MustCompile(`\b(?:devices?|machines?|systems?)\b`), RetrieveDevices},
	{regexp.MustCompile(`\b(?:audits?|checks?|scans?)\b`), RetrieveAudits},
}

func aliasEntity(in *Input) (Entity, bool) {
	for _, a := range in.Snapshot.Aliases() {
		if textmatch.ContainsPhrase(in.Text, a.Key) {
			return NewEntity(AuditName(a.Canonical), aliasConfidence), true
		}
	}
	return Entity{}, false
}

func deviceEntities(in *Input) []Entity {
	var out []Entity
	for _, d := range in.Snapshot.DeviceEntries() {
		if textmatch.ContainsPhrase(in.Text, d.Key) {
			out = append(out, NewEntity(DeviceName(d.Device.Name), deviceConfidence))
			break
		}
	}
	for _, c := range in.Snapshot.DeviceCategories() {
		if textmatch.ContainsPhrase(in.Text, c.Key) {
			out = append(out, NewEntity(DeviceCategory(c.Label), deviceConfidence))
			break
		}
	}
	return out
}

func timeRangeEntity(in *Input) (Entity, bool) {
	tr, ok := parseTimeRange(in.Text)
	if !ok {
		return Entity{}, false
	}
	return NewEntity(tr, timeRangeConfidence), true
}

func retrievalKindEntity(in *Input) Entity {
	for _, p := range retrievalPatterns {
		if p.re.MatchString(in.Text) {
			return NewEntity(p.kind, retrievalConfidence)
		}
	}
	return NewEntity(RetrieveAudits, defaultRetrievalConf)
}

// ExtractAlias matches the alias table against text.
func ExtractAlias(snap *catalog.Snapshot, text string) (Entity, bool) {
	return aliasEntity(newInput(text, snap))
}

// ExtractDevices returns at most one device name and one device category entity.
func ExtractDevices(snap *catalog.Snapshot, text string) []Entity {
	return deviceEntities(newInput(text, snap))
}

func ExtractTimeRange(text string) (TimeRange, bool) {
	return parseTimeRange(textmatch.Normalize(text))
}

func ExtractRetrievalKind(text string) (RetrievalKind, float64) {
	e := retrievalKindEntity(&Input{Text: textmatch.Normalize(text)})
	return e.Value.(RetrievalKind), e.Confidence
}
