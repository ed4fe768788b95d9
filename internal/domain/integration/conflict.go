package integration

// Conflict is a mapped field whose external (source) and local (target)
// values disagree.
type Conflict struct {
	Field       string `json:"field"`
	SourceValue string `json:"source_value"`
	TargetValue string `json:"target_value"`
}

// DetectConflicts compares the mapped fields of an incoming record with the
// stored one and returns one Conflict per differing field, in mapped-field
// order. A nil existing record has no conflicts.
func DetectConflicts(incoming, existing *ExternalRecord) []Conflict {
	if incoming == nil || existing == nil {
		return nil
	}
	var conflicts []Conflict
	for _, field := range incoming.EntityType.MappedFields() {
		src, tgt := incoming.Field(field), existing.Field(field)
		if src != tgt {
			conflicts = append(conflicts, Conflict{Field: field, SourceValue: src, TargetValue: tgt})
		}
	}
	return conflicts
}

// Resolution is the outcome a ConflictResolver picks
type Resolution string

const (
	// ResolutionApplySource overwrites the local record with the external one
	ResolutionApplySource Resolution = "apply_source"
	// ResolutionKeepTarget leaves the local record untouched
	ResolutionKeepTarget Resolution = "keep_target"
)

// ConflictResolver decides how to settle detected conflicts
type ConflictResolver interface {
	Resolve(incoming, existing *ExternalRecord, conflicts []Conflict) Resolution
}

// LastWriteWinsResolver always applies the external value
type LastWriteWinsResolver struct{}

// Resolve implements ConflictResolver
func (LastWriteWinsResolver) Resolve(_, _ *ExternalRecord, _ []Conflict) Resolution {
	return ResolutionApplySource
}

// MostRecentWinsResolver applies the external value only when it was
// modified after the stored copy.
type MostRecentWinsResolver struct{}

// Resolve implements ConflictResolver
func (MostRecentWinsResolver) Resolve(incoming, existing *ExternalRecord, _ []Conflict) Resolution {
	if existing == nil || incoming.ExternalUpdatedAt.After(existing.ExternalUpdatedAt) {
		return ResolutionApplySource
	}
	return ResolutionKeepTarget
}

var (
	_ ConflictResolver = LastWriteWinsResolver{}
	_ ConflictResolver = MostRecentWinsResolver{}
)

// ItemConflict reports the conflicts found on one item during a run
type ItemConflict struct {
	ExternalID string     `json:"external_id"`
	EntityType EntityType `json:"entity_type"`
	Conflicts  []Conflict `json:"conflicts"`
	Resolution Resolution `json:"resolution"`
}
