package provenance

import (
	"context"
	"fmt"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

// Service appends and lists audit entries.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends one entry. Callers run it inside the same transaction as the
// mutation it describes.
func (s *Service) Record(ctx context.Context, e Entry) (*Provenance, error) {
	ve := &fhir.ValidationError{}
	if !validTargets[e.TargetType] {
		ve.Add("target_type", fhir.IssueTypeCodeInvalid, "unsupported target type "+e.TargetType)
	}
	if !validActions[e.Action] {
		ve.Add("action", fhir.IssueTypeCodeInvalid, "unsupported action "+e.Action)
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	p := &Provenance{
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		PatientID:  e.PatientID,
		Action:     e.Action,
		Reason:     e.Reason,
	}
	if err := s.repo.Append(ctx, p); err != nil {
		return nil, fmt.Errorf("record %s %s/%s: %w", e.Action, e.TargetType, e.TargetID, err)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Provenance, int, error) {
	if f.TargetType != "" && !validTargets[f.TargetType] {
		return nil, 0, fhir.Invalid("target", "unsupported target type "+f.TargetType)
	}
	return s.repo.List(ctx, f, limit, offset)
}
