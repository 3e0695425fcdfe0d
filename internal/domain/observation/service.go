package observation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/domain/provenance"
	"github.com/postpartum/tracker/internal/platform/db"
	"github.com/postpartum/tracker/internal/platform/fhir"
)

// Recorder appends audit entries; it must join the transaction in ctx.
type Recorder interface {
	Record(ctx context.Context, e provenance.Entry) (*provenance.Provenance, error)
}

type Service struct {
	repo  Repository
	tx    db.Transactor
	audit Recorder
	now   func() time.Time
}

func NewService(repo Repository, tx db.Transactor, audit Recorder) *Service {
	return &Service{repo: repo, tx: tx, audit: audit, now: time.Now}
}

func (s *Service) record(ctx context.Context, o *Observation, action, reason string) error {
	_, err := s.audit.Record(ctx, provenance.Entry{
		TargetType: provenance.TargetObservation,
		TargetID:   o.ID,
		PatientID:  o.PatientID,
		Action:     action,
		Reason:     reason,
	})
	return err
}

// Create stores an observation for patientID together with its create entry.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, in Input) (*Observation, error) {
	now := s.now()
	d, err := Translate(in, now, true)
	if err != nil {
		return nil, err
	}
	o := d.newObservation(patientID, now)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}
		return s.record(ctx, o, provenance.ActionCreate, provenance.ReasonCreated)
	})
	if err != nil {
		return nil, fmt.Errorf("create observation: %w", err)
	}
	return o, nil
}

// Get returns the observation only when it belongs to patientID.
func (s *Service) Get(ctx context.Context, patientID, id uuid.UUID) (*Observation, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PatientID != patientID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) Update(ctx context.Context, patientID, id uuid.UUID, in Input) (*Observation, error) {
	d, err := Translate(in, s.now(), false)
	if err != nil {
		return nil, err
	}

	var o *Observation
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.Get(ctx, patientID, id); err != nil {
			return err
		}
		if err := d.applyTo(o); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}
		return s.record(ctx, o, provenance.ActionUpdate, provenance.ReasonUpdated)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Delete removes the observation. Its audit trail, including the delete
// entry, is kept.
func (s *Service) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.Get(ctx, patientID, id)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, o.ID); err != nil {
			return err
		}
		return s.record(ctx, o, provenance.ActionDelete, provenance.ReasonDeleted)
	})
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Observation, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// SymptomResult reports what a bulk log created and which keys it skipped.
type SymptomResult struct {
	Created []*Observation
	Skipped []string
}

// LogSymptoms creates one final observation per known key, all at the given
// severity (default 5) and the current time, in a single transaction.
// Unknown keys are skipped.
func (s *Service) LogSymptoms(ctx context.Context, patientID uuid.UUID, keys []string, severity *float64) (*SymptomResult, error) {
	value := DefaultSeverity
	if severity != nil {
		value = fhir.RoundDecimal(*severity, 2)
	}
	if value < MinValue || value > MaxValue {
		return nil, (&fhir.ValidationError{}).Add("severity", fhir.IssueTypeValue, "must be between 0 and 10")
	}

	now := s.now()
	res := &SymptomResult{}
	var pending []*Observation
	for _, key := range keys {
		sym, ok := LookupKey(key)
		if !ok {
			res.Skipped = append(res.Skipped, key)
			continue
		}
		pending = append(pending, &Observation{
			PatientID:         patientID,
			Status:            StatusFinal,
			Category:          CategoryVitalSigns,
			Code:              sym.Code,
			CodeDisplay:       sym.Display,
			Value:             value,
			Unit:              SymptomUnit,
			EffectiveDateTime: now,
		})
	}
	if len(pending) == 0 {
		return res, nil
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, o := range pending {
			if err := s.repo.Create(ctx, o); err != nil {
				return err
			}
			if err := s.record(ctx, o, provenance.ActionCreate, provenance.ReasonSymptomTracker); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("log symptoms: %w", err)
	}
	res.Created = pending
	return res, nil
}
