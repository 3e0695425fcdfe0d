package questionnaire

import (
	"context"
	"errors"
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
	questionnaires QuestionnaireRepository
	responses      ResponseRepository
	tx             db.Transactor
	audit          Recorder
	now            func() time.Time
}

func NewService(q QuestionnaireRepository, r ResponseRepository, tx db.Transactor, audit Recorder) *Service {
	return &Service{questionnaires: q, responses: r, tx: tx, audit: audit, now: time.Now}
}

// -- Questionnaire --

func (s *Service) CreateQuestionnaire(ctx context.Context, in QuestionnaireInput) (*Questionnaire, error) {
	q := &Questionnaire{Version: "1.0", Status: "draft"}
	if err := in.apply(q, true); err != nil {
		return nil, err
	}
	if err := s.questionnaires.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) GetQuestionnaire(ctx context.Context, id uuid.UUID) (*Questionnaire, error) {
	return s.questionnaires.GetByID(ctx, id)
}

func (s *Service) UpdateQuestionnaire(ctx context.Context, id uuid.UUID, in QuestionnaireInput) (*Questionnaire, error) {
	q, err := s.questionnaires.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(q, false); err != nil {
		return nil, err
	}
	if err := s.questionnaires.Update(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) ListQuestionnaires(ctx context.Context, limit, offset int) ([]*Questionnaire, int, error) {
	return s.questionnaires.List(ctx, limit, offset)
}

// EnsureDefault seeds the default questionnaire if it is missing.
func (s *Service) EnsureDefault(ctx context.Context) (*Questionnaire, error) {
	q, err := s.questionnaires.CreateIfAbsent(ctx, Default())
	if err != nil {
		return nil, fmt.Errorf("seed default questionnaire: %w", err)
	}
	return q, nil
}

// -- QuestionnaireResponse --

func (s *Service) record(ctx context.Context, r *Response, action, reason string) error {
	_, err := s.audit.Record(ctx, provenance.Entry{
		TargetType: provenance.TargetQuestionnaireResponse,
		TargetID:   r.ID,
		PatientID:  r.PatientID,
		Action:     action,
		Reason:     reason,
	})
	return err
}

// checkQuestionnaire turns a missing questionnaire into a field error.
func (s *Service) checkQuestionnaire(ctx context.Context, id uuid.UUID) error {
	if _, err := s.questionnaires.GetByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return (&fhir.ValidationError{}).Add("questionnaire", fhir.IssueTypeNotFound, "questionnaire does not exist")
		}
		return err
	}
	return nil
}

// CreateResponse stores a response owned by patientID with its create entry.
func (s *Service) CreateResponse(ctx context.Context, patientID uuid.UUID, in ResponseInput) (*Response, error) {
	now := s.now()
	d, err := TranslateResponse(in, now, true)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		QuestionnaireID: d.QuestionnaireID,
		PatientID:       patientID,
		Status:          ResponseInProgress,
		Authored:        now,
		Items:           d.Items,
	}
	if d.Status != "" {
		resp.Status = d.Status
	}
	if d.Authored != nil {
		resp.Authored = *d.Authored
	}
	if resp.Items == nil {
		resp.Items = []Item{}
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.checkQuestionnaire(ctx, resp.QuestionnaireID); err != nil {
			return err
		}
		if err := s.responses.Create(ctx, resp); err != nil {
			return err
		}
		return s.record(ctx, resp, provenance.ActionCreate, provenance.ReasonCreated)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetResponse returns the response only when it belongs to patientID.
func (s *Service) GetResponse(ctx context.Context, patientID, id uuid.UUID) (*Response, error) {
	resp, err := s.responses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if resp.PatientID != patientID {
		return nil, ErrResponseNotFound
	}
	return resp, nil
}

// UpdateResponse merges status, authored and questionnaire; items are
// replaced when the input carries them.
func (s *Service) UpdateResponse(ctx context.Context, patientID, id uuid.UUID, in ResponseInput) (*Response, error) {
	d, err := TranslateResponse(in, s.now(), false)
	if err != nil {
		return nil, err
	}

	var resp *Response
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if resp, err = s.GetResponse(ctx, patientID, id); err != nil {
			return err
		}
		if d.QuestionnaireID != uuid.Nil && d.QuestionnaireID != resp.QuestionnaireID {
			if err := s.checkQuestionnaire(ctx, d.QuestionnaireID); err != nil {
				return err
			}
			resp.QuestionnaireID = d.QuestionnaireID
		}
		if d.Status != "" {
			resp.Status = d.Status
		}
		if d.Authored != nil {
			resp.Authored = *d.Authored
		}
		if d.ReplaceItems {
			resp.Items = d.Items
		}
		if err := s.responses.Update(ctx, resp, d.ReplaceItems); err != nil {
			return err
		}
		return s.record(ctx, resp, provenance.ActionUpdate, provenance.ReasonUpdated)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) DeleteResponse(ctx context.Context, patientID, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		resp, err := s.GetResponse(ctx, patientID, id)
		if err != nil {
			return err
		}
		if err := s.responses.Delete(ctx, resp.ID); err != nil {
			return err
		}
		return s.record(ctx, resp, provenance.ActionDelete, provenance.ReasonDeleted)
	})
}

func (s *Service) ListResponses(ctx context.Context, f ResponseFilter, limit, offset int) ([]*Response, int, error) {
	return s.responses.List(ctx, f, limit, offset)
}
