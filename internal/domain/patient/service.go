package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/platform/fhir"
)

// Input is the flat request shape for creating or updating a patient.
// Empty fields leave the stored value unchanged on update.
type Input struct {
	Identifier string `json:"identifier"`
	NameFirst  string `json:"name_first"`
	NameLast   string `json:"name_last"`
	Gender     string `json:"gender"`
	BirthDate  string `json:"birth_date"`
	Active     *bool  `json:"active"`
}

// Resource is the Patient resource shape accepted on input.
type Resource struct {
	ResourceType string            `json:"resourceType"`
	Identifier   []fhir.Identifier `json:"identifier"`
	Active       *bool             `json:"active"`
	Name         []fhir.HumanName  `json:"name"`
	Gender       string            `json:"gender"`
	BirthDate    string            `json:"birthDate"`
}

// FromResource translates a Patient resource into the flat input shape.
func FromResource(r Resource) (Input, error) {
	if r.ResourceType != "Patient" {
		return Input{}, fhir.Invalid("resourceType", "expected Patient")
	}
	in := Input{Gender: r.Gender, BirthDate: r.BirthDate, Active: r.Active}
	if len(r.Identifier) > 0 {
		in.Identifier = r.Identifier[0].Value
	}
	if len(r.Name) > 0 {
		in.NameLast = r.Name[0].Family
		if len(r.Name[0].Given) > 0 {
			in.NameFirst = r.Name[0].Given[0]
		}
	}
	return in, nil
}

// DecodeInput accepts either the flat shape or a Patient resource.
func DecodeInput(body []byte) (Input, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Input{}, fhir.Invalid("body", "request body must be a JSON object")
	}
	if head.ResourceType != "" {
		var r Resource
		if err := json.Unmarshal(body, &r); err != nil {
			return Input{}, fhir.Invalid("body", err.Error())
		}
		return FromResource(r)
	}
	var in Input
	if err := json.Unmarshal(body, &in); err != nil {
		return Input{}, fhir.Invalid("body", err.Error())
	}
	return in, nil
}

// PAT-<n> identifiers are minted at provisioning; a client may only keep its own.
var reservedIdentifier = regexp.MustCompile(`^PAT-[0-9]+$`)

func (in Input) apply(p *Patient, now time.Time) error {
	ve := &fhir.ValidationError{}
	if in.Identifier != "" {
		switch {
		case len(in.Identifier) > 100:
			ve.Add("identifier", fhir.IssueTypeValue, "must be at most 100 characters")
		case reservedIdentifier.MatchString(in.Identifier) && in.Identifier != DefaultIdentifier(p.AccountID):
			ve.Add("identifier", fhir.IssueTypeValue, "PAT-<n> identifiers are reserved for provisioned accounts")
		default:
			p.Identifier = in.Identifier
		}
	}
	if len(in.NameFirst) > 100 {
		ve.Add("name_first", fhir.IssueTypeValue, "must be at most 100 characters")
	} else if in.NameFirst != "" {
		p.NameFirst = in.NameFirst
	}
	if len(in.NameLast) > 100 {
		ve.Add("name_last", fhir.IssueTypeValue, "must be at most 100 characters")
	} else if in.NameLast != "" {
		p.NameLast = in.NameLast
	}
	if in.Gender != "" {
		if !validGenders[in.Gender] {
			ve.Add("gender", fhir.IssueTypeCodeInvalid, "must be one of male, female, other, unknown")
		} else {
			p.Gender = in.Gender
		}
	}
	if in.BirthDate != "" {
		bd, err := time.Parse(DateLayout, in.BirthDate)
		switch {
		case err != nil:
			ve.Add("birth_date", fhir.IssueTypeValue, "must be a date in YYYY-MM-DD form")
		case bd.After(now):
			ve.Add("birth_date", fhir.IssueTypeValue, "cannot be in the future")
		default:
			p.BirthDate = bd
		}
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	return ve.OrNil()
}

// Profile carries the demographic defaults used when provisioning.
type Profile struct {
	NameFirst string
	NameLast  string
	BirthDate time.Time
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// EnsureForAccount returns the account's patient, creating it from prof with
// gender unknown and a PAT-<account id> identifier when absent. Concurrent
// callers converge on one row.
func (s *Service) EnsureForAccount(ctx context.Context, accountID int64, prof Profile) (*Patient, error) {
	if accountID <= 0 {
		return nil, fmt.Errorf("account id is required")
	}
	p := &Patient{
		AccountID:  accountID,
		Identifier: DefaultIdentifier(accountID),
		Active:     true,
		NameFirst:  prof.NameFirst,
		NameLast:   prof.NameLast,
		Gender:     GenderUnknown,
		BirthDate:  prof.BirthDate,
	}
	if p.BirthDate.IsZero() {
		p.BirthDate = truncateDay(s.now())
	}
	got, _, err := s.repo.CreateIfAbsent(ctx, p)
	if errors.Is(err, ErrDuplicateID) {
		// Rows written before identifiers were reserved may hold our default.
		p.Identifier = fmt.Sprintf("%s-%s", DefaultIdentifier(accountID), uuid.NewString()[:8])
		got, _, err = s.repo.CreateIfAbsent(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("ensure patient for account %d: %w", accountID, err)
	}
	return got, nil
}

// Create makes the caller's patient profile explicitly. Fails with
// ErrAlreadyExists if one exists.
func (s *Service) Create(ctx context.Context, accountID int64, in Input) (*Patient, error) {
	p := &Patient{
		AccountID:  accountID,
		Identifier: DefaultIdentifier(accountID),
		Active:     true,
		Gender:     GenderUnknown,
		BirthDate:  truncateDay(s.now()),
	}
	if err := in.apply(p, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetForAccount(ctx context.Context, accountID int64) (*Patient, error) {
	return s.repo.GetByAccount(ctx, accountID)
}

// GetOwned returns the patient only when it belongs to accountID.
func (s *Service) GetOwned(ctx context.Context, accountID int64, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, accountID int64, id uuid.UUID, in Input) (*Patient, error) {
	p, err := s.GetOwned(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(p, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
