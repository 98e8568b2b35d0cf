package roster

import (
	"context"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
)

var (
	// errors
	ErrNotTherapist       = core.NewPermissionError("only therapists can manage a patient roster")
	ErrPatientNotFound    = core.NewNotFoundError("patient not found")
	ErrAlreadyLinked      = core.NewConflictError("this patient is already in your roster")
	ErrTherapistAsPatient = core.NewPermissionError("a therapist cannot be added as a patient")
	ErrNotLinked          = core.NewNotFoundError("patient not found in your roster")
)

const activeWindow = 7 * 24 * time.Hour

type (
	Repository interface {
		// CreateLink returns ErrAlreadyLinked when the pair already exists.
		CreateLink(ctx context.Context, link Link) (Link, error)
		// GetLink returns ErrNotLinked when the pair does not exist.
		GetLink(ctx context.Context, therapistID, patientID string) (Link, error)
		DeleteLink(ctx context.Context, therapistID, patientID string) (int, error)
		QueryLinks(ctx context.Context, therapistID string) ([]Link, error) // oldest first
		// QueryPatientStates returns the mission states of every given patient, keyed by patient id.
		QueryPatientStates(ctx context.Context, patientIDs ...string) (map[string][]mission.State, error)
	}

	// MissionReader is the part of the mission ledger a roster reads from.
	MissionReader interface {
		Catalog(ctx context.Context) ([]mission.Mission, error)
		Progress(ctx context.Context, userID string) (mission.Progress, error)
		History(ctx context.Context, userID string, limit int) ([]mission.Result, error)
		Weekly(ctx context.Context, userID string) ([]mission.DayActivity, error)
		Journey(ctx context.Context, userID string) ([]mission.MapEntry, error)
	}

	ServiceInterface interface {
		LinkPatient(ctx context.Context, therapist user.User, candidate string) (Link, error)
		UnlinkPatient(ctx context.Context, therapist user.User, patientID string) error
		ListPatients(ctx context.Context, therapistID string) ([]Patient, error)
		Roster(ctx context.Context, therapistID string) (Overview, error)
		PatientDetails(ctx context.Context, therapistID, patientID string) (Details, error)
	}

	Service struct {
		repo     Repository
		users    user.ServiceInterface
		missions MissionReader
		mailSvc  core.EmailService
		conf     *core.Config
		logger   core.Logger
		now      func() time.Time
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	users user.ServiceInterface,
	missions MissionReader,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		missions: missions,
		mailSvc:  mailSvc,
		conf:     conf,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// resolve finds the candidate account by id or email.
func (svc *Service) resolve(ctx context.Context, candidate string) (user.User, error) {
	candidate = core.CleanString(candidate)
	var (
		usr user.User
		err error
	)
	if core.IsUUID(candidate) {
		usr, err = svc.users.GetByID(ctx, candidate)
	} else if strings.Contains(candidate, "@") {
		usr, err = svc.users.GetByEmail(ctx, candidate)
	} else {
		return user.User{}, ErrPatientNotFound
	}
	if err != nil {
		if core.IsNotFound(err) {
			return user.User{}, ErrPatientNotFound
		}
		return user.User{}, err
	}
	return usr, nil
}

// LinkPatient adds the candidate (id or email) to the therapist's roster and notifies them.
func (svc *Service) LinkPatient(ctx context.Context, therapist user.User, candidate string) (Link, error) {
	if !therapist.IsTherapist() {
		return Link{}, ErrNotTherapist
	}

	patient, err := svc.resolve(ctx, candidate)
	if err != nil {
		return Link{}, err
	}

	if _, err = svc.repo.GetLink(ctx, therapist.ID, patient.ID); err == nil {
		return Link{}, ErrAlreadyLinked
	} else if errors.Cause(err) != ErrNotLinked {
		return Link{}, errors.Wrap(err, "getting link")
	}

	if patient.IsTherapist() || patient.ID == therapist.ID {
		return Link{}, ErrTherapistAsPatient
	}

	link, err := svc.repo.CreateLink(ctx, Link{
		TherapistID: therapist.ID,
		PatientID:   patient.ID,
		CreatedAt:   svc.now(),
	})
	if err != nil {
		return Link{}, err
	}

	svc.logger.Info("patient linked", map[string]interface{}{
		"therapist_id": therapist.ID,
		"patient_id":   patient.ID,
	})
	svc.notifyLinked(therapist, patient)
	return link, nil
}

func (svc *Service) notifyLinked(therapist, patient user.User) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: patient.Name, Address: patient.Email}},
		Subject:      "You joined " + therapist.Name + "'s care team",
		TemplateName: "patient_linked",
		TemplateData: map[string]interface{}{
			"PatientName":   patient.Name,
			"TherapistName": therapist.Name,
		},
	}
	msg.SetFrontendBaseURL(svc.conf.FrontendBaseURL)
	svc.mailSvc.SendMessages(msg)
}

func (svc *Service) UnlinkPatient(ctx context.Context, therapist user.User, patientID string) error {
	if !therapist.IsTherapist() {
		return ErrNotTherapist
	}
	if !core.IsUUID(patientID) {
		return ErrNotLinked
	}
	n, err := svc.repo.DeleteLink(ctx, therapist.ID, patientID)
	if err != nil {
		return errors.Wrap(err, "deleting link")
	}
	if n == 0 {
		return ErrNotLinked
	}
	return nil
}

func (svc *Service) linkedPatients(ctx context.Context, therapistID string) ([]Link, map[string]user.User, error) {
	links, err := svc.repo.QueryLinks(ctx, therapistID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying links")
	}
	if len(links) == 0 {
		return links, map[string]user.User{}, nil
	}

	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.PatientID)
	}
	users, err := svc.users.GetManyByID(ctx, ids...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting patients")
	}
	byID := make(map[string]user.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return links, byID, nil
}

func (svc *Service) ListPatients(ctx context.Context, therapistID string) ([]Patient, error) {
	links, users, err := svc.linkedPatients(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	patients := make([]Patient, 0, len(links))
	for _, l := range links {
		if usr, ok := users[l.PatientID]; ok {
			patients = append(patients, newPatient(usr))
		}
	}
	return patients, nil
}

// Roster computes every linked patient's progress, each from that patient's states alone.
func (svc *Service) Roster(ctx context.Context, therapistID string) (Overview, error) {
	links, users, err := svc.linkedPatients(ctx, therapistID)
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{Patients: make([]PatientProgress, 0, len(links))}
	if len(links) == 0 {
		return ov, nil
	}

	catalog, err := svc.missions.Catalog(ctx)
	if err != nil {
		return Overview{}, errors.Wrap(err, "querying catalog")
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.PatientID)
	}
	states, err := svc.repo.QueryPatientStates(ctx, ids...)
	if err != nil {
		return Overview{}, errors.Wrap(err, "querying patient states")
	}

	for _, l := range links {
		usr, ok := users[l.PatientID]
		if !ok {
			continue
		}
		ov.Patients = append(ov.Patients, PatientProgress{
			Patient:  newPatient(usr),
			Progress: mission.Summarize(states[l.PatientID], catalog),
			LinkedAt: l.CreatedAt,
		})
	}
	sortByLastActivity(ov.Patients)
	ov.Stats = summarizeRoster(ov.Patients, svc.now())
	return ov, nil
}

func summarizeRoster(patients []PatientProgress, now time.Time) Stats {
	st := Stats{TotalPatients: len(patients)}
	if st.TotalPatients == 0 {
		return st
	}

	var rateSum float64
	for _, p := range patients {
		rateSum += p.CompletionRate
		st.TotalGems += p.Gems
		if p.TotalMissions > 0 && p.CompletedMissions == p.TotalMissions {
			st.CompletedAll++
		}
		if p.LastActivity != nil && now.Sub(*p.LastActivity) <= activeWindow {
			st.ActiveThisWeek++
		}
	}
	st.AverageCompletion = int(math.Round(rateSum / float64(st.TotalPatients)))
	st.AverageGems = int(math.Round(float64(st.TotalGems) / float64(st.TotalPatients)))
	return st
}

// PatientDetails returns a linked patient's journey. Unlinked patients are reported as not found.
func (svc *Service) PatientDetails(ctx context.Context, therapistID, patientID string) (Details, error) {
	if !core.IsUUID(patientID) {
		return Details{}, ErrNotLinked
	}
	if _, err := svc.repo.GetLink(ctx, therapistID, patientID); err != nil {
		return Details{}, err
	}

	usr, err := svc.users.GetByID(ctx, patientID)
	if err != nil {
		if core.IsNotFound(err) {
			return Details{}, ErrNotLinked
		}
		return Details{}, err
	}

	d := Details{Patient: newPatient(usr)}
	if d.Progress, err = svc.missions.Progress(ctx, patientID); err != nil {
		return Details{}, err
	}
	if d.Journey, err = svc.missions.Journey(ctx, patientID); err != nil {
		return Details{}, err
	}
	if d.History, err = svc.missions.History(ctx, patientID, svc.conf.Ledger.HistoryLimit); err != nil {
		return Details{}, err
	}
	if d.Weekly, err = svc.missions.Weekly(ctx, patientID); err != nil {
		return Details{}, err
	}
	return d, nil
}

// sortByLastActivity orders patients most recently active first; inactive patients go last.
func sortByLastActivity(patients []PatientProgress) {
	sort.SliceStable(patients, func(i, j int) bool {
		a, b := patients[i].LastActivity, patients[j].LastActivity
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
