package roster_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/roster"
	"github.com/trezcool/rehabquest/core/user"
	emailsvc "github.com/trezcool/rehabquest/services/email"
	inmemdb "github.com/trezcool/rehabquest/storage/database/inmem"
	"github.com/trezcool/rehabquest/testutil"
)

type fixture struct {
	svc         *roster.Service
	missionSvc  *mission.Service
	mailSvc     *emailsvc.ConsoleServiceMock
	userRepo    user.Repository
	missionRepo mission.Repository
	rosterRepo  roster.Repository
}

func setup(t *testing.T) fixture {
	conf := testutil.Config()
	logger := testutil.Logger(conf)
	core.ParseEmailTemplates(conf, logger)

	db := inmemdb.Open()
	f := fixture{
		mailSvc:     emailsvc.NewConsoleServiceMock(conf, logger),
		userRepo:    inmemdb.NewUserRepository(db),
		missionRepo: inmemdb.NewMissionRepository(db),
		rosterRepo:  inmemdb.NewRosterRepository(db),
	}
	f.missionSvc = mission.NewService(f.missionRepo, logger)
	f.svc = roster.NewService(f.rosterRepo, user.NewService(f.userRepo), f.missionSvc, f.mailSvc, conf, logger)
	return f
}

func (f fixture) links(t *testing.T, therapistID string) []roster.Link {
	links, err := f.rosterRepo.QueryLinks(context.Background(), therapistID)
	require.NoError(t, err)
	return links
}

func TestService_LinkPatient(t *testing.T) {
	ctx := context.Background()

	t.Run("by id", func(t *testing.T) {
		f := setup(t)
		therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		link, err := f.svc.LinkPatient(ctx, therapist, patient.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, link.ID)
		assert.Equal(t, therapist.ID, link.TherapistID)
		assert.Equal(t, patient.ID, link.PatientID)
		assert.False(t, link.CreatedAt.IsZero())

		sent := f.mailSvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, patient.Email, sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, "Hi Pat")
		assert.Contains(t, sent[0].TextContent, "Dr Mbuyi added you")
		assert.Contains(t, sent[0].HTMLContent, "Dr Mbuyi")
	})

	t.Run("by email", func(t *testing.T) {
		f := setup(t)
		therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		link, err := f.svc.LinkPatient(ctx, therapist, "  PAT@test.cd ")
		require.NoError(t, err)
		assert.Equal(t, patient.ID, link.PatientID)
	})

	t.Run("requester is not a therapist", func(t *testing.T) {
		f := setup(t)
		requester := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		other := testutil.CreatePatient(t, f.userRepo, "Other", "other@test.cd")

		_, err := f.svc.LinkPatient(ctx, requester, other.ID)
		assert.Equal(t, roster.ErrNotTherapist, errors.Cause(err))
		assert.True(t, core.IsPermission(err))
		assert.Empty(t, f.links(t, requester.ID))
	})

	tests := []struct {
		name      string
		candidate func(therapist, patient, colleague user.User) string
		wantErr   error
	}{
		{
			name:      "unknown id",
			candidate: func(_, _, _ user.User) string { return "6c1e1c6b-8d3c-4f6e-9a0e-3d2b8a7f9e10" },
			wantErr:   roster.ErrPatientNotFound,
		},
		{
			name:      "unknown email",
			candidate: func(_, _, _ user.User) string { return "nobody@test.cd" },
			wantErr:   roster.ErrPatientNotFound,
		},
		{
			name:      "neither id nor email",
			candidate: func(_, _, _ user.User) string { return "pat" },
			wantErr:   roster.ErrPatientNotFound,
		},
		{
			name:      "therapist as patient",
			candidate: func(_, _, colleague user.User) string { return colleague.ID },
			wantErr:   roster.ErrTherapistAsPatient,
		},
		{
			name:      "self",
			candidate: func(therapist, _, _ user.User) string { return therapist.Email },
			wantErr:   roster.ErrTherapistAsPatient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
			patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
			colleague := testutil.CreateTherapist(t, f.userRepo, "Dr Kabila", "kabila@test.cd")

			_, err := f.svc.LinkPatient(ctx, therapist, tt.candidate(therapist, patient, colleague))
			assert.Equal(t, tt.wantErr, errors.Cause(err))
			assert.Empty(t, f.links(t, therapist.ID), "no link must be created")
			assert.Empty(t, f.mailSvc.SentMessages(), "no notification must be sent")
		})
	}

	t.Run("already linked", func(t *testing.T) {
		f := setup(t)
		therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		_, err := f.svc.LinkPatient(ctx, therapist, patient.ID)
		require.NoError(t, err)
		_, err = f.svc.LinkPatient(ctx, therapist, patient.Email)
		assert.Equal(t, roster.ErrAlreadyLinked, errors.Cause(err))
		assert.True(t, core.IsConflict(err))

		assert.Len(t, f.links(t, therapist.ID), 1)
		assert.Len(t, f.mailSvc.SentMessages(), 1)
	})

	t.Run("patient shared by two therapists", func(t *testing.T) {
		f := setup(t)
		t1 := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
		t2 := testutil.CreateTherapist(t, f.userRepo, "Dr Kabila", "kabila@test.cd")
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		_, err := f.svc.LinkPatient(ctx, t1, patient.ID)
		require.NoError(t, err)
		_, err = f.svc.LinkPatient(ctx, t2, patient.ID)
		require.NoError(t, err)
	})
}

func TestService_UnlinkPatient(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
	patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

	_, err := f.svc.LinkPatient(ctx, therapist, patient.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.UnlinkPatient(ctx, therapist, patient.ID))
	assert.Empty(t, f.links(t, therapist.ID))

	err = f.svc.UnlinkPatient(ctx, therapist, patient.ID)
	assert.Equal(t, roster.ErrNotLinked, errors.Cause(err))

	err = f.svc.UnlinkPatient(ctx, patient, therapist.ID)
	assert.Equal(t, roster.ErrNotTherapist, errors.Cause(err))

	err = f.svc.UnlinkPatient(ctx, therapist, "lol")
	assert.Equal(t, roster.ErrNotLinked, errors.Cause(err))

	// the patient can be linked again
	_, err = f.svc.LinkPatient(ctx, therapist, patient.ID)
	assert.NoError(t, err)
}

func TestService_Roster(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		f := setup(t)
		therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")

		ov, err := f.svc.Roster(ctx, therapist.ID)
		require.NoError(t, err)
		assert.Empty(t, ov.Patients)
		assert.Equal(t, roster.Stats{}, ov.Stats)
	})

	t.Run("progress and stats", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20)
		therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
		p1 := testutil.CreatePatient(t, f.userRepo, "Amani", "amani@test.cd")
		p2 := testutil.CreatePatient(t, f.userRepo, "Baraka", "baraka@test.cd")
		stranger := testutil.CreatePatient(t, f.userRepo, "Chausiku", "chausiku@test.cd")

		for _, p := range []user.User{p1, p2} {
			_, err := f.svc.LinkPatient(ctx, therapist, p.ID)
			require.NoError(t, err)
		}

		// p1 completes everything; p2 only initializes; stranger is busy but not linked
		for _, id := range []string{p1.ID, p2.ID, stranger.ID} {
			require.NoError(t, f.missionSvc.Initialize(ctx, id))
		}
		for _, m := range missions {
			_, err := f.missionSvc.CompleteMission(ctx, p1.ID, m.ID, nil)
			require.NoError(t, err)
			_, err = f.missionSvc.CompleteMission(ctx, stranger.ID, m.ID, nil)
			require.NoError(t, err)
		}

		ov, err := f.svc.Roster(ctx, therapist.ID)
		require.NoError(t, err)
		require.Len(t, ov.Patients, 2)

		first, second := ov.Patients[0], ov.Patients[1]
		assert.Equal(t, p1.ID, first.ID, "most recently active first")
		assert.Equal(t, 2, first.CompletedMissions)
		assert.Equal(t, 2, first.TotalMissions)
		assert.Equal(t, float64(100), first.CompletionRate)
		assert.Equal(t, 30, first.Gems)
		assert.NotNil(t, first.LastActivity)

		assert.Equal(t, p2.ID, second.ID)
		assert.Equal(t, 0, second.CompletedMissions)
		assert.Equal(t, float64(0), second.CompletionRate)
		assert.Nil(t, second.LastActivity)

		assert.Equal(t, roster.Stats{
			TotalPatients:     2,
			ActiveThisWeek:    1,
			AverageCompletion: 50,
			CompletedAll:      1,
			TotalGems:         30,
			AverageGems:       15,
		}, ov.Stats)

		patients, err := f.svc.ListPatients(ctx, therapist.ID)
		require.NoError(t, err)
		assert.Len(t, patients, 2)
	})

	t.Run("other therapists see their own roster", func(t *testing.T) {
		f := setup(t)
		t1 := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
		t2 := testutil.CreateTherapist(t, f.userRepo, "Dr Kabila", "kabila@test.cd")
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		_, err := f.svc.LinkPatient(ctx, t1, patient.ID)
		require.NoError(t, err)

		ov, err := f.svc.Roster(ctx, t2.ID)
		require.NoError(t, err)
		assert.Empty(t, ov.Patients)
	})
}

func TestService_PatientDetails(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	missions := testutil.SeedMissions(t, f.missionRepo, 10, 20, 30)
	therapist := testutil.CreateTherapist(t, f.userRepo, "Dr Mbuyi", "mbuyi@test.cd")
	patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
	stranger := testutil.CreatePatient(t, f.userRepo, "Stranger", "stranger@test.cd")

	_, err := f.svc.PatientDetails(ctx, therapist.ID, patient.ID)
	assert.Equal(t, roster.ErrNotLinked, errors.Cause(err), "not linked yet")

	_, err = f.svc.PatientDetails(ctx, therapist.ID, "lol")
	assert.Equal(t, roster.ErrNotLinked, errors.Cause(err), "malformed id")

	_, err = f.svc.LinkPatient(ctx, therapist, patient.ID)
	require.NoError(t, err)
	require.NoError(t, f.missionSvc.Initialize(ctx, patient.ID))
	_, err = f.missionSvc.CompleteMission(ctx, patient.ID, missions[0].ID, core.IntPtr(60))
	require.NoError(t, err)

	d, err := f.svc.PatientDetails(ctx, therapist.ID, patient.ID)
	require.NoError(t, err)
	assert.Equal(t, patient.ID, d.Patient.ID)
	assert.Equal(t, 10, d.Patient.Gems)
	assert.Equal(t, 1, d.Progress.CompletedMissions)
	assert.Equal(t, 3, d.Progress.TotalMissions)
	assert.Len(t, d.Journey, 2)
	require.Len(t, d.History, 1)
	assert.Equal(t, core.IntPtr(60), d.History[0].DurationSeconds)
	assert.Len(t, d.Weekly, 7)
	var weekly int
	for _, day := range d.Weekly {
		weekly += day.Results
	}
	assert.Equal(t, 1, weekly)
	assert.WithinDuration(t, time.Now(), *d.Progress.LastActivity, time.Minute)

	_, err = f.svc.PatientDetails(ctx, therapist.ID, stranger.ID)
	assert.Equal(t, roster.ErrNotLinked, errors.Cause(err))
	assert.True(t, core.IsNotFound(err))
}
