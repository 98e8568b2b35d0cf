package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/rehabquest/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Therapist
	RoleTherapist = "therapist:"

	// Patient
	RolePatient = "patient:"
)

// Account kinds, as chosen on sign-up.
const (
	KindPatient   = "patient"
	KindTherapist = "therapist"
)

// Availability preferences
const (
	AvailabilityDaily    = "daily"
	AvailabilityWeekdays = "weekdays"
	AvailabilityWeekends = "weekends"
	AvailabilityFlexible = "flexible"
)

var (
	AdminRoles     = []string{RoleAdmin, RoleAdminOwner}
	TherapistRoles = []string{RoleTherapist}
	PatientRoles   = []string{RolePatient}
	AllRoles       = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Therapists: 20 - 11
		RoleTherapist: 11,

		// Patients: 10 - 1
		RolePatient: 1,
	}

	Roles = []Role{
		{Name: "Patient", Value: RolePatient},
		{Name: "Therapist", Value: RoleTherapist},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}

	// Avatars are the warrior animals a patient can pick from.
	Avatars = []string{"🦅", "🐆", "🦙", "🦜", "🐺", "🦁"}

	Availabilities = []string{AvailabilityDaily, AvailabilityWeekdays, AvailabilityWeekends, AvailabilityFlexible}
)

func getAllRoles() []string {
	all := make([]string, 0, 4)
	all = append(all, AdminRoles...)
	all = append(all, TherapistRoles...)
	all = append(all, PatientRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// User is an account and its profile.
// Gems is the currency balance; it is only ever credited by the mission ledger.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Avatar       string    `json:"avatar"`
	Availability string    `json:"availability"`
	Gems         int       `json:"gems"`
	IsActive     *bool     `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) SetActive(active bool) {
	u.IsActive = &active
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsTherapist() bool {
	return u.RoleStartsWith(RoleTherapist)
}

// IsPatient reports whether the user follows missions: anyone who is neither therapist nor admin.
func (u *User) IsPatient() bool {
	return u.RoleStartsWith(RolePatient) || !(u.IsTherapist() || u.IsAdmin())
}

// Kind reports KindTherapist or KindPatient.
func (u *User) Kind() string {
	if u.IsTherapist() {
		return KindTherapist
	}
	return KindPatient
}

// NewUser contains information needed to sign up.
type NewUser struct {
	Name            string   `json:"name" validate:"required,notblank"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"required,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Avatar          string   `json:"avatar" validate:"omitempty,avatar"`
	Availability    string   `json:"availability" validate:"omitempty,oneof=daily weekdays weekends flexible"`
	Kind            string   `json:"role" validate:"omitempty,oneof=patient therapist"`
	Roles           []string `json:"-" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc ServiceInterface) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Kind = core.CleanString(nu.Kind, true /* lower */)
	if nu.Avatar == "" {
		nu.Avatar = Avatars[0]
	}
	if nu.Availability == "" {
		nu.Availability = AvailabilityDaily
	}
	if nu.Roles == nil {
		if nu.Kind == KindTherapist {
			nu.Roles = []string{RoleTherapist}
		} else {
			nu.Roles = []string{RolePatient}
		}
	}

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Gems are not editable.
type UpdateUser struct {
	Name            string   `json:"name"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Avatar          string   `json:"avatar" validate:"omitempty,avatar"`
	Availability    string   `json:"availability" validate:"omitempty,oneof=daily weekdays weekends flexible"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc ServiceInterface) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if uu.Avatar == "" {
		uu.Avatar = origUsr.Avatar
	}
	if uu.Availability == "" {
		uu.Availability = origUsr.Availability
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter selects a single User; the first non-empty field wins.
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}
