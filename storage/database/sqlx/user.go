package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/user"
)

const userColumns = `id, name, username, email, avatar, availability, gems, is_active, roles,
	password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"gems":       "gems",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        string         `db:"email"`
	Avatar       string         `db:"avatar"`
	Availability string         `db:"availability"`
	Gems         int            `db:"gems"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (r userRow) user() user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email,
		Avatar:       r.Avatar,
		Availability: r.Availability,
		Gems:         r.Gems,
		Roles:        []string(r.Roles),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    r.LastLogin.Time.UTC(),
	}
	usr.SetActive(r.IsActive)
	return usr
}

func toUsers(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users
}

type UserRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*UserRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (repo *UserRepository) CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	excluded := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, u.ID)
	}

	var rows []struct {
		Username null.String `db:"username"`
		Email    string      `db:"email"`
	}
	q := `SELECT username, email FROM "user"
		WHERE (($1 <> '' AND username = $1) OR email = $2) AND NOT (id = ANY($3::uuid[]))
		LIMIT 2`
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, username, email, pq.Array(excluded)); err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			return user.ErrUsernameExists
		}
		if r.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *UserRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	isActive := usr.IsActive == nil || *usr.IsActive
	q := `INSERT INTO "user" (name, username, email, avatar, availability, is_active, roles, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + userColumns

	var row userRow
	err := sqlx.GetContext(ctx, repo.db, &row, q,
		usr.Name,
		null.NewString(usr.Username, usr.Username != ""),
		usr.Email,
		usr.Avatar,
		usr.Availability,
		isActive,
		pq.Array(usr.Roles),
		usr.PasswordHash,
		usr.CreatedAt.UTC(),
		usr.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return user.User{}, core.NewValidationError(user.ErrEmailExists, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.user(), nil
}

func (repo *UserRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil && !filter.IsEmpty() {
		filter.Clean()
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			where = append(where, fmt.Sprintf("(name ILIKE %[1]s OR username ILIKE %[1]s OR email ILIKE %[1]s)", p))
		}
		if len(filter.Roles) > 0 {
			where = append(where, "roles && "+arg(pq.Array(filter.Roles)))
		}
		if filter.IsActive != nil {
			where = append(where, "is_active = "+arg(*filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			where = append(where, "created_at >= "+arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			where = append(where, "created_at <= "+arg(filter.CreatedTo.UTC()))
		}
	}

	q := `SELECT ` + userColumns + ` FROM "user"`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering, userOrderings, "created_at DESC")

	var rows []userRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return toUsers(rows), nil
}

func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback string) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := allowed[ord.Field]; ok {
			clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(clauses) == 0 {
		return fallback
	}
	return strings.Join(clauses, ", ")
}

func (repo *UserRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	q := `SELECT ` + userColumns + ` FROM "user" WHERE `
	var arg string
	switch {
	case filter.ID != "":
		q += "id = $1"
		arg = filter.ID
	case filter.Username != "":
		q += "username = $1"
		arg = filter.Username
	case filter.Email != "":
		q += "email = $1"
		arg = filter.Email
	case filter.UsernameOrEmail != "":
		q += "(username = $1 OR email = $1)"
		arg = filter.UsernameOrEmail
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := sqlx.GetContext(ctx, repo.db, &row, q+" LIMIT 1", arg); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.user(), nil
}

func (repo *UserRepository) GetUsersByID(ctx context.Context, ids ...string) ([]user.User, error) {
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "user" WHERE id = ANY($1::uuid[]) ORDER BY name`
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "getting users")
	}
	return toUsers(rows), nil
}

func (repo *UserRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	isActive := usr.IsActive == nil || *usr.IsActive
	q := `UPDATE "user" SET name = $2, username = $3, email = $4, avatar = $5, availability = $6,
			is_active = $7, roles = $8, password_hash = $9, updated_at = $10, last_login = $11
		WHERE id = $1
		RETURNING ` + userColumns

	var row userRow
	err := sqlx.GetContext(ctx, repo.db, &row, q,
		usr.ID,
		usr.Name,
		null.NewString(usr.Username, usr.Username != ""),
		usr.Email,
		usr.Avatar,
		usr.Availability,
		isActive,
		pq.Array(usr.Roles),
		usr.PasswordHash,
		usr.UpdatedAt.UTC(),
		null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return row.user(), nil
}

func (repo *UserRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting users")
}
