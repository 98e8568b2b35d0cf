package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.users))
	for _, u := range repo.db.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, u := range excludedUsers {
		if u.ID == usr.ID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, usr := range repo.query() {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, u := range repo.db.users {
		if u.Email == usr.Email {
			return user.User{}, core.NewValidationError(user.ErrEmailExists, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
	}
	usr.ID = uuid.New().String()
	usr.Gems = 0
	if usr.IsActive == nil {
		usr.SetActive(true)
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := repo.query()
	if filter != nil && !filter.IsEmpty() {
		filter.Clean()
		filtered := make([]user.User, 0, len(users))
		for _, u := range users {
			if matches(u, filter) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}

	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		less := lessFunc(users, ord.Field)
		if less == nil {
			continue
		}
		sort.SliceStable(users, func(i, j int) bool {
			if ord.Ascending {
				return less(i, j)
			}
			return less(j, i)
		})
	}
	return users, nil
}

func matches(u user.User, filter *user.QueryFilter) bool {
	if s := strings.ToLower(filter.Search); s != "" &&
		!(strings.Contains(strings.ToLower(u.Name), s) ||
			strings.Contains(strings.ToLower(u.Username), s) ||
			strings.Contains(strings.ToLower(u.Email), s)) {
		return false
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, r := range filter.Roles {
			for _, ur := range u.Roles {
				if r == ur {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && (u.IsActive == nil || *u.IsActive != *filter.IsActive) {
		return false
	}
	if !filter.CreatedFrom.IsZero() && u.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && u.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func lessFunc(users []user.User, field string) func(i, j int) bool {
	switch field {
	case "name":
		return func(i, j int) bool { return users[i].Name < users[j].Name }
	case "username":
		return func(i, j int) bool { return users[i].Username < users[j].Username }
	case "email":
		return func(i, j int) bool { return users[i].Email < users[j].Email }
	case "gems":
		return func(i, j int) bool { return users[i].Gems < users[j].Gems }
	case "created_at":
		return func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) }
	case "last_login":
		return func(i, j int) bool { return users[i].LastLogin.Before(users[j].LastLogin) }
	}
	return nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.users[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.db.users {
		switch {
		case filter.Username != "" && usr.Username == filter.Username,
			filter.Email != "" && usr.Email == filter.Email,
			filter.UsernameOrEmail != "" && (usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail):
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUsersByID(_ context.Context, ids ...string) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if usr, ok := repo.db.users[id]; ok {
			users = append(users, *usr)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.Gems = orig.Gems
	usr.CreatedAt = orig.CreatedAt
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.db.users[id]; !ok {
			continue
		}
		delete(repo.db.users, id)
		n++
		for k := range repo.db.states {
			if k.userID == id {
				delete(repo.db.states, k)
			}
		}
		for k := range repo.db.links {
			if k.therapistID == id || k.patientID == id {
				delete(repo.db.links, k)
			}
		}
		kept := repo.db.results[:0]
		for _, res := range repo.db.results {
			if res.UserID != id {
				kept = append(kept, res)
			}
		}
		repo.db.results = kept
	}
	return n, nil
}
