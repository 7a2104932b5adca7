// Package employee manages the staff roster used for till and admin logins.
package employee

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

var (
	// ErrNotFound is returned when no employee has the username.
	ErrNotFound = errors.New("employee not found")
	// ErrDuplicate is returned when the username is taken.
	ErrDuplicate = errors.New("employee already exists")
	// ErrInvalidInput is returned for rejected employee fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLastAdmin is returned when a change would leave no active Admin.
	ErrLastAdmin = errors.New("at least one admin is required")
)

// Statuses and the LastLogin placeholder stored for new employees.
const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
	NeverLoggedIn  = "Never"
)

// TimeLayout formats CreatedAt and LastLogin.
const TimeLayout = "2006-01-02 15:04:05"

// Employee is one roster entry. Password holds either an argon2id hash or a
// legacy plaintext value and is never serialised.
type Employee struct {
	UserName  string `json:"username"`
	Password  string `json:"-"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	LastLogin string `json:"last_login"`
	CreatedAt string `json:"created_at"`
}

// Active reports whether the employee may log in.
func (e Employee) Active() bool {
	return !strings.EqualFold(e.Status, StatusInactive)
}

// NewEmployee holds the fields for Create.
type NewEmployee struct {
	UserName string
	Password string
	Email    string
	Role     string
}

// Patch holds optional changes for Update. Nil fields are left as they are.
type Patch struct {
	Email    *string
	Role     *string
	Password *string
	Status   *string
}

// SearchField selects the attribute Search matches.
type SearchField string

const (
	FieldUserName SearchField = "username"
	FieldEmail    SearchField = "email"
	FieldRole     SearchField = "role"
)

// Config configures the Service.
type Config struct {
	Store         docstore.Store
	HashPasswords bool
	// Params defaults to argon2id.DefaultParams.
	Params *argon2id.Params
	Now    func() time.Time
}

// Service reads and edits the roster document.
type Service struct {
	store         docstore.Store
	hashPasswords bool
	params        *argon2id.Params
	now           func() time.Time
	validate      *validator.Validate
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("employee: store is required")
	}
	params := cfg.Params
	if params == nil {
		params = argon2id.DefaultParams
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:         cfg.Store,
		hashPasswords: cfg.HashPasswords,
		params:        params,
		now:           now,
		validate:      validator.New(),
	}, nil
}

// List returns every employee ordered by username.
func (s *Service) List(ctx context.Context) ([]Employee, error) {
	roster, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(roster, func(i, j int) bool {
		return strings.ToLower(roster[i].UserName) < strings.ToLower(roster[j].UserName)
	})
	return roster, nil
}

// Get returns the employee whose username matches case-insensitively.
func (s *Service) Get(ctx context.Context, username string) (Employee, error) {
	roster, err := s.load(ctx)
	if err != nil {
		return Employee{}, err
	}
	i := indexOf(roster, username)
	if i < 0 {
		return Employee{}, ErrNotFound
	}
	return roster[i], nil
}

// Search returns employees whose field starts with query, ignoring case. An
// empty query lists everyone.
func (s *Service) Search(ctx context.Context, query string, field SearchField) ([]Employee, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	out := make([]Employee, 0)
	for _, e := range all {
		var v string
		switch field {
		case FieldEmail:
			v = e.Email
		case FieldRole:
			v = e.Role
		default:
			v = e.UserName
		}
		if strings.HasPrefix(strings.ToLower(v), q) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create adds an employee with status Active and no login yet.
func (s *Service) Create(ctx context.Context, in NewEmployee) (Employee, error) {
	name := strings.TrimSpace(in.UserName)
	if name == "" {
		return Employee{}, fmt.Errorf("username required: %w", ErrInvalidInput)
	}
	if in.Password == "" {
		return Employee{}, fmt.Errorf("password required: %w", ErrInvalidInput)
	}
	role, err := CanonicalRole(in.Role)
	if err != nil {
		return Employee{}, err
	}
	email, err := s.checkEmail(in.Email)
	if err != nil {
		return Employee{}, err
	}
	secret, err := s.encodePassword(in.Password)
	if err != nil {
		return Employee{}, fmt.Errorf("hash password: %w", err)
	}

	created := Employee{
		UserName:  name,
		Password:  secret,
		Email:     email,
		Role:      role,
		Status:    StatusActive,
		LastLogin: NeverLoggedIn,
		CreatedAt: s.now().Format(TimeLayout),
	}
	err = s.store.Update(ctx, []string{RosterKey}, func(tx docstore.Tx) error {
		roster, err := LoadRoster(tx)
		if err != nil {
			return err
		}
		if indexOf(roster, name) >= 0 {
			return fmt.Errorf("%s: %w", name, ErrDuplicate)
		}
		return SaveRoster(tx, append(roster, created))
	})
	if err != nil {
		return Employee{}, err
	}
	return created, nil
}

// Update applies patch to the named employee.
func (s *Service) Update(ctx context.Context, username string, patch Patch) (Employee, error) {
	var (
		role, email, secret, status string
		err                         error
	)
	if patch.Role != nil {
		if role, err = CanonicalRole(*patch.Role); err != nil {
			return Employee{}, err
		}
	}
	if patch.Email != nil {
		if email, err = s.checkEmail(*patch.Email); err != nil {
			return Employee{}, err
		}
	}
	if patch.Password != nil {
		if *patch.Password == "" {
			return Employee{}, fmt.Errorf("password must not be empty: %w", ErrInvalidInput)
		}
		if secret, err = s.encodePassword(*patch.Password); err != nil {
			return Employee{}, fmt.Errorf("hash password: %w", err)
		}
	}
	if patch.Status != nil {
		switch {
		case strings.EqualFold(*patch.Status, StatusActive):
			status = StatusActive
		case strings.EqualFold(*patch.Status, StatusInactive):
			status = StatusInactive
		default:
			return Employee{}, fmt.Errorf("status must be Active or Inactive: %w", ErrInvalidInput)
		}
	}

	var updated Employee
	err = s.store.Update(ctx, []string{RosterKey}, func(tx docstore.Tx) error {
		roster, err := LoadRoster(tx)
		if err != nil {
			return err
		}
		i := indexOf(roster, username)
		if i < 0 {
			return ErrNotFound
		}
		before := activeAdmins(roster)
		e := roster[i]
		if role != "" {
			e.Role = role
		}
		if patch.Email != nil {
			e.Email = email
		}
		if secret != "" {
			e.Password = secret
		}
		if status != "" {
			e.Status = status
		}
		roster[i] = e
		if before > 0 && activeAdmins(roster) == 0 {
			return ErrLastAdmin
		}
		updated = e
		return SaveRoster(tx, roster)
	})
	if err != nil {
		return Employee{}, err
	}
	return updated, nil
}

// Delete removes the named employee.
func (s *Service) Delete(ctx context.Context, username string) error {
	return s.store.Update(ctx, []string{RosterKey}, func(tx docstore.Tx) error {
		roster, err := LoadRoster(tx)
		if err != nil {
			return err
		}
		i := indexOf(roster, username)
		if i < 0 {
			return ErrNotFound
		}
		before := activeAdmins(roster)
		roster = append(roster[:i], roster[i+1:]...)
		if before > 0 && activeAdmins(roster) == 0 {
			return ErrLastAdmin
		}
		return SaveRoster(tx, roster)
	})
}

// TouchLastLogin records at as the employee's last login.
func (s *Service) TouchLastLogin(ctx context.Context, username string, at time.Time) error {
	return s.store.Update(ctx, []string{RosterKey}, func(tx docstore.Tx) error {
		roster, err := LoadRoster(tx)
		if err != nil {
			return err
		}
		i := indexOf(roster, username)
		if i < 0 {
			return ErrNotFound
		}
		roster[i].LastLogin = at.Format(TimeLayout)
		return SaveRoster(tx, roster)
	})
}

func (s *Service) load(ctx context.Context) ([]Employee, error) {
	var doc rosterDocument
	if _, err := s.store.Get(ctx, RosterKey, &doc); err != nil {
		return nil, err
	}
	out := make([]Employee, 0, len(doc.Employees))
	for _, r := range doc.Employees {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

func (s *Service) checkEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("email required: %w", ErrInvalidInput)
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return "", fmt.Errorf("email is not valid: %w", ErrInvalidInput)
	}
	return email, nil
}

// CanonicalRole maps a role name to Admin or User, ignoring case.
func CanonicalRole(role string) (string, error) {
	switch {
	case strings.EqualFold(strings.TrimSpace(role), common.RoleAdmin):
		return common.RoleAdmin, nil
	case strings.EqualFold(strings.TrimSpace(role), common.RoleUser):
		return common.RoleUser, nil
	default:
		return "", fmt.Errorf("role must be Admin or User: %w", ErrInvalidInput)
	}
}

func indexOf(roster []Employee, username string) int {
	username = strings.TrimSpace(username)
	for i, e := range roster {
		if strings.EqualFold(e.UserName, username) {
			return i
		}
	}
	return -1
}

func activeAdmins(roster []Employee) int {
	n := 0
	for _, e := range roster {
		if strings.EqualFold(e.Role, common.RoleAdmin) && e.Active() {
			n++
		}
	}
	return n
}
