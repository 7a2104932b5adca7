package employee

import "github.com/noah-isme/toko-pos/internal/docstore"

// RosterKey is the document key of the employee roster.
const RosterKey = "Employee/Employee-List"

type rosterDocument struct {
	Employees []employeeRecord `json:"Employees"`
}

type employeeRecord struct {
	UserName     string `json:"UserName"`
	UserPassword string `json:"UserPassword"`
	UserEmail    string `json:"UserEmail"`
	UserType     string `json:"UserType"`
	UserStatus   string `json:"UserStatus,omitempty"`
	LastLogin    string `json:"LastLogin,omitempty"`
	CreatedAt    string `json:"CreatedAt,omitempty"`
}

func fromRecord(r employeeRecord) Employee {
	e := Employee{
		UserName:  r.UserName,
		Password:  r.UserPassword,
		Email:     r.UserEmail,
		Role:      r.UserType,
		Status:    r.UserStatus,
		LastLogin: r.LastLogin,
		CreatedAt: r.CreatedAt,
	}
	if e.Status == "" {
		e.Status = StatusActive
	}
	if e.LastLogin == "" {
		e.LastLogin = NeverLoggedIn
	}
	return e
}

func toRecord(e Employee) employeeRecord {
	return employeeRecord{
		UserName:     e.UserName,
		UserPassword: e.Password,
		UserEmail:    e.Email,
		UserType:     e.Role,
		UserStatus:   e.Status,
		LastLogin:    e.LastLogin,
		CreatedAt:    e.CreatedAt,
	}
}

// LoadRoster reads the roster inside a store transaction. A missing document
// is an empty roster.
func LoadRoster(tx docstore.Tx) ([]Employee, error) {
	var doc rosterDocument
	if _, err := tx.Get(RosterKey, &doc); err != nil {
		return nil, err
	}
	out := make([]Employee, 0, len(doc.Employees))
	for _, r := range doc.Employees {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// SaveRoster stages the roster inside a store transaction.
func SaveRoster(tx docstore.Tx, employees []Employee) error {
	doc := rosterDocument{Employees: make([]employeeRecord, 0, len(employees))}
	for _, e := range employees {
		doc.Employees = append(doc.Employees, toRecord(e))
	}
	return tx.Set(RosterKey, doc)
}
