package models

import "time"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleTechnician Role = "technician"
	RoleCustomer   Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleTechnician, RoleCustomer:
		return true
	}
	return false
}

// IsStaff reports whether the role can act on behalf of the service center.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBanned   AccountStatus = "banned"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountInactive, AccountBanned:
		return true
	}
	return false
}

type Account struct {
	AccountID    string        `json:"account_id"`
	Username     string        `json:"username"`
	PasswordHash string        `json:"-"`
	FullName     string        `json:"full_name"`
	Email        string        `json:"email,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Role         Role          `json:"role"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
