package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/policy"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const minPasswordLength = 6

type AccountRequest struct {
	Username string
	Password string
	FullName string
	Email    string
	Phone    string
	Role     models.Role
}

type ProfileRequest struct {
	FullName *string
	Email    *string
	Phone    *string
}

type AccessRequest struct {
	Role   *models.Role
	Status *models.AccountStatus
}

// Register creates a customer account.
func (m *Manager) Register(ctx context.Context, req AccountRequest) (models.Account, error) {
	req.Role = models.RoleCustomer
	return m.createAccount(ctx, req)
}

// CreateAccount lets an admin create an account with any role.
func (m *Manager) CreateAccount(ctx context.Context, actor auth.Actor, req AccountRequest) (models.Account, error) {
	if err := m.authorize(actor, policy.Subject{Kind: policy.KindAccount}, policy.StateNone, policy.StateAccess); err != nil {
		return models.Account{}, err
	}
	if !req.Role.Valid() {
		return models.Account{}, store.Invalid("role", "unknown role")
	}
	return m.createAccount(ctx, req)
}

// EnsureAdmin creates the bootstrap admin unless the username already exists.
func (m *Manager) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := m.store.GetAccountByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	account, err := m.createAccount(ctx, AccountRequest{Username: username, Password: password, FullName: "Administrator", Role: models.RoleAdmin})
	if err != nil {
		return false, err
	}
	m.logger.Info("bootstrap admin created", zap.String("account_id", account.AccountID))
	return true, nil
}

func (m *Manager) createAccount(ctx context.Context, req AccountRequest) (models.Account, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 3 || len(username) > 50 {
		return models.Account{}, store.Invalid("username", "must be 3 to 50 characters")
	}
	if len(req.Password) < minPasswordLength {
		return models.Account{}, store.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return models.Account{}, store.Invalid("email", "invalid address")
		}
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.Account{}, err
	}
	return m.store.CreateAccount(ctx, store.CreateAccountInput{
		Username:     username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         req.Role,
		CreatedAt:    m.now(),
	})
}

// Authenticate checks credentials. Unknown users and wrong passwords look the same.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (models.Account, error) {
	account, err := m.store.GetAccountByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Account{}, auth.ErrInvalidCredentials
		}
		return models.Account{}, err
	}
	if !auth.CheckPassword(account.PasswordHash, password) {
		return models.Account{}, auth.ErrInvalidCredentials
	}
	if account.Status != models.AccountActive {
		return models.Account{}, auth.ErrAccountDisabled
	}
	return account, nil
}

func (m *Manager) GetAccount(ctx context.Context, actor auth.Actor, accountID string) (models.Account, error) {
	accountID, err := requireID("account_id", accountID)
	if err != nil {
		return models.Account{}, err
	}
	if accountID != actor.AccountID && !actor.Role.IsStaff() {
		return models.Account{}, fmt.Errorf("account not visible: %w", store.ErrForbidden)
	}
	return m.store.GetAccount(ctx, accountID)
}

func (m *Manager) ListAccounts(ctx context.Context, actor auth.Actor, role models.Role) ([]models.Account, error) {
	if err := m.requireStaff(actor); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, store.Invalid("role", "unknown role")
	}
	return m.store.ListAccounts(ctx, role)
}

func (m *Manager) UpdateProfile(ctx context.Context, actor auth.Actor, accountID string, req ProfileRequest) (models.Account, error) {
	accountID, err := requireID("account_id", accountID)
	if err != nil {
		return models.Account{}, err
	}
	if err := m.authorize(actor, policy.Subject{Kind: policy.KindAccount, OwnerID: accountID}, policy.StateNone, policy.StateProfile); err != nil {
		return models.Account{}, err
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return models.Account{}, store.Invalid("email", "invalid address")
			}
		}
		req.Email = &email
	}
	return m.store.UpdateProfile(ctx, store.UpdateProfileInput{
		AccountID: accountID,
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
}

// UpdateAccess changes role or status. Admins cannot lock themselves out.
func (m *Manager) UpdateAccess(ctx context.Context, actor auth.Actor, accountID string, req AccessRequest) (models.Account, error) {
	accountID, err := requireID("account_id", accountID)
	if err != nil {
		return models.Account{}, err
	}
	if err := m.authorize(actor, policy.Subject{Kind: policy.KindAccount, OwnerID: accountID}, policy.StateNone, policy.StateAccess); err != nil {
		return models.Account{}, err
	}
	if req.Role == nil && req.Status == nil {
		return models.Account{}, store.Invalid("body", "role or status required")
	}
	if req.Role != nil && !req.Role.Valid() {
		return models.Account{}, store.Invalid("role", "unknown role")
	}
	if req.Status != nil && !req.Status.Valid() {
		return models.Account{}, store.Invalid("status", "unknown status")
	}
	if accountID == actor.AccountID {
		return models.Account{}, store.Invalid("account_id", "cannot change own access")
	}
	account, err := m.store.UpdateAccess(ctx, store.UpdateAccessInput{AccountID: accountID, Role: req.Role, Status: req.Status})
	if err != nil {
		return models.Account{}, err
	}
	m.logger.Info("account access changed",
		zap.String("account_id", accountID),
		zap.String("role", string(account.Role)),
		zap.String("status", string(account.Status)),
		zap.String("by", actor.AccountID),
	)
	return account, nil
}
