package service

import "github.com/credithub/backend/internal/domain"

// AdminPolicy decides whether an account spends without being billed. It is
// consulted by the spend authorizer only — the ledger and provisioning
// layers know nothing about it, so "can skip billing" stays strictly
// separate from "can write the ledger".
type AdminPolicy struct {
	allowlist map[string]struct{}
}

// NewAdminPolicy creates the policy with a fixed operator allow-list of
// email addresses.
func NewAdminPolicy(operatorEmails []string) *AdminPolicy {
	allow := make(map[string]struct{}, len(operatorEmails))
	for _, email := range operatorEmails {
		if email != "" {
			allow[email] = struct{}{}
		}
	}
	return &AdminPolicy{allowlist: allow}
}

// Unlimited reports whether the account is exempt from billing: the explicit
// account flag OR allow-list membership. Callers must evaluate this on every
// authorization, never cache it, so revoking admin status takes effect
// immediately.
func (p *AdminPolicy) Unlimited(acc *domain.Account) bool {
	if acc == nil {
		return false
	}
	if acc.AdminOverride {
		return true
	}
	_, ok := p.allowlist[acc.Email]
	return ok
}
