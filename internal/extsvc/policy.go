package extsvc

import (
	"context"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/identity"
)

// PolicyDecision is the policy service's answer to a permission check.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PolicyService answers external policy and guardian-consent checks. The
// wallet consults it before its own permission pipeline; a denial here is
// final.
type PolicyService interface {
	CheckPermission(ctx context.Context, identityID string, op identity.OperationType, amount float64, token string) (*PolicyDecision, error)
}

// PolicyClient calls the external policy/consent HTTP service.
type PolicyClient struct {
	c *client
}

// NewPolicyClient creates a policy client against the given base URL.
func NewPolicyClient(baseURL string, timeout time.Duration) *PolicyClient {
	return &PolicyClient{c: newClient("policy", baseURL, timeout)}
}

type policyCheckRequest struct {
	IdentityID    string  `json:"identityId"`
	OperationType string  `json:"operationType"`
	Amount        float64 `json:"amount,omitempty"`
	Token         string  `json:"token,omitempty"`
}

func (p *PolicyClient) CheckPermission(ctx context.Context, identityID string, op identity.OperationType, amount float64, token string) (*PolicyDecision, error) {
	var decision PolicyDecision
	err := p.c.postJSON(ctx, "/v1/permissions/check", &policyCheckRequest{
		IdentityID:    identityID,
		OperationType: string(op),
		Amount:        amount,
		Token:         token,
	}, &decision)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

var _ PolicyService = (*PolicyClient)(nil)

// AllowAllPolicy approves every check. Used when no policy service is
// configured (standalone and test deployments).
type AllowAllPolicy struct{}

func (AllowAllPolicy) CheckPermission(context.Context, string, identity.OperationType, float64, string) (*PolicyDecision, error) {
	return &PolicyDecision{Allowed: true}, nil
}

var _ PolicyService = AllowAllPolicy{}
