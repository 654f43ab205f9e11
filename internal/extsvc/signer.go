package extsvc

import (
	"context"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/idgen"
)

// SignRequest asks the signer service to execute a wallet operation. The
// wallet core never holds key material; signing and broadcast happen in the
// external signer.
type SignRequest struct {
	IdentityID    string  `json:"identityId"`
	OperationType string  `json:"operationType"`
	Amount        float64 `json:"amount,omitempty"`
	Token         string  `json:"token,omitempty"`
	Recipient     string  `json:"recipient,omitempty"`
}

// SignResult is the signer's confirmation.
type SignResult struct {
	TransactionID string `json:"transactionId"`
	Signature     string `json:"signature,omitempty"`
}

// SignerService executes signed wallet operations.
type SignerService interface {
	Execute(ctx context.Context, req *SignRequest) (*SignResult, error)
}

// SignerClient calls the external transaction signer over HTTP.
type SignerClient struct {
	c *client
}

// NewSignerClient creates a signer client against the given base URL.
func NewSignerClient(baseURL string, timeout time.Duration) *SignerClient {
	return &SignerClient{c: newClient("signer", baseURL, timeout)}
}

func (s *SignerClient) Execute(ctx context.Context, req *SignRequest) (*SignResult, error) {
	var result SignResult
	if err := s.c.postJSON(ctx, "/v1/transactions/execute", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

var _ SignerService = (*SignerClient)(nil)

// SimulatedSigner fabricates transaction IDs locally. Used in sandbox mode
// and tests where no real signer is reachable.
type SimulatedSigner struct {
	// Fail forces every Execute to return the given error, for failure-path
	// testing.
	Fail error
}

func (s *SimulatedSigner) Execute(_ context.Context, _ *SignRequest) (*SignResult, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	return &SignResult{
		TransactionID: "0x" + idgen.Hex(32),
		Signature:     "sim_" + idgen.Hex(16),
	}, nil
}

var _ SignerService = (*SimulatedSigner)(nil)
