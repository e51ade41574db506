package auth

import "context"

// Service is the Auth Service (C10): the single entry point the HTTP API
// and the Connection Manager depend on. Drastically simplified from the
// teacher's AuthService facade, which delegated across local+OIDC
// providers and refresh-token rotation — spec §4.10 needs only
// "password in, bearer token out" and "token in, claims out".
type Service struct {
	creds      *CredentialStore
	jwtManager *JWTManager
}

func NewService(creds *CredentialStore, jwtManager *JWTManager) *Service {
	return &Service{creds: creds, jwtManager: jwtManager}
}

// IssueToken verifies systemUUID/password and returns a signed bearer
// token on success (spec §6.6 POST /token).
func (s *Service) IssueToken(ctx context.Context, systemUUID, password string) (string, error) {
	if err := s.creds.Verify(ctx, systemUUID, password); err != nil {
		return "", err
	}
	return s.jwtManager.GenerateAccessToken(systemUUID)
}

// Verify parses and validates a bearer token, returning its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	return s.jwtManager.ValidateAccessToken(tokenString)
}
