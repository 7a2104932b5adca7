package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-pos/internal/common"
)

var errUnknownRole = jwt.NewValidationError(errors.New(`"role" claim must be Admin or User`))

// TokenValidator checks a parsed access token and turns it into the till
// principal it was issued for.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Principal validates tok and returns the employee, role and session it names.
// Every access token carries sub, sid and a role of Admin or User.
func (v TokenValidator) Principal(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) (common.Principal, error) {
	if tok == nil {
		return common.Principal{}, errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return common.Principal{}, errors.New("auth: token missing algorithm")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return common.Principal{}, fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(claimSession),
		jwt.WithRequiredClaim(claimRole),
		jwt.WithValidator(jwt.ValidatorFunc(validRole)),
	}
	if v.ClockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return common.Principal{}, err
	}

	p := common.Principal{
		UserName:  tok.Subject(),
		Role:      stringClaim(tok, claimRole),
		SessionID: stringClaim(tok, claimSession),
	}
	if p.UserName == "" || p.SessionID == "" {
		return common.Principal{}, errors.New("auth: token missing subject or session")
	}
	return p, nil
}

func validRole(_ context.Context, tok jwt.Token) jwt.ValidationError {
	switch stringClaim(tok, claimRole) {
	case common.RoleAdmin, common.RoleUser:
		return nil
	}
	return errUnknownRole
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
