package auth

import (
	"fmt"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Environment is the type for defining the running environment
type Environment string

// define constants
const (
	EnvDevelopment Environment = "Dev"
	EnvProduction  Environment = "Prod"
)

// Auth verifies login tokens minted by the identity provider
type Auth struct {
	Options
	jwtKey []byte
}

// Claims is the struct for jwt token. It is constructed once per inbound request
// by the middleware and passed down via context; never mutated afterwards.
type Claims struct {
	jwt.StandardClaims
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email"`
	Admin          bool   `json:"admin"`
}

// Options provides initialization parameters for Auth
type Options struct {
	Logger *zap.Logger

	JWTSigningKey string

	Environment Environment
}

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	if o.Environment == "" {
		o.Environment = EnvDevelopment
	}
	return nil
}

// New returns an Auth for verifying tokens on the API surface
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}
	return &Auth{
		Options: option,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}
