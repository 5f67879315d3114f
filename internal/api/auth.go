package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Admin  bool
}

// ErrUnknownToken is returned by resolvers for unrecognized credentials.
var ErrUnknownToken = errors.New("unknown token")

// PrincipalResolver maps a bearer token to a principal. Deployments swap in
// their identity provider here; the static resolver serves dev and tests.
type PrincipalResolver interface {
	Resolve(token string) (Principal, error)
}

// StaticResolver resolves from a fixed token table.
type StaticResolver struct {
	AdminToken string
	UserTokens map[string]string // token -> user id
}

func (r StaticResolver) Resolve(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnknownToken
	}
	if r.AdminToken != "" && token == r.AdminToken {
		return Principal{UserID: "admin", Admin: true}, nil
	}
	if userID, ok := r.UserTokens[token]; ok {
		return Principal{UserID: userID}, nil
	}
	return Principal{}, ErrUnknownToken
}

const principalKey = "principal"

// AuthMiddleware authenticates the bearer token and stores the principal on
// the request context.
func AuthMiddleware(resolver PrincipalResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		principal, err := resolver.Resolve(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.Locals(principalKey, principal)
		return c.Next()
	}
}

// RequireAdmin rejects non-admin principals. Must run after AuthMiddleware.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CallerFrom(c).Admin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}

// CallerFrom returns the principal set by AuthMiddleware.
func CallerFrom(c *fiber.Ctx) Principal {
	if p, ok := c.Locals(principalKey).(Principal); ok {
		return p
	}
	return Principal{}
}

// StreamAuthenticator adapts a resolver for the websocket hub.
func StreamAuthenticator(resolver PrincipalResolver) func(token string) (string, bool, error) {
	return func(token string) (string, bool, error) {
		p, err := resolver.Resolve(token)
		if err != nil {
			return "", false, err
		}
		return p.UserID, p.Admin, nil
	}
}
