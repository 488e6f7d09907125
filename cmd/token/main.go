// Command token mints a bearer token for local development and manual
// testing of the ridebook API.
//
//	JWT_SECRET=dev token --role driver --sub 6f1c2f0e-2b7a-4d0e-9d55-0c4b1f9b2a10
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/middleware"
)

func main() {
	var (
		role = flag.StringP("role", "r", string(domain.RoleAdmin), "actor role: admin, driver or passenger")
		sub  = flag.StringP("sub", "s", "", "actor UUID (random when empty)")
		ttl  = flag.Duration("ttl", 12*time.Hour, "token lifetime")
	)
	flag.Parse()

	if err := run(*role, *sub, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func run(role, sub string, ttl time.Duration) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}

	actor := domain.Actor{ID: uuid.New(), Role: domain.Role(role)}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleDriver, domain.RolePassenger:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if sub != "" {
		id, err := uuid.Parse(sub)
		if err != nil {
			return fmt.Errorf("--sub: %w", err)
		}
		actor.ID = id
	}

	token, err := middleware.NewAuthenticator([]byte(secret)).Issue(actor, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "actor %s\n", actor)
	fmt.Println(token)
	return nil
}
