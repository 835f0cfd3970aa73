// Command tokengen signs an access token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/example/foodlots/internal/auth"
	"github.com/example/foodlots/internal/config"
	"github.com/example/foodlots/internal/domain"
	"github.com/sirupsen/logrus"
)

func main() {
	id := flag.String("id", "", "actor id")
	role := flag.String("role", domain.RoleCharity, "actor role: produttore, ente or admin")
	emailAddr := flag.String("email", "", "actor e-mail")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if len(cfg.JWTSecret) < 32 {
		logrus.Fatal("JWT_SECRET must be set and at least 32 characters long")
	}
	if *id == "" || !domain.ValidRole(*role) {
		flag.Usage()
		os.Exit(2)
	}

	token, expiresAt, err := auth.NewJWTService(cfg.JWTSecret, *ttl).
		GenerateAccessToken(domain.Actor{ID: *id, Email: *emailAddr, Role: *role})
	if err != nil {
		logrus.WithError(err).Fatal("failed to sign token")
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
