// Command devtoken mints a bearer token for local testing of the api.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/infrastructure/auth"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_TTL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *ttl <= 0 {
		*ttl = cfg.JWTTTL
	}
	if *ttl <= 0 {
		*ttl = time.Hour
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	token, err := tokens.Generate(*userID, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
