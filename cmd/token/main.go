// Command token prints a signed access token for local testing of the
// WebSocket handshake. Production tokens come from the accounts service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
)

func main() {
	userID := flag.String("user", "", "user id placed in the sub claim")
	name := flag.String("name", "", "display name placed in the name claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-name <display name>] [-ttl 1h]")
		os.Exit(2)
	}

	token, err := auth.SignToken(auth.JWTConfig{
		Secret: os.Getenv("JWT_SECRET"),
		Issuer: os.Getenv("JWT_ISSUER"),
	}, *userID, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
