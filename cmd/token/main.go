// Command token mints a bearer token for local testing:
//
//	JWT_SECRET=dev token -sub alice -role passenger
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/example/taxi-dispatch/internal/auth"
	"github.com/example/taxi-dispatch/internal/models"
)

func main() {
	sub := flag.String("sub", "", "principal id")
	role := flag.String("role", string(models.RolePassenger), "passenger or driver")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET must be set")
		os.Exit(2)
	}
	tok, err := auth.NewManager(secret, *ttl).Issue(models.Principal{ID: *sub, Role: models.Role(*role)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
