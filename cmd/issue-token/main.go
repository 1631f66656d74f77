// issue-token signs a bearer token for local testing and operator tooling.
//
// Usage:
//
//	API_SECRET=... go run ./cmd/issue-token --user-id 7 --name "Aziz" --role manager
package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
)

func main() {
	userID := flag.Int("user-id", 0, "Required: numeric user id")
	name := flag.String("name", "", "Display name stored in history rows")
	role := flag.String("role", utils.RoleOperator, "operator, manager or admin")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "--user-id must be a positive integer")
		os.Exit(1)
	}
	if !utils.IsKnownRole(*role) {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*userID, *name, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
