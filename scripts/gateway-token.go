// Command gateway-token prints a gateway token and the GATEWAY_TOKEN_HASH
// value that lets the API trust it.
//
//	go run ./scripts/gateway-token.go -env live -format env
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cartoncaps/referral-api/internal/auth"
)

type output struct {
	Token string `json:"token,omitempty"`
	Hash  string `json:"hash"`
}

func main() {
	var (
		env    = flag.String("env", auth.EnvLive, "Token environment (live or test)")
		token  = flag.String("token", "", "Hash this existing token instead of generating one")
		format = flag.String("format", "plain", "Output format: plain, json or env")
	)
	flag.Parse()

	var out output
	if *token != "" {
		hash, err := auth.HashToken(*token)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash token:", err)
			os.Exit(1)
		}
		out.Hash = hash
	} else {
		generated, err := auth.GenerateGatewayToken(*env)
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate token:", err)
			os.Exit(1)
		}
		out = output{Token: generated.Plaintext, Hash: generated.Hash}
	}

	switch strings.ToLower(*format) {
	case "plain":
		if out.Token != "" {
			fmt.Println(out.Token)
		}
		fmt.Println(out.Hash)
	case "env":
		if out.Token != "" {
			fmt.Printf("# give to the gateway as %s: %s\n", auth.GatewayTokenHeader, out.Token)
		}
		fmt.Printf("IDENTITY_MODE=gateway\nGATEWAY_TOKEN_HASH='%s'\n", out.Hash)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain, json or env")
		os.Exit(1)
	}
}
