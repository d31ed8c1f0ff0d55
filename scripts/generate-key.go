// Package main is a development utility that generates a random 32-byte
// webhook token encryption key and prints it base64-encoded, ready to paste
// into the TOKEN_ENCRYPTION_KEY environment variable or the auth section of
// the config file. Generate a fresh key per environment; rotating the key
// invalidates all stored webhook tokens.
package main

import (
	"encoding/base64"
	"fmt"
	"log"

	"github.com/lmco/mcf-sub003/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)

	fmt.Println("==========================================================")
	fmt.Println("Webhook Token Encryption Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nTOKEN_ENCRYPTION_KEY=%s\n", encoded)
	fmt.Println("\n==========================================================")
}
