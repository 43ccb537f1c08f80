// Command hashtool prints the salt and hash the service would store for a
// password, for seeding accounts directly into the database.
//
//	PEPPER=... hashtool -password 's3cret'
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sethvargo/go-envconfig"

	"github.com/elysion/user-service/internal/core/service"
)

type hashConfig struct {
	Pepper     string `env:"PEPPER, required"`
	BcryptCost int    `env:"BCRYPT_COST, default=12"`
}

func main() {
	password := flag.String("password", "", "Password to hash")
	salt := flag.String("salt", "", "Existing salt (base64); a new one is generated when empty")
	flag.Parse()

	if *password == "" {
		flag.Usage()
		os.Exit(1)
	}

	var cfg hashConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		log.Fatalf("Failed to read configuration: %v", err)
	}

	hasher, err := service.NewCredentialHasher(cfg.Pepper, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("Failed to create hasher: %v", err)
	}

	s := *salt
	if s == "" {
		if s, err = hasher.NewSalt(); err != nil {
			log.Fatalf("Failed to generate salt: %v", err)
		}
	}

	hash, err := hasher.Hash(*password, s)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	fmt.Printf("SALT=%s\n", s)
	fmt.Printf("HASH=%s\n", hash)
	fmt.Printf("VERIFY=%t\n", hasher.Verify(*password, s, hash))
}
