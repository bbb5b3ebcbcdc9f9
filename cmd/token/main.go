// Command token mints signed access tokens for local testing. The secret
// comes from the environment, never from a flag, so it stays out of shell
// history.
package main

import (
	"chat-relay/auth"
	"flag"
	"log"
	"time"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	Duration  time.Duration `envconfig:"AUTH_TOKEN_DURATION" default:"24h"`
}

func main() {
	userID := flag.String("user", "", "Subject user id")
	email := flag.String("email", "", "Email claim (optional)")
	tokenType := flag.String("type", auth.TokenTypeAccess, "Token type (access or refresh)")
	flag.Parse()

	if *userID == "" {
		log.Fatal("missing -user")
	}

	_ = godotenv.Load()
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("config error: ", err)
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, *userID, *email, *tokenType, cfg.Duration)
	if err != nil {
		log.Fatal("token generation failed: ", err)
	}

	color.Green.Printf("%s token for %s (valid %s)\n", *tokenType, *userID, cfg.Duration)
	color.Cyan.Println(token)
}
