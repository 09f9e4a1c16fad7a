// Command devserver runs the in-memory TeamSphere API stub. It exists so the
// CLI and the client packages can be exercised without the production backend.
package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/Usmanmre/teamsphere-go/stubserver"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("missing JWT_SECRET")
	}
	accessTTL := 15 * time.Minute
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid ACCESS_TOKEN_TTL: %v", err)
		}
		accessTTL = d
	}
	refreshTTL := 7 * 24 * time.Hour
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid REFRESH_TOKEN_TTL: %v", err)
		}
		refreshTTL = d
	}

	store := stubserver.NewStore()
	auth := stubserver.NewAuth(secret, accessTTL, refreshTTL)
	hub := stubserver.NewHub()
	e := stubserver.New(store, auth, hub)

	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}
	e.Logger.Fatal(e.Start(listenAddr))
}
