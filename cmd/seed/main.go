// seed binds demo tokens, subscribes them to every push feature and prints
// an operator JWT for the control API.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ErlanBelekov/df-notifier/config"
	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/ErlanBelekov/df-notifier/internal/infrastructure"
	"github.com/golang-jwt/jwt/v5"
)

const operatorID = "seed-operator"

type userSpec struct {
	userID string
	token  string
	group  string
}

var users = []userSpec{
	{"10001", "seed-framework-token-1", "900001"},
	{"10002", "seed-framework-token-2", "900001"},
	{"10003", "seed-framework-token-3", "900002"},
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := infrastructure.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.BoltPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	var added, skipped int
	for _, u := range users {
		if err := st.Tokens.SetActiveToken(ctx, u.userID, u.token); err != nil {
			st.Close()
			log.Fatalf("bind token for %s: %v", u.userID, err)
		}
		targets := []domain.Target{
			{Type: domain.TargetGroup, ID: u.group, Platform: domain.DefaultPlatform},
			{Type: domain.TargetPrivate, ID: u.userID, Platform: domain.DefaultPlatform},
		}
		for _, f := range domain.Features() {
			for _, t := range targets {
				err := st.Subscriptions.Add(ctx, f, u.userID, u.token, t)
				switch {
				case errors.Is(err, domain.ErrTargetAlreadySubscribed):
					skipped++
				case err != nil:
					st.Close()
					log.Fatalf("subscribe %s to %s: %v", u.userID, f, err)
				default:
					added++
				}
			}
		}
	}
	st.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": operatorID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("sign jwt: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Store:          %s\n", cfg.StoreDriver)
	fmt.Printf("  Users:          %d\n", len(users))
	fmt.Printf("  Targets added:  %d  (skipped %d already subscribed)\n", added, skipped)
	fmt.Printf("  Operator:       %s  (add to BROADCAST_ADMINS to allow broadcasts)\n", operatorID)
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Printf("  export TOKEN=%s\n", signed)
	fmt.Printf("  curl -H \"Authorization: Bearer $TOKEN\" localhost:%s/v1/features/place_task/subscriptions\n", cfg.Port)
	fmt.Printf("  curl -H \"Authorization: Bearer $TOKEN\" localhost:%s/v1/jobs\n", cfg.Port)
	fmt.Printf("  curl -H \"Authorization: Bearer $TOKEN\" localhost:%s/v1/api/status\n", cfg.Port)
}
