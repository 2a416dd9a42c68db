// Command rafflectl talks to a running raffle daemon and issues service
// tokens for its keeper, oracle and operator endpoints, and player tokens
// for entries.
//
// Usage:
//
//	rafflectl [flags] status
//	rafflectl [flags] token <keeper|oracle|operator>
//	rafflectl [flags] token player <address>
//	rafflectl [flags] deposit <address> <amount>
//	rafflectl [flags] enter <address> <amount>
//	rafflectl [flags] upkeep
//	rafflectl [flags] fulfill <request-id> [word...]
//	rafflectl [flags] pending
//	rafflectl [flags] winners [limit]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/R3E-Network/neoraffle/internal/httputil"
	"github.com/R3E-Network/neoraffle/internal/middleware"
)

func main() {
	baseURL := flag.String("url", envOr("RAFFLE_URL", "http://localhost:8080"), "Raffle API base URL")
	secret := flag.String("secret", os.Getenv("RAFFLE_JWT_SECRET"), "Shared HS256 secret for service tokens")
	ttl := flag.Duration("ttl", time.Hour, "Lifetime of tokens printed by the token command")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	newClient := func(service string) *httputil.RaffleClient {
		return httputil.NewRaffleClient(httputil.ServiceClientConfig{
			BaseURL:   *baseURL,
			Secret:    *secret,
			ServiceID: service,
			Timeout:   *timeout,
		})
	}

	var (
		out any
		err error
	)
	switch cmd := args[0]; cmd {
	case "status":
		out, err = newClient("").Summary(ctx)
	case "token":
		need(args, 2)
		if *secret == "" {
			log.Fatal("token requires -secret or RAFFLE_JWT_SECRET")
		}
		var token string
		if args[1] == middleware.ServicePlayer {
			need(args, 3)
			token, err = middleware.GeneratePlayerToken(*secret, args[2], *ttl)
		} else {
			token, err = middleware.GenerateServiceToken(*secret, args[1], *ttl)
		}
		if err == nil {
			fmt.Println(token)
			return
		}
	case "deposit":
		need(args, 3)
		var balance int64
		balance, err = newClient(middleware.ServiceOperator).Deposit(ctx, args[1], parseInt(args[2]))
		out = map[string]any{"address": args[1], "balance": balance}
	case "enter":
		need(args, 3)
		var n int
		player := httputil.NewRaffleClient(httputil.ServiceClientConfig{
			BaseURL: *baseURL,
			Secret:  *secret,
			Player:  args[1],
			Timeout: *timeout,
		})
		n, err = player.Enter(ctx, args[1], parseInt(args[2]))
		out = map[string]any{"player": args[1], "entrants": n}
	case "upkeep":
		var id uint64
		id, err = newClient(middleware.ServiceKeeper).PerformUpkeep(ctx)
		out = map[string]any{"request_id": id}
	case "fulfill":
		need(args, 2)
		id, perr := strconv.ParseUint(args[1], 10, 64)
		if perr != nil {
			log.Fatalf("invalid request id %q", args[1])
		}
		var winner string
		winner, err = newClient(middleware.ServiceOracle).Fulfill(ctx, id, args[2:]...)
		out = map[string]any{"request_id": id, "recent_winner": winner}
	case "pending":
		out, err = newClient("").Pending(ctx)
	case "winners":
		limit := 0
		if len(args) > 1 {
			limit = int(parseInt(args[1]))
		}
		out, err = newClient("").Winners(ctx, limit)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

func need(args []string, n int) {
	if len(args) < n {
		log.Fatalf("%s: expected %d arguments", args[0], n-1)
	}
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("invalid integer %q", s)
	}
	return n
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
