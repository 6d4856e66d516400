package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"repchain/core/types"
	"repchain/rpc"
)

const (
	defaultEndpoint = "http://127.0.0.1:8547"
	endpointEnv     = "REPCHAIN_RPC_URL"
	tokenEnv        = "REPCHAIN_RPC_TOKEN"
	jwtSecretEnv    = "REPCHAIN_JWT_SECRET"
	jwtIssuerEnv    = "REPCHAIN_JWT_ISSUER"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("repctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	endpoint := fs.String("rpc", envOr(endpointEnv, defaultEndpoint), "Arbiter JSON-RPC endpoint")
	token := fs.String("token", os.Getenv(tokenEnv), "Bearer token for colony methods")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch rest[0] {
	case "mint-token":
		return mintToken(rest[1:], stdout, stderr)
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch(ctx, *endpoint, rest[1:], stdout, stderr)
	}

	client := rpc.NewClient(rpc.ClientConfig{URL: *endpoint, Token: *token, Timeout: *timeout})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	method, params, err := parseCommand(rest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n%s\n", err, usage())
		return 1
	}
	var out json.RawMessage
	if err := client.Call(ctx, method, params, &out, false); err != nil {
		return reportError(stderr, err)
	}
	return printJSON(stdout, stderr, out)
}

// parseCommand maps a command line onto an RPC method and its params.
func parseCommand(args []string) (string, interface{}, error) {
	switch args[0] {
	case "append":
		if len(args) != 5 {
			return "", nil, errors.New("append takes <colony> <skill> <user> <amount>")
		}
		skill, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid skill %q", args[2])
		}
		return rpc.MethodAppendUpdate, rpc.AppendUpdateParams{Colony: args[1], Skill: skill, User: args[3], Amount: args[4]}, nil
	case "stake":
		return parseStake(args[1:])
	case "cycle":
		if len(args) == 2 && args[1] == "accumulating" {
			return rpc.MethodAccumulatingCycle, nil, nil
		}
		if len(args) == 1 || (len(args) == 2 && args[1] == "active") {
			return rpc.MethodActiveCycle, nil, nil
		}
		return "", nil, errors.New("cycle takes [active|accumulating]")
	case "log":
		cycle, err := singleUint(args, "log takes <cycle>")
		if err != nil {
			return "", nil, err
		}
		return rpc.MethodCycleLog, rpc.CycleParams{Cycle: cycle}, nil
	case "confirm":
		return rpc.MethodConfirmNewHash, nil, nil
	case "canonical":
		return rpc.MethodCanonical, nil, nil
	case "confirmation":
		cycle, err := singleUint(args, "confirmation takes <cycle>")
		if err != nil {
			return "", nil, err
		}
		return rpc.MethodConfirmation, rpc.CycleParams{Cycle: cycle}, nil
	case "history":
		return rpc.MethodHistory, nil, nil
	case "pairings":
		return rpc.MethodPairings, nil, nil
	case "pairing":
		id, err := singleUint(args, "pairing takes <id>")
		if err != nil {
			return "", nil, err
		}
		return rpc.MethodPairing, rpc.PairingParams{Pairing: id}, nil
	case "archive":
		return parseArchive(args[1:])
	default:
		return "", nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func parseArchive(args []string) (string, interface{}, error) {
	if len(args) == 0 || len(args) > 2 {
		return "", nil, errors.New("archive takes events [type], slashes [miner] or confirmations [limit]")
	}
	arg := ""
	if len(args) == 2 {
		arg = args[1]
	}
	switch args[0] {
	case "events":
		return rpc.MethodArchiveEvents, rpc.ArchiveQuery{Type: arg}, nil
	case "slashes":
		return rpc.MethodArchiveSlashes, rpc.ArchiveQuery{Miner: arg}, nil
	case "confirmations":
		q := rpc.ArchiveQuery{}
		if arg != "" {
			limit, err := strconv.Atoi(arg)
			if err != nil || limit <= 0 {
				return "", nil, fmt.Errorf("invalid limit %q", arg)
			}
			q.Limit = limit
		}
		return rpc.MethodArchiveConfirmations, q, nil
	default:
		return "", nil, fmt.Errorf("unknown archive command %q", args[0])
	}
}

// mintToken signs a service token locally with the secret in
// REPCHAIN_JWT_SECRET.
func mintToken(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(stderr, "Error: mint-token takes <subject> <scope,...> [ttl]")
		return 1
	}
	ttl := 24 * time.Hour
	if len(args) == 3 {
		parsed, err := time.ParseDuration(args[2])
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid ttl %q\n", args[2])
			return 1
		}
		ttl = parsed
	}
	token, err := rpc.IssueToken(os.Getenv(jwtSecretEnv), rpc.TokenRequest{
		Subject: args[0],
		Scopes:  strings.Split(args[1], ","),
		TTL:     ttl,
		Issuer:  strings.TrimSpace(os.Getenv(jwtIssuerEnv)),
	}, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

// watch prints arbiter events as JSON lines until interrupted.
func watch(ctx context.Context, endpoint string, eventTypes []string, stdout, stderr io.Writer) int {
	enc := json.NewEncoder(stdout)
	err := rpc.SubscribeEvents(ctx, endpoint, eventTypes, func(evt types.Event) {
		_ = enc.Encode(evt)
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "Event stream failed: %v\n", err)
		return 1
	}
	return 0
}

func parseStake(args []string) (string, interface{}, error) {
	if len(args) < 2 {
		return "", nil, errors.New("stake takes deposit|withdraw <miner> <amount> or get <miner>")
	}
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return "", nil, errors.New("stake get takes <miner>")
		}
		return rpc.MethodStakeGet, rpc.StakeParams{Miner: args[1]}, nil
	case "deposit", "withdraw":
		if len(args) != 3 {
			return "", nil, fmt.Errorf("stake %s takes <miner> <amount>", args[0])
		}
		method := rpc.MethodStakeDeposit
		if args[0] == "withdraw" {
			method = rpc.MethodStakeWithdraw
		}
		return method, rpc.StakeParams{Miner: args[1], Amount: args[2]}, nil
	default:
		return "", nil, fmt.Errorf("unknown stake command %q", args[0])
	}
}

func singleUint(args []string, msg string) (uint64, error) {
	if len(args) != 2 {
		return 0, errors.New(msg)
	}
	v, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[1])
	}
	return v, nil
}

func reportError(stderr io.Writer, err error) int {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.Reason != "" {
			fmt.Fprintf(stderr, "Error (%s): %s\n", rpcErr.Reason, rpcErr.Message)
		} else {
			fmt.Fprintf(stderr, "Error %d: %s\n", rpcErr.Code, rpcErr.Message)
		}
		return 1
	}
	fmt.Fprintf(stderr, "Request failed: %v\n", err)
	return 1
}

func printJSON(stdout, stderr io.Writer, raw json.RawMessage) int {
	if len(raw) == 0 {
		fmt.Fprintln(stdout, "null")
		return 0
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Fprintf(stderr, "Failed to decode response: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Failed to print response: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func usage() string {
	return `Usage: repctl [--rpc URL] [--token T] <command>

Commands:
  append <colony> <skill> <user> <amount>   queue a reputation update (token)
  stake deposit|withdraw <miner> <amount>   move miner stake (token)
  stake get <miner>                         show stake and slashed totals
  cycle [active|accumulating]               show cycle status
  log <cycle>                               list a cycle's log entries
  confirm                                   confirm the active cycle if decided
  canonical                                 show the latest confirmed state
  confirmation <cycle>                      show one confirmed cycle
  history                                   list confirmed cycles
  pairings                                  list open dispute pairings
  pairing <id>                              show one pairing
  archive events [type]                     list archived events
  archive slashes [miner]                   list recorded slashes
  archive confirmations [limit]             list archived confirmations
  watch [type...]                           stream arbiter events
  mint-token <subject> <scope,...> [ttl]    sign a service token with $REPCHAIN_JWT_SECRET`
}
