package main

import (
	"bytes"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"repchain/consensus/mining"
	"repchain/native/reputation"
	"repchain/rpc"
	"repchain/state/bank"
	"repchain/storage"
)

func newArbiterServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := mining.DefaultConfig()
	cfg.MinStake = big.NewInt(10)
	db := storage.NewMemDB()
	stakes := bank.NewStakeLedger(db)
	arb, err := mining.NewArbiter(cfg, reputation.NewStaticSkillTree(1), stakes, stakes, db,
		mining.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	srv := httptest.NewServer(rpc.NewServer(arb, stakes, rpc.Config{AuthToken: "tok", JWT: rpc.JWTConfig{HMACSecret: "jwt-secret"}}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestAppendAndStakeCommands(t *testing.T) {
	srv := newArbiterServer(t)
	miner := "0x00000000000000000000000000000000000000b0"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--rpc", srv.URL, "--token", "tok", "append", "0x00000000000000000000000000000000000c0101", "1", miner, "12"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("append exited %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"cycle": 1`) {
		t.Fatalf("unexpected append output %s", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"--rpc", srv.URL, "--token", "tok", "stake", "deposit", miner, "40"}, &stdout, &stderr); code != 0 {
		t.Fatalf("deposit exited %d: %s", code, stderr.String())
	}
	stdout.Reset()
	if code := run([]string{"--rpc", srv.URL, "stake", "get", miner}, &stdout, &stderr); code != 0 {
		t.Fatalf("get exited %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"stake": "40"`) {
		t.Fatalf("unexpected stake output %s", stdout.String())
	}
}

func TestCommandErrors(t *testing.T) {
	srv := newArbiterServer(t)
	var stdout, stderr bytes.Buffer

	if code := run([]string{"--rpc", srv.URL, "stake", "withdraw", "0x00000000000000000000000000000000000000b0", "5"}, &stdout, &stderr); code != 1 {
		t.Fatalf("tokenless withdraw exited %d", code)
	}
	stderr.Reset()
	if code := run([]string{"--rpc", srv.URL, "confirm"}, &stdout, &stderr); code != 1 {
		t.Fatalf("confirm without active cycle exited %d", code)
	}
	if !strings.Contains(stderr.String(), "Error (") {
		t.Fatalf("expected reason in %q", stderr.String())
	}
	stderr.Reset()
	if code := run([]string{"--rpc", srv.URL, "append", "only-one"}, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "Usage") {
		t.Fatalf("bad usage exited %d: %s", code, stderr.String())
	}
}

func TestMintTokenAuthorisesScopedCommands(t *testing.T) {
	srv := newArbiterServer(t)
	t.Setenv(jwtSecretEnv, "jwt-secret")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"mint-token", "colony-1", "log:append", "1h"}, &stdout, &stderr); code != 0 {
		t.Fatalf("mint-token exited %d: %s", code, stderr.String())
	}
	token := strings.TrimSpace(stdout.String())

	stdout.Reset()
	code := run([]string{"--rpc", srv.URL, "--token", token, "append", "0x00000000000000000000000000000000000c0101", "1", "0x00000000000000000000000000000000000000b0", "3"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("append with minted token exited %d: %s", code, stderr.String())
	}
	if code := run([]string{"--rpc", srv.URL, "--token", token, "stake", "deposit", "0x00000000000000000000000000000000000000b0", "5"}, &stdout, &stderr); code != 1 {
		t.Fatalf("stake deposit should need stake:write, exited %d", code)
	}

	stderr.Reset()
	if code := run([]string{"mint-token", "colony-1", "admin"}, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "unknown scope") {
		t.Fatalf("unknown scope exited %d: %s", code, stderr.String())
	}
}

func TestParseArchive(t *testing.T) {
	method, params, err := parseCommand([]string{"archive", "confirmations", "5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if method != rpc.MethodArchiveConfirmations || params.(rpc.ArchiveQuery).Limit != 5 {
		t.Fatalf("unexpected %s %+v", method, params)
	}
	if _, _, err := parseCommand([]string{"archive", "confirmations", "-1"}); err == nil {
		t.Fatalf("expected invalid limit error")
	}
	if _, _, err := parseCommand([]string{"archive", "rows"}); err == nil {
		t.Fatalf("expected unknown archive command error")
	}
}
