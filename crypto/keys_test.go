package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestRequestSignatureRecoversSigner(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	payload := []byte(`{"root":"0x01","entryIndex":1}`)
	sig, err := key.SignRequest(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := RecoverRequestSigner(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != key.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), key.Address().Hex())
	}
	other, err := RecoverRequestSigner([]byte("tampered"), sig)
	if err == nil && other == key.Address() {
		t.Fatalf("signature must not cover a different payload")
	}
	if _, err := RecoverRequestSigner(payload, sig[:10]); err == nil {
		t.Fatalf("expected short signature to be rejected")
	}
}

func TestBech32AddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	encoded := MinerAddress(key.Address())
	if !strings.HasPrefix(encoded, string(MinerPrefix)+"1") {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if parsed != key.Address() {
		t.Fatalf("bech32 round trip changed the address")
	}
	hexParsed, err := ParseAddress(key.Address().Hex())
	if err != nil || hexParsed != key.Address() {
		t.Fatalf("parse hex: %v", err)
	}
}

func lightScrypt(t *testing.T) {
	t.Helper()
	prevN, prevP := scryptN, scryptP
	scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { scryptN, scryptP = prevN, prevP })
}

func TestKeystoreRoundTrip(t *testing.T) {
	lightScrypt(t)
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "miner.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("keystore changed the key")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestLoadOrCreateKeystoreReusesKey(t *testing.T) {
	lightScrypt(t)
	path := filepath.Join(t.TempDir(), "keys", "miner.json")
	first, created, err := LoadOrCreateKeystore(path, "pw")
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	second, created, err := LoadOrCreateKeystore(path, "pw")
	if err != nil || created {
		t.Fatalf("reload: created=%v err=%v", created, err)
	}
	if first.Address() != second.Address() {
		t.Fatalf("reload produced a different key")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("keystore mode %v", info.Mode().Perm())
	}
}
