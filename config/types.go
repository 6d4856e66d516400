package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"repchain/consensus/mining"
	"repchain/crypto"
	"repchain/native/reputation"
	"repchain/state/bank"
)

// Mining holds the protocol parameters. Durations are whole seconds.
type Mining struct {
	CycleSeconds            uint64 `toml:"CycleSeconds"`
	SubmissionWindowSeconds uint64 `toml:"SubmissionWindowSeconds"`
	SubmitterOnlySeconds    uint64 `toml:"SubmitterOnlySeconds"`
	EligibilityRampSeconds  uint64 `toml:"EligibilityRampSeconds"`
	ResponseWindowSeconds   uint64 `toml:"ResponseWindowSeconds"`
	MinStake                string `toml:"MinStake"`
	MaxSubmissions          int    `toml:"MaxSubmissions"`
	SlashBps                uint64 `toml:"SlashBps"`
	DecayNumerator          uint64 `toml:"DecayNumerator"`
	DecayDenominator        uint64 `toml:"DecayDenominator"`
}

func (m *Mining) applyDefaults() {
	def := mining.DefaultConfig()
	if m.CycleSeconds == 0 {
		m.CycleSeconds = uint64(def.CycleDuration / time.Second)
	}
	if m.SubmissionWindowSeconds == 0 {
		m.SubmissionWindowSeconds = uint64(def.SubmissionWindow / time.Second)
	}
	if m.SubmitterOnlySeconds == 0 {
		m.SubmitterOnlySeconds = uint64(def.SubmitterOnlyWindow / time.Second)
	}
	if m.EligibilityRampSeconds == 0 {
		// The ramp spans the whole open window unless narrowed.
		m.EligibilityRampSeconds = m.SubmissionWindowSeconds
	}
	if m.ResponseWindowSeconds == 0 {
		m.ResponseWindowSeconds = uint64(def.ResponseWindow / time.Second)
	}
	if strings.TrimSpace(m.MinStake) == "" {
		m.MinStake = def.MinStake.String()
	}
	if m.MaxSubmissions == 0 {
		m.MaxSubmissions = def.MaxSubmissions
	}
	if m.SlashBps == 0 {
		m.SlashBps = def.SlashBps
	}
	if m.DecayNumerator == 0 && m.DecayDenominator == 0 {
		m.DecayNumerator = def.Decay.Numerator
		m.DecayDenominator = def.Decay.Denominator
	}
}

// Params converts the section into arbiter parameters.
func (m Mining) Params() (mining.Config, error) {
	minStake, ok := new(big.Int).SetString(strings.TrimSpace(m.MinStake), 10)
	if !ok || minStake.Sign() <= 0 {
		return mining.Config{}, fmt.Errorf("mining: invalid MinStake %q", m.MinStake)
	}
	cfg := mining.Config{
		CycleDuration:       seconds(m.CycleSeconds),
		SubmissionWindow:    seconds(m.SubmissionWindowSeconds),
		SubmitterOnlyWindow: seconds(m.SubmitterOnlySeconds),
		EligibilityRamp:     seconds(m.EligibilityRampSeconds),
		ResponseWindow:      seconds(m.ResponseWindowSeconds),
		MinStake:            minStake,
		MaxSubmissions:      m.MaxSubmissions,
		SlashBps:            m.SlashBps,
		Decay:               reputation.DecayRate{Numerator: m.DecayNumerator, Denominator: m.DecayDenominator},
	}
	if err := cfg.Validate(); err != nil {
		return mining.Config{}, fmt.Errorf("mining: %w", err)
	}
	return cfg, nil
}

func seconds(v uint64) time.Duration {
	return time.Duration(v) * time.Second
}

// Skills lists the colony skill hierarchy. Every parent must be a root or an
// earlier edge.
type Skills struct {
	Roots []uint64    `toml:"Roots"`
	Edges []SkillEdge `toml:"edges"`
}

type SkillEdge struct {
	Skill  uint64 `toml:"Skill"`
	Parent uint64 `toml:"Parent"`
}

// Tree builds the skill tree.
func (s Skills) Tree() (*reputation.StaticSkillTree, error) {
	edges := make([]reputation.SkillEdge, len(s.Edges))
	for i, e := range s.Edges {
		edges[i] = reputation.SkillEdge{Skill: e.Skill, Parent: e.Parent}
	}
	return reputation.BuildSkillTree(s.Roots, edges)
}

type Logging struct {
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// Telemetry configures the OTLP exporters. Both are off unless enabled.
type Telemetry struct {
	ServiceName string `toml:"ServiceName"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Traces      bool   `toml:"Traces"`
	Metrics     bool   `toml:"Metrics"`
}

// Genesis seeds miner stake the first time the arbiter starts on an empty
// database.
type Genesis struct {
	Stakes []GenesisStake `toml:"stakes"`
}

type GenesisStake struct {
	Miner  string `toml:"Miner"`
	Amount string `toml:"Amount"`
}

// Allocations parses the genesis stakes. Miners may be hex or bech32.
func (g Genesis) Allocations() ([]bank.Allocation, error) {
	out := make([]bank.Allocation, 0, len(g.Stakes))
	seen := make(map[common.Address]struct{}, len(g.Stakes))
	for i, s := range g.Stakes {
		addr, err := crypto.ParseAddress(strings.TrimSpace(s.Miner))
		if err != nil {
			return nil, fmt.Errorf("genesis stake %d: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(s.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis stake %d: invalid amount %q", i, s.Amount)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("genesis stake %d: duplicate miner %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
		out = append(out, bank.Allocation{Miner: addr, Amount: amount})
	}
	return out, nil
}

// JWT enables scoped service tokens next to the static AuthToken. The HMAC
// secret is read from SecretEnv and never stored in the file.
type JWT struct {
	SecretEnv        string `toml:"SecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds uint64 `toml:"ClockSkewSeconds"`
}

// Secret returns the HMAC secret, or "" when JWT auth is off.
func (j JWT) Secret() string {
	if env := strings.TrimSpace(j.SecretEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

func (j JWT) ClockSkew() time.Duration { return seconds(j.ClockSkewSeconds) }

// Events controls the websocket event stream.
type Events struct {
	Enabled bool `toml:"Enabled"`
	Buffer  int  `toml:"Buffer"`
}

// Archive configures the relational event archive. It is off while DSN is
// empty.
type Archive struct {
	Driver    string `toml:"Driver"`
	DSN       string `toml:"DSN"`
	Buffer    int    `toml:"Buffer"`
	ExportDir string `toml:"ExportDir"`
}

func (a Archive) Enabled() bool { return strings.TrimSpace(a.DSN) != "" }
