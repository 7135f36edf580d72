package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"escrowd/config"
	"escrowd/core"
	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

func main() {
	var configPath string
	var env string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the TOML config file")
	flag.StringVar(&env, "env", "", "deployment environment tag for log lines")
	flag.Parse()

	logger := logging.Setup("escrowd", env)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "err", err)
		os.Exit(1)
	}

	secret := []byte(os.Getenv(cfg.AuthSecretEnv))
	if len(secret) == 0 {
		logger.Warn("auth secret env is empty; mutating RPC methods will reject all calls", "env", cfg.AuthSecretEnv)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)
	node.SetEmitter(&logEmitter{log: logger})

	if err := bootstrap(node, cfg, logger); err != nil {
		logger.Error("genesis bootstrap failed", "err", err)
		os.Exit(1)
	}

	server := rpc.NewServer(node, secret, logger)
	logger.Info("node ready", "network", cfg.NetworkName, "rpc", cfg.RPCAddress)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}

// bootstrap applies the genesis section on first boot: it initializes the
// platform config and seeds the listed balances. A node whose config record
// already exists skips the whole section.
func bootstrap(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	_, ok, err := node.GetConfig()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if strings.TrimSpace(cfg.Genesis.Admin) == "" {
		logger.Info("no genesis admin configured; waiting for config_initialize over RPC")
		return nil
	}
	admin, err := parseAddress(cfg.Genesis.Admin)
	if err != nil {
		return fmt.Errorf("genesis admin: %w", err)
	}
	collector := admin
	if strings.TrimSpace(cfg.Genesis.FeeCollector) != "" {
		if collector, err = parseAddress(cfg.Genesis.FeeCollector); err != nil {
			return fmt.Errorf("genesis fee collector: %w", err)
		}
	}
	if _, err := node.InitializeConfig(admin, cfg.Genesis.FeeBasisPoints, collector); err != nil {
		return err
	}
	logger.Info("initialized platform config from genesis",
		"admin", cfg.Genesis.Admin, "feeBps", cfg.Genesis.FeeBasisPoints)

	for _, fund := range cfg.Genesis.Funds {
		addr, err := parseAddress(fund.Address)
		if err != nil {
			return fmt.Errorf("genesis fund %q: %w", fund.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(fund.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return fmt.Errorf("genesis fund %q: invalid balance %q", fund.Address, fund.Balance)
		}
		if err := node.Credit(addr, balance); err != nil {
			return err
		}
		logger.Info("seeded genesis balance", "address", fund.Address, "balance", fund.Balance)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return addr, fmt.Errorf("address %q is not hex", value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address %q must be %d bytes", value, len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

// logEmitter writes every engine event as a structured log line.
type logEmitter struct {
	log *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	args := []any{"type", evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				args = append(args, key, value)
			}
		}
	}
	l.log.Info("event emitted", args...)
}
