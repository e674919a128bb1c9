package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"licensestake/cmd/internal/passphrase"
	"licensestake/config"
	"licensestake/core/state"
	"licensestake/rpc"
	"licensestake/storage"
)

const (
	tokenCommand  = "token"
	dumpCommand   = "dump"
	defaultConfig = "./config.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:])
	case dumpCommand:
		err = runDump(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "licensectl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the licensed config file")
	subject := fs.String("subject", "", "Hex address the token authenticates")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	_ = fs.Parse(args)

	if !common.IsHexAddress(strings.TrimSpace(*subject)) {
		return fmt.Errorf("-subject must be a hex address")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	secret, err := passphrase.NewSource(cfg.RPC.JWTSecretEnv, "API token secret").Get()
	if err != nil {
		return err
	}
	token, err := rpc.IssueToken(secret, cfg.RPC.JWTIssuer, common.HexToAddress(*subject), *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runDump(args []string) error {
	fs := flag.NewFlagSet(dumpCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the licensed config file")
	dataDir := fs.String("datadir", "", "Override the data directory from the config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	dir := cfg.DataDir
	if strings.TrimSpace(*dataDir) != "" {
		dir = *dataDir
	}
	db, err := storage.NewLevelDB(filepath.Join(dir, "state"))
	if err != nil {
		return fmt.Errorf("open database (is licensed still running?): %w", err)
	}
	defer db.Close()
	manager, err := state.NewManager(db)
	if err != nil {
		return err
	}
	snap, err := manager.LoadSnapshot()
	if err != nil {
		return err
	}
	return writeDump(os.Stdout, manager.Root(), snap)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: licensectl <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  %s   Issue an API bearer token for an address\n", tokenCommand)
	fmt.Fprintf(os.Stderr, "  %s    Print the persisted staking state as YAML\n", dumpCommand)
}
