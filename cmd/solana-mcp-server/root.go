package main

import (
	"fmt"
	"io"
	"strings"

	"solana-mcp/go-backend/internal/config"
	"solana-mcp/go-backend/internal/wallet"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootFlags struct {
	configPath        string
	rpcURL            string
	walletPath        string
	port              int
	logLevel          string
	transport         string
	listen            string
	wallets           []string
	metricsAddr       string
	readOnly          bool
	requireInitialize bool
	initializeOnStart bool
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "solana-mcp-server",
		Short: "JSON-RPC 2.0 server exposing Solana wallet, transaction, contract and token capabilities",
		Long: `solana-mcp-server reads one JSON-RPC 2.0 message per line (stdin by default,
or a socket with --transport socket) and answers each request with one line.
Protocol output goes to stdout; logs go to stderr.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), &cfg, flags); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, stdin, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "path to config.yaml (default configs/config.yaml when present)")
	f.StringVar(&flags.rpcURL, "rpc-url", config.DefaultRPCURL, "Solana JSON-RPC endpoint")
	f.StringVar(&flags.walletPath, "wallet-path", "", "base directory for relative keystore paths")
	f.IntVar(&flags.port, "port", config.DefaultPort, "TCP port for the socket transport")
	f.StringVar(&flags.logLevel, "log-level", "INFO", "DEBUG | INFO | WARNING | ERROR | CRITICAL")
	f.StringVar(&flags.transport, "transport", config.TransportStdio, "stdio | socket")
	f.StringVar(&flags.listen, "listen", "", "socket listen multiaddr (overrides --port), e.g. /unix/tmp/solana-mcp.sock")
	f.StringArrayVar(&flags.wallets, "wallet", nil, "watch-only wallet as name=address (repeatable)")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /healthz and /metrics on this host:port")
	f.BoolVar(&flags.readOnly, "read-only", false, "reject methods that submit transactions")
	f.BoolVar(&flags.requireInitialize, "require-initialize", false, "reject methods other than initialize and shutdown until initialized")
	f.BoolVar(&flags.initializeOnStart, "initialize-on-start", true, "connect to the ledger before reading input and exit if it fails")

	cmd.AddCommand(newKeystoreCommand(stdin, stdout))
	return cmd
}

// applyFlags overlays flags the user set explicitly; defaults never clobber
// file or environment settings.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config, flags rootFlags) error {
	if fs.Changed("rpc-url") {
		cfg.RPCURL = flags.rpcURL
	}
	if fs.Changed("wallet-path") {
		cfg.WalletPath = flags.walletPath
	}
	if fs.Changed("port") {
		cfg.Port = flags.port
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if fs.Changed("transport") {
		cfg.Transport = flags.transport
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = flags.listen
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if fs.Changed("read-only") {
		cfg.ReadOnly = flags.readOnly
	}
	if fs.Changed("require-initialize") {
		cfg.RequireInitialize = flags.requireInitialize
	}
	if fs.Changed("initialize-on-start") {
		cfg.InitializeOnStart = flags.initializeOnStart
	}
	if len(flags.wallets) > 0 {
		specs := make([]wallet.Spec, 0, len(flags.wallets))
		for _, raw := range flags.wallets {
			spec, err := parseWalletFlag(raw)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}
		cfg.Wallets = append(specs, cfg.Wallets...)
	}
	return nil
}

func parseWalletFlag(raw string) (wallet.Spec, error) {
	name, addr, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	addr = strings.TrimSpace(addr)
	if !ok || name == "" || addr == "" {
		return wallet.Spec{}, fmt.Errorf("--wallet %q: want name=address", raw)
	}
	return wallet.Spec{Name: name, Address: addr}, nil
}
