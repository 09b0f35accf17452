package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/Tyrowin/wschat/internal/server"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.1.0"
var version = "1.0.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "wschat: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, showVersion, err := loadConfig(args)
	if err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("wschat %s\n", version)
		return nil
	}

	fmt.Println("Starting wschat server...")

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Println("Received shutdown signal")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Stop(stopCtx)
}

// loadConfig layers defaults, the optional YAML file, WSCHAT_* variables and
// explicitly set flags, in that order.
func loadConfig(args []string) (*server.Config, bool, error) {
	fs := flag.NewFlagSet("wschat", flag.ContinueOnError)

	var (
		configPath     string
		host           string
		port           string
		maxConnections int
		allowedOrigin  string
		tlsCert        string
		tlsKey         string
		showVersion    bool
	)
	fs.StringVarP(&configPath, "config", "c", os.Getenv("WSCHAT_CONFIG"), "Path to a YAML config file")
	fs.StringVarP(&host, "host", "H", "", "Host to listen on")
	fs.StringVarP(&port, "port", "p", "", "Port to listen on")
	fs.IntVarP(&maxConnections, "max-connections", "m", 0, "Maximum concurrent sessions (values <= 1 mean 100)")
	fs.StringVar(&allowedOrigin, "allowed-origin", "", "Only accept connections from this origin")
	fs.StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&tlsKey, "tls-key", "", "TLS private key file")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if showVersion {
		return nil, true, nil
	}

	cfg := server.NewConfig()
	if configPath != "" {
		if err := server.LoadConfigFile(cfg, configPath); err != nil {
			return nil, false, err
		}
	}
	if err := server.ApplyEnv(cfg); err != nil {
		return nil, false, err
	}

	if fs.Changed("host") {
		cfg.Host = host
	}
	if fs.Changed("port") {
		cfg.Port = port
	}
	if fs.Changed("max-connections") {
		cfg.MaxConnections = maxConnections
	}
	if fs.Changed("allowed-origin") {
		cfg.AllowedOrigin = allowedOrigin
	}
	if fs.Changed("tls-cert") {
		cfg.TLS.CertFile = tlsCert
	}
	if fs.Changed("tls-key") {
		cfg.TLS.KeyFile = tlsKey
	}

	return cfg, false, nil
}
