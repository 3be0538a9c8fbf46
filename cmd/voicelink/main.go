package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/srtp-lab/voicelink/pkg/runner"
	"github.com/srtp-lab/voicelink/pkg/voicelink"
)

func main() {
	configPath := cli.StringP("config", "c", "config.yaml", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log-level", "l", "", "Log level override")
	username := cli.StringP("username", "u", "", "Log in as this user before starting")
	logout := cli.Bool("logout", false, "Clear the stored identity and exit")
	cli.Parse()

	_ = godotenv.Load(*envFile)

	cfg, err := voicelink.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *username != "" {
		cfg.Identity.Username = *username
	}

	engine, err := voicelink.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		os.Exit(1)
	}

	if *logout {
		if err := engine.Logout(); err != nil {
			fmt.Fprintf(os.Stderr, "voicelink: logout: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("identity cleared")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *username != "" {
		if err := engine.Login(ctx, *username); err != nil {
			fmt.Fprintf(os.Stderr, "voicelink: login: %v\n", err)
			os.Exit(1)
		}
	}

	lifecycle := runner.NewLifecycleRunner(drainFunc(func() error {
		engine.Stop()
		return nil
	}), runner.Hooks{}, 0)

	go func() {
		if err := engine.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		}
		_ = lifecycle.Stop()
	}()

	if err := lifecycle.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		os.Exit(1)
	}
}

type drainFunc func() error

func (f drainFunc) Drain() error { return f() }
