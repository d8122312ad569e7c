package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Luismorlan/utxo_chain/commands"
	"github.com/Luismorlan/utxo_chain/config"
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/full_node"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/urfave/cli/v2"
)

func main() {
	configFlag := &cli.StringFlag{
		Name:  "config_path",
		Usage: "path to the node config, defaults apply when empty",
	}
	logLevelFlag := &cli.StringFlag{
		Name:  "log_level",
		Usage: "overrides the configured log level",
	}

	app := &cli.App{
		Name:  "full_node",
		Usage: "A single process UTXO chain with local miners and wallets",
		Commands: []*cli.Command{
			{
				Name:   "simulate",
				Usage:  "Run the two wallet payment scenario and print the balances",
				Flags:  []cli.Flag{configFlag, logLevelFlag},
				Action: simulate,
			},
			{
				Name:  "interactive",
				Usage: "Create genesis, run the miners and read commands from stdin",
				Flags: []cli.Flag{
					configFlag,
					logLevelFlag,
					&cli.StringFlag{
						Name:  "wallet_file",
						Usage: "file holding the node wallet keys, loaded on start and saved on exit",
					},
				},
				Action: interactive,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (config.AppConfig, ulogger.Logger, error) {
	cfg := config.NewDefaultAppConfig()

	if path := c.String("config_path"); path != "" {
		var err error
		if cfg, err = config.LoadAppConfig(path); err != nil {
			return cfg, nil, err
		}
	}

	if level := c.String("log_level"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, ulogger.New("node", ulogger.WithLevel(cfg.LogLevel)), nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func simulate(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	_, err = full_node.Simulate(ctx, logger, cfg, os.Stdout)

	return err
}

func interactive(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	node, err := full_node.NewFullNode(logger, cfg)
	if err != nil {
		return err
	}
	defer node.Close()

	walletFile := c.String("wallet_file")
	if walletFile != "" {
		if _, err = os.Stat(walletFile); err == nil {
			if err = node.Wallet().LoadAccounts(walletFile); err != nil {
				return err
			}
		}

		defer func() {
			if err := node.Wallet().SaveAccounts(walletFile); err != nil {
				logger.Errorf("failed to save wallet to %s: %v", walletFile, err)
			}
		}()
	}

	genesis, err := node.CreateGenesisBlock(ctx)
	switch {
	case err == nil:
		fmt.Printf("genesis %s created, %d miners paused\n", genesis.Hash, len(node.Miners()))
	case errors.Is(err, errors.ErrBlockExists):
		height, err := node.Chain().Height(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("resuming at height %d, %d miners paused\n", height, len(node.Miners()))
	default:
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- node.Run(ctx)
	}()

	go readCommands(ctx, cancel, node)

	<-ctx.Done()
	node.Stop()

	return <-done
}

// readCommands executes stdin lines until EOF, which ends the session.
func readCommands(ctx context.Context, cancel context.CancelFunc, node *full_node.FullNode) {
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		cmd, err := commands.CreateCommand(line)
		if err == nil {
			err = node.HandleCommand(ctx, cmd, os.Stdout)
		}

		if err != nil {
			var e *errors.Error
			if errors.As(err, &e) {
				fmt.Printf("%s: %s\n", e.Code(), e.Message())
			} else {
				fmt.Println(err)
			}
		}

		fmt.Print("> ")
	}
}
