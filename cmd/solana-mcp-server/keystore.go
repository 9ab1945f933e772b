package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"solana-mcp/go-backend/internal/securestore"
	"solana-mcp/go-backend/internal/wallet"

	"github.com/spf13/cobra"
)

const defaultPassphraseEnv = "SOLANA_MCP_KEYSTORE_PASSPHRASE"

func newKeystoreCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage encrypted mnemonic keystores referenced by wallet configuration",
	}
	cmd.AddCommand(newKeystoreCreateCommand(stdin, stdout), newKeystoreInspectCommand(stdout))
	return cmd
}

func newKeystoreCreateCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var (
		passphraseEnv string
		generate      bool
	)
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Seal a BIP-39 mnemonic read from stdin (or a new one with --generate) into a keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("passphrase env %s is empty", passphraseEnv)
			}
			var mnemonic string
			if generate {
				m, err := wallet.NewMnemonic()
				if err != nil {
					return err
				}
				mnemonic = m
			} else {
				m, err := readMnemonic(stdin)
				if err != nil {
					return err
				}
				mnemonic = m
			}
			addr, err := wallet.SealMnemonic(args[0], passphrase, mnemonic)
			if err != nil {
				return fmt.Errorf("create keystore: %w", err)
			}
			_, err = fmt.Fprintln(stdout, addr)
			return err
		},
	}
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", defaultPassphraseEnv, "environment variable holding the keystore passphrase")
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a new 24-word mnemonic instead of reading one")
	return cmd
}

func newKeystoreInspectCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print the address recorded in a keystore without decrypting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			env, err := securestore.ReadEnvelope(args[0])
			if err != nil {
				return fmt.Errorf("read keystore: %w", err)
			}
			if env.Address == "" {
				return errors.New("keystore does not record an address")
			}
			_, err = fmt.Fprintf(stdout, "%s\tkdf=%s\n", env.Address, env.KDF)
			return err
		},
	}
}

func readMnemonic(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read mnemonic: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no mnemonic on stdin")
	}
	return line, nil
}
