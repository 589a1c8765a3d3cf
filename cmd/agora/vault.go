package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/store"
	"github.com/mkelaidis/agora/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("vault passphrase is required (set AGORA_VAULT_PASSPHRASE)")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	v := vault.New(cfg.Vault.Passphrase, db)

	switch args[0] {
	case "list":
		return vaultList(v)
	case "set":
		return vaultSet(v, args[1:])
	case "get":
		return vaultGet(v, args[1:])
	case "delete":
		return vaultDelete(v, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: agora vault <command>

Commands:
  list                         List stored secret names
  set <name> --value <str>     Store a string secret
  set <name> --file <path>     Store a secret from a file
  get <name>                   Retrieve and decrypt a secret
  delete <name>                Delete a secret

Environment:
  AGORA_VAULT_PASSPHRASE       Required. Encryption passphrase.
`)
}

func vaultList(v *vault.Vault) error {
	names, err := v.Names()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME")
	for _, name := range names {
		fmt.Fprintf(w, "%s\n", name)
	}
	return w.Flush()
}

func vaultSet(v *vault.Vault, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: agora vault set <name> --value <string> | --file <path>")
	}

	name := args[0]
	var value []byte

	switch args[1] {
	case "--value":
		value = []byte(args[2])
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	if err := v.Put(name, value); err != nil {
		return err
	}
	fmt.Printf("Secret %s stored.\n", name)
	return nil
}

func vaultGet(v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: agora vault get <name>")
	}
	plaintext, err := v.Get(args[0])
	if err != nil {
		return err
	}
	os.Stdout.Write(plaintext)
	fmt.Println()
	return nil
}

func vaultDelete(v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: agora vault delete <name>")
	}
	if err := v.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %s deleted.\n", args[0])
	return nil
}
