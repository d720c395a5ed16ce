package keys

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
)

type BackupCommand struct {
	*base.Command

	flagConfig string
	flagOut    string
}

func (c *BackupCommand) Synopsis() string {
	return "Write a passphrase-protected key backup"
}

func (c *BackupCommand) Help() string {
	return `Usage: gruenerator keys backup [options]

  Encrypt the master key under a passphrase and write the backup blob,
  base64-encoded, to the output file. The backup restores on any
  deployment of the assistant.` + c.Flags().Help()
}

func (c *BackupCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("backup", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagOut, "out", "gruenerator-key.backup",
		"Output file for the backup blob.",
	)

	return f
}

func (c *BackupCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	store := encryption.NewKeyStore(afero.NewOsFs(), cfg.Encryption.KeyPath)
	key, err := store.Load()
	if err != nil {
		ui.Error(fmt.Sprintf("error loading key: %v", err))
		return 1
	}

	passphrase, err := ui.AskSecret("Backup passphrase:")
	if err != nil {
		ui.Error(fmt.Sprintf("error reading passphrase: %v", err))
		return 1
	}
	confirm, err := ui.AskSecret("Repeat passphrase:")
	if err != nil {
		ui.Error(fmt.Sprintf("error reading passphrase: %v", err))
		return 1
	}
	if passphrase != confirm {
		ui.Error("passphrases do not match")
		return 1
	}

	blob, err := encryption.EncryptBackup(key, passphrase)
	if err != nil {
		ui.Error(fmt.Sprintf("error encrypting backup: %v", err))
		return 1
	}

	encoded := base64.StdEncoding.EncodeToString(blob)
	if err := os.WriteFile(c.flagOut, []byte(encoded+"\n"), 0o600); err != nil {
		ui.Error(fmt.Sprintf("error writing backup file: %v", err))
		return 1
	}

	ui.Info(fmt.Sprintf("Key backup written to %s", c.flagOut))
	return 0
}
