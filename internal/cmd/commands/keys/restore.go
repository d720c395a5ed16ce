package keys

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
)

type RestoreCommand struct {
	*base.Command

	flagConfig string
	flagIn     string
	flagForce  bool
}

func (c *RestoreCommand) Synopsis() string {
	return "Restore the master key from a backup"
}

func (c *RestoreCommand) Help() string {
	return `Usage: gruenerator keys restore [options]

  Decrypt a key backup with its passphrase and write the recovered key
  to the configured key path. Refuses to overwrite an existing key
  unless -force is given.` + c.Flags().Help()
}

func (c *RestoreCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("restore", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.StringVar(
		&c.flagIn, "in", "gruenerator-key.backup",
		"Backup file to restore from.",
	)
	f.BoolVar(
		&c.flagForce, "force", false,
		"Overwrite an existing key file.",
	)

	return f
}

func (c *RestoreCommand) Run(args []string) int {
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

	if _, err := os.Stat(cfg.Encryption.KeyPath); err == nil && !c.flagForce {
		ui.Error(fmt.Sprintf("key file %s already exists, use -force to overwrite", cfg.Encryption.KeyPath))
		return 1
	}

	encoded, err := os.ReadFile(c.flagIn)
	if err != nil {
		ui.Error(fmt.Sprintf("error reading backup file: %v", err))
		return 1
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		ui.Error(fmt.Sprintf("error decoding backup file: %v", err))
		return 1
	}

	passphrase, err := ui.AskSecret("Backup passphrase:")
	if err != nil {
		ui.Error(fmt.Sprintf("error reading passphrase: %v", err))
		return 1
	}

	key, err := encryption.DecryptBackup(blob, passphrase)
	if err != nil {
		ui.Error(fmt.Sprintf("error decrypting backup: %v", err))
		return 1
	}

	store := encryption.NewKeyStore(afero.NewOsFs(), cfg.Encryption.KeyPath)
	if err := store.Replace(key); err != nil {
		ui.Error(fmt.Sprintf("error writing key file: %v", err))
		return 1
	}

	ui.Info(fmt.Sprintf("Master key restored to %s", store.Path()))
	return 0
}
