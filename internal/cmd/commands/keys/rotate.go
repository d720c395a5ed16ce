package keys

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/reindex"
)

type RotateCommand struct {
	*base.Command

	flagConfig string
	flagYes    bool
}

func (c *RotateCommand) Synopsis() string {
	return "Rotate the master key and re-encrypt saved texts"
}

func (c *RotateCommand) Help() string {
	return `Usage: gruenerator keys rotate [options]

  Generate a new master key, re-encrypt every saved text from the old
  key to the new one, then replace the key file. The run checkpoints
  its progress and resumes after an interruption. Take a fresh backup
  afterwards; old backups hold the retired key.` + c.Flags().Help()
}

func (c *RotateCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("rotate", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.BoolVar(
		&c.flagYes, "yes", false, "Skip the confirmation prompt.",
	)

	return f
}

func (c *RotateCommand) Run(args []string) int {
	ui, log := c.UI, c.Log

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

	if !c.flagYes {
		answer, err := ui.Ask("Rotate the master key and re-encrypt all saved texts? Only 'yes' proceeds:")
		if err != nil || answer != "yes" {
			ui.Info("Rotation cancelled.")
			return 0
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	inst, err := instance.New(ctx, cfg, log, instance.Options{SkipVectorIndex: true})
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing services: %v", err))
		return 1
	}
	defer inst.Close()

	if inst.Encryption == nil {
		ui.Error("no master key to rotate, run `gruenerator keys init` first")
		return 1
	}

	// The incoming key lives in a pending file until the rotation
	// finishes, so a resumed run re-encrypts with the same key instead
	// of minting another one.
	pending := encryption.NewKeyStore(afero.NewOsFs(), cfg.Encryption.KeyPath+".new")
	var newKey []byte
	if _, statErr := os.Stat(pending.Path()); statErr == nil {
		newKey, err = pending.Load()
		if err != nil {
			ui.Error(fmt.Sprintf("error loading pending key: %v", err))
			return 1
		}
		ui.Info("Resuming an interrupted rotation with the pending key.")
	} else {
		newKey = make([]byte, encryption.KeySize)
		if _, err := rand.Read(newKey); err != nil {
			ui.Error(fmt.Sprintf("error generating new key: %v", err))
			return 1
		}
		if err := pending.Replace(newKey); err != nil {
			ui.Error(fmt.Sprintf("error writing pending key: %v", err))
			return 1
		}
	}
	newSvc, err := encryption.NewService(newKey, log)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing new key: %v", err))
		return 1
	}

	rotator, err := reindex.New(reindex.Config{DB: inst.DB, Logger: log})
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing rotation: %v", err))
		return 1
	}

	report, err := rotator.RotateKey(ctx, inst.Encryption, newSvc)
	if err != nil {
		ui.Error(fmt.Sprintf("rotation failed: %v", err))
		ui.Error("The key file was not replaced. Re-run the command to resume.")
		return 1
	}

	// Replace the key even when single rows failed: the re-encrypted
	// rows decrypt only with the new key.
	if err := inst.Keys.Replace(newKey); err != nil {
		ui.Error(fmt.Sprintf("error replacing key file: %v", err))
		ui.Error("Saved texts are on the new key but the file still holds the old one; re-run to recover.")
		return 1
	}
	if err := os.Remove(pending.Path()); err != nil {
		ui.Warn(fmt.Sprintf("could not remove pending key file %s: %v", pending.Path(), err))
	}

	ui.Info(fmt.Sprintf("Rotated key, re-encrypted %d saved texts (%d failed)",
		report.Processed, report.Failed))
	if report.Failed > 0 {
		ui.Warn("Failed rows kept their old envelope and can no longer be decrypted; inspect the job's last error.")
		return 1
	}
	ui.Warn("Take a fresh backup with `gruenerator keys backup`.")
	return 0
}
