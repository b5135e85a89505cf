// Command tabpermclean sweeps permission grants of denylisted principals
// off the configured Tableau sites: projects with their default permission
// templates, workbooks and data sources. Exit code 0 means every configured
// site was swept cleanly.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/prune"
	"github.com/biops-tools/tableau-ad-sync/tableau"
	"github.com/biops-tools/tableau-ad-sync/zabbix"
)

var options struct {
	ConfigFile string `long:"config" description:"Config file path" required:"true"`
	Noop       bool   `long:"noop" description:"Log would-be removals without applying them"`
	ZabbixTest bool   `long:"zabbix-test" description:"Push a test metric and exit"`
}

func main() {
	if _, err := flags.Parse(&options); err != nil {
		os.Exit(2)
	}
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(options.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}
	logger, err := config.ConfigureLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure logging:", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if options.ZabbixTest {
		pushMetric(cfg, logger, 0)
		return 0
	}

	exitCode := 0
	if err := sweep(cfg, logger); err != nil {
		logger.Errorw("Permission sweep failed", zap.Error(err))
		exitCode = 1
	}
	pushMetric(cfg, logger, exitCode)
	return exitCode
}

func sweep(cfg *config.Config, logger *zap.SugaredLogger) error {
	if cfg.Cleanup == nil {
		return errors.New("cleanup section missing from config")
	}

	target, err := tableau.NewClient(&cfg.Tableau, logger, options.Noop)
	if err != nil {
		return err
	}
	if err := target.SignIn(""); err != nil {
		return err
	}
	defer func() {
		if err := target.SignOut(); err != nil {
			logger.Warnw("failed to sign out", zap.Error(err))
		}
	}()

	pruner := prune.NewPruner(cfg.Cleanup, target, logger)
	return pruner.Run()
}

func pushMetric(cfg *config.Config, logger *zap.SugaredLogger, value int) {
	if cfg.Zabbix == nil {
		return
	}
	sender, err := zabbix.NewSender(cfg.Zabbix, logger)
	if err != nil {
		logger.Warnw("zabbix sender unavailable", zap.Error(err))
		return
	}
	if err := sender.Send(value); err != nil {
		logger.Warnw("failed to push zabbix metric", zap.Error(err))
	}
}
