// Command ad2tabsync reconciles Active Directory users, groups and group
// memberships into Tableau Server, site by site. The exit code reports run
// health to the invoking scheduler: 0 means every site reconciled cleanly.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/directory"
	"github.com/biops-tools/tableau-ad-sync/notify"
	"github.com/biops-tools/tableau-ad-sync/reconcile"
	"github.com/biops-tools/tableau-ad-sync/tableau"
	"github.com/biops-tools/tableau-ad-sync/zabbix"
)

const defaultAdminStateFile = "tableau-admin-notices.json"

var options struct {
	ConfigFile string `long:"config" description:"Config file path" required:"true"`
	Site       string `long:"site" short:"s" description:"Reconcile only this site"`
	Noop       bool   `long:"noop" description:"Log mutations without applying them"`
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
	if err := sync(cfg, logger); err != nil {
		logger.Errorw("Sync run failed", zap.Error(err))
		exitCode = 1
	}
	pushMetric(cfg, logger, exitCode)
	return exitCode
}

func sync(cfg *config.Config, logger *zap.SugaredLogger) error {
	if cfg.Sync == nil {
		return errors.New("sync section missing from config")
	}
	clk := clock.RealClock{}

	dir, err := directory.New(&cfg.Directory, logger, clk)
	if err != nil {
		return err
	}
	defer dir.Close()

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

	var admins *reconcile.AdminNotices
	if cfg.Mail != nil && len(cfg.Sync.AdminMailTo) > 0 {
		mailer, err := notify.NewMailer(cfg.Mail, logger)
		if err != nil {
			return err
		}
		stateFile := cfg.Sync.AdminStateFile
		if stateFile == "" {
			stateFile = defaultAdminStateFile
		}
		ledger, err := notify.OpenLedger(stateFile, clk)
		if err != nil {
			return err
		}
		admins = reconcile.NewAdminNotices(ledger, mailer, cfg.Sync.AdminMailTo, clk, logger)
	} else {
		logger.Warn("Admin notices disabled: no mail config or recipients")
	}

	engine := reconcile.NewEngine(cfg.Sync, dir, target, admins, options.Site, logger)
	return engine.Run()
}

// pushMetric reports the exit code to monitoring; a failed push is logged
// and never changes the run result.
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
