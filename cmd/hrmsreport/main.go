// Command hrmsreport mails escalating reports about Tableau content still
// owned by users the HR system lists as leaving. State lives in a small
// JSON ledger so every escalation step goes out exactly once.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/hrms"
	"github.com/biops-tools/tableau-ad-sync/notify"
	"github.com/biops-tools/tableau-ad-sync/offboard"
	"github.com/biops-tools/tableau-ad-sync/tableau"
	"github.com/biops-tools/tableau-ad-sync/zabbix"
)

const defaultStateFile = "leaving-users-mail-status.json"

var options struct {
	ConfigFile string   `long:"config" description:"Config file path" required:"true"`
	MailTo     []string `long:"mail-to" short:"m" description:"Override the configured recipient list"`
	ZabbixTest bool     `long:"zabbix-test" description:"Push a test metric and exit"`
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
	if err := report(cfg, logger); err != nil {
		logger.Errorw("Offboarding report run failed", zap.Error(err))
		exitCode = 1
	}
	pushMetric(cfg, logger, exitCode)
	return exitCode
}

func report(cfg *config.Config, logger *zap.SugaredLogger) error {
	switch {
	case cfg.Offboard == nil:
		return errors.New("offboard section missing from config")
	case cfg.HRMS == nil:
		return errors.New("hrms section missing from config")
	case cfg.Mail == nil:
		return errors.New("mail section missing from config")
	}
	clk := clock.RealClock{}

	hrmsClient, err := hrms.New(cfg.HRMS, logger)
	if err != nil {
		return err
	}
	if err := hrmsClient.Authenticate(); err != nil {
		return err
	}

	target, err := tableau.NewClient(&cfg.Tableau, logger, false)
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

	stateFile := cfg.Offboard.StateFile
	if stateFile == "" {
		stateFile = defaultStateFile
	}
	ledger, err := notify.OpenLedger(stateFile, clk)
	if err != nil {
		return err
	}
	mailer, err := notify.NewMailer(cfg.Mail, logger)
	if err != nil {
		return err
	}

	mailTo := cfg.Offboard.MailTo
	if len(options.MailTo) > 0 {
		mailTo = options.MailTo
	}

	reporter := offboard.NewReporter(hrmsClient, target, ledger, mailer, mailTo, clk, logger)
	return reporter.Run()
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
