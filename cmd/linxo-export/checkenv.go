package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/di"
	"github.com/spf13/cobra"
)

// envCheck is one line of the check-env report
type envCheck struct {
	Name   string
	OK     bool
	Detail string
}

func newCheckEnvCmd(flags *di.CLIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Check that credentials and the mailbox token are configured, without signing in.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := di.BuildCLIContainer(flags)
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}
			return container.Invoke(func(cfg *config.Config) error {
				checks := checkEnvironment(cfg)
				if failed := printChecks(cmd.OutOrStdout(), checks); failed > 0 {
					return fmt.Errorf("%d of %d checks failed", failed, len(checks))
				}
				return nil
			})
		},
	}
}

// checkEnvironment reports on the settings an export needs. Secret values are
// never echoed, only whether they are present.
func checkEnvironment(cfg *config.Config) []envCheck {
	linxo := cfg.GetLinxo()
	checks := []envCheck{
		presence("LINXO_EMAIL", linxo.Email),
		presence("LINXO_PASSWORD", linxo.Password),
		presence("API_KEY", cfg.GetString("server.api_key")),
	}

	if err := linxo.Validate(); err != nil {
		checks = append(checks, envCheck{Name: "portal configuration", Detail: err.Error()})
	} else {
		checks = append(checks, envCheck{Name: "portal configuration", OK: true, Detail: "valid"})
	}

	mailbox, err := cfg.GetMailbox()
	if err != nil {
		return append(checks, envCheck{Name: "mailbox", Detail: err.Error()})
	}
	switch mailbox.Type {
	case "gmail":
		checks = append(checks, checkGmail(cfg.GetGmail()))
	case "imap":
		imap := cfg.GetIMAP()
		if imap.Host == "" || imap.Username == "" || imap.Password == "" {
			checks = append(checks, envCheck{Name: "IMAP mailbox", Detail: "host, username and password are all required"})
		} else {
			checks = append(checks, envCheck{Name: "IMAP mailbox", OK: true, Detail: fmt.Sprintf("%s@%s", imap.Username, imap.Host)})
		}
	}

	delivery, err := cfg.GetDelivery()
	if err != nil {
		checks = append(checks, envCheck{Name: "delivery", Detail: err.Error()})
	} else if delivery.Type == "webhook" {
		checks = append(checks, presence("WEBHOOK_URL", cfg.GetString("delivery.webhook.url")))
	}

	return checks
}

func checkGmail(gmail config.GmailConfig) envCheck {
	if gmail.ServiceAccountJSON != "" {
		return envCheck{Name: "GMAIL credentials", OK: true, Detail: "service account"}
	}
	name, raw := "GMAIL_TOKEN_JSON", gmail.TokenJSON
	if raw == "" {
		if gmail.TokenFile == "" {
			return envCheck{Name: name, Detail: "not set"}
		}
		data, err := os.ReadFile(gmail.TokenFile)
		if err != nil {
			return envCheck{Name: name, Detail: fmt.Sprintf("not set and token file %s is unreadable", gmail.TokenFile)}
		}
		name, raw = "Gmail token file "+gmail.TokenFile, string(data)
	}

	missing, err := config.ValidateGmailToken(raw)
	if err != nil {
		return envCheck{Name: name, Detail: err.Error()}
	}
	if len(missing) > 0 {
		return envCheck{Name: name, Detail: "missing fields: " + strings.Join(missing, ", ")}
	}
	return envCheck{Name: name, OK: true, Detail: fmt.Sprintf("valid (%d chars)", len(raw))}
}

func presence(name, value string) envCheck {
	if value == "" {
		return envCheck{Name: name, Detail: "not set"}
	}
	return envCheck{Name: name, OK: true, Detail: "set"}
}

func printChecks(out io.Writer, checks []envCheck) int {
	failed := 0
	for _, c := range checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", mark, c.Name, c.Detail)
	}
	return failed
}
