package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/mailchat"
	"github.com/vdavid/mailchat/internal/models"
)

type opener func(ctx context.Context) (*app, func(), error)

// newRootCmd builds the command tree. Subcommands call open lazily, so --help
// works without a database.
func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "mailchat",
		Short: "Chat over plain email",
		Long: `mailchat turns an ordinary mailbox into a chat backend.

Examples:
  mailchat migrate
  mailchat account add --name Me --email me@example.com --imap-host imap.example.com --smtp-host smtp.example.com --password secret
  mailchat sync 1
  mailchat send --account 1 --to alice@example.com --body "Hi"
  mailchat poll`,
		SilenceUsage: true,
	}

	// withApp opens the app for the duration of one command.
	withApp := func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			return run(cmd, args, a)
		}
	}

	root.AddCommand(
		newMigrateCmd(withApp),
		newAccountCmd(withApp),
		newSyncCmd(withApp),
		newProbeCmd(withApp),
		newSendCmd(withApp),
		newSendGroupCmd(withApp),
		newPollCmd(withApp),
	)
	return root
}

type appRunner func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error

func newMigrateCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := db.Migrate(cmd.Context(), a.pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		}),
	}
}

func newAccountCmd(withApp appRunner) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage mail accounts",
	}

	var req models.AccountRequest
	var noTLS bool
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a mail account",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if noTLS {
				useTLS := false
				req.UseSSL = &useTLS
			}
			account, err := req.ToAccount()
			if err != nil {
				return err
			}
			if err := a.store.CreateAccount(cmd.Context(), account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %d created for %s\n", account.ID, account.Email)
			return nil
		}),
	}
	flags := addCmd.Flags()
	flags.StringVar(&req.Name, "name", "", "display name")
	flags.StringVar(&req.Email, "email", "", "account address")
	flags.StringVar(&req.Login, "login", "", "login name when it differs from the address")
	flags.StringVar(&req.IMAPHost, "imap-host", "", "IMAP server host")
	flags.IntVar(&req.IMAPPort, "imap-port", 993, "IMAP server port")
	flags.StringVar(&req.SMTPHost, "smtp-host", "", "SMTP server host")
	flags.IntVar(&req.SMTPPort, "smtp-port", 587, "SMTP server port")
	flags.StringVar(&req.Password, "password", "", "mailbox password")
	flags.StringVar(&req.SMTPPassword, "smtp-password", "", "SMTP password, defaults to --password")
	flags.StringVar(&req.SMTPSecurity, "security", "auto", "SMTP security: auto, ssl, starttls or plain")
	flags.BoolVar(&noTLS, "no-tls", false, "connect to IMAP without TLS")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List mail accounts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			accounts, err := a.store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tIMAP\tSMTP\tSECURITY")
			for _, account := range accounts {
				fmt.Fprintf(w, "%d\t%s\t%s:%d\t%s:%d\t%s\n",
					account.ID, account.Email, account.IMAPHost, account.IMAPPort,
					account.SMTPHost, account.SMTPPort, account.SMTPSecurity)
			}
			return w.Flush()
		}),
	}

	accountCmd.AddCommand(addCmd, listCmd)
	return accountCmd
}

func newSyncCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [account-id]",
		Short: "Fetch new mail once, for one account or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if len(args) == 0 {
				round, err := a.poller.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %d of %d accounts, %d failed, %d new messages\n",
					round.Synced, round.Accounts, round.Failed, round.Saved)
				return nil
			}

			accountID, err := parseID(args[0])
			if err != nil {
				return err
			}
			saved, err := a.poller.SyncAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %d: %d new messages\n", accountID, saved)
			return nil
		}),
	}
}

func newProbeCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <account-id>",
		Short: "Check that an account's mailbox is reachable and show what the next sync would fetch",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			accountID, err := parseID(args[0])
			if err != nil {
				return err
			}
			info, err := a.engine.Probe(cmd.Context(), accountID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Messages:     %d\n", info.Messages)
			fmt.Fprintf(out, "UIDVALIDITY:  %d\n", info.UIDValidity)
			fmt.Fprintf(out, "UIDNEXT:      %d\n", info.UIDNext)
			fmt.Fprintf(out, "Watermark:    %d\n", info.Watermark)
			fmt.Fprintf(out, "Pending:      %d\n", info.Pending)
			fmt.Fprintf(out, "Capabilities: %v\n", info.Capabilities)
			return nil
		}),
	}
}

// sendFlags are shared by send and send-group.
type sendFlags struct {
	req         mailchat.SendRequest
	attachments []string
}

func (f *sendFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int64Var(&f.req.AccountID, "account", 0, "account ID to send from")
	flags.StringVar(&f.req.Body, "body", "", "message text")
	flags.BoolVar(&f.req.IsHTML, "html", false, "treat --body as HTML")
	flags.StringVar(&f.req.InReplyTo, "reply-to", "", "Message-ID being answered")
	flags.StringArrayVar(&f.attachments, "attach", nil, "file to attach, repeatable")
	_ = cmd.MarkFlagRequired("account")
}

// request returns the send request with the attachment files read and encoded.
func (f *sendFlags) request() (mailchat.SendRequest, error) {
	req := f.req
	for _, path := range f.attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("failed to read attachment: %w", err)
		}
		req.Attachments = append(req.Attachments, models.OutboundAttachment{
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        base64.StdEncoding.EncodeToString(data),
		})
	}
	return req, nil
}

func newSendCmd(withApp appRunner) *cobra.Command {
	var flags sendFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a chat message",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			msg, err := a.engine.SendMessage(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", msg.ExternalMessageID, msg.ContactEmail)
			return nil
		}),
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.req.To, "to", "", "recipient address")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newSendGroupCmd(withApp appRunner) *cobra.Command {
	var flags sendFlags
	cmd := &cobra.Command{
		Use:   "send-group",
		Short: "Send a chat message to every member of a group",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			msg, err := a.engine.SendGroupMessage(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to group %d\n", msg.GroupID)
			return nil
		}),
	}
	flags.register(cmd)
	cmd.Flags().Int64Var(&flags.req.GroupID, "group", 0, "group ID")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newPollCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Sync every account on the configured interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			return a.poller.Run(cmd.Context())
		}),
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
