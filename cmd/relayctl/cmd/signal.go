package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const webhookTokenHeader = "X-Webhook-Token"

func newSignalCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Work with trading signals",
	}
	cmd.AddCommand(newSignalSendCmd(env))
	return cmd
}

func newSignalSendCmd(env *environment) *cobra.Command {
	var file, url, token string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send",
		Short: "POST a JSON signal file to a running webhook",
		Long: `Send replays an alert payload against the relay, for example:

  relayctl signal send --file long.json --url http://localhost:8080/webhook

The token defaults to WEBHOOK_TOKEN from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read signal: %w", err)
			}
			if token == "" {
				if cfg, err := env.loadConfig(); err == nil {
					token = cfg.WebhookToken
				}
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set(webhookTokenHeader, token)
			}
			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				return fmt.Errorf("post signal: %w", err)
			}
			defer resp.Body.Close()
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(raw)))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("webhook returned %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "signal JSON file")
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/webhook", "webhook URL")
	cmd.Flags().StringVar(&token, "token", "", "webhook token (defaults to WEBHOOK_TOKEN)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "request timeout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
