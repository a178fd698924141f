package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	assistanttypes "github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	creditbiz "github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
)

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newBalanceCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show the bucket balances of a user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			acc, err := a.credits.GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user      %s\n", acc.UserID)
			for _, b := range types.BucketOrder {
				bal := acc.Bucket(b)
				fmt.Fprintf(out, "%-9s remaining=%d used=%d\n", b, bal.Remaining, bal.Used)
			}
			fmt.Fprintf(out, "total     %d\n", acc.TotalRemaining())
			return nil
		}),
	}
}

func newPreviewCmd(withApp appRunner) *cobra.Command {
	var (
		model    string
		input    string
		output   string
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Estimate the credits a completion would cost",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			messages := []assistanttypes.Message{assistanttypes.NewTextMessage(assistanttypes.RoleUser, input)}
			if fromFile != "" {
				raw, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				messages = nil
				if err := json.Unmarshal(raw, &messages); err != nil {
					return fmt.Errorf("decode %s: %w", fromFile, err)
				}
			}

			p, err := a.credits.CalculateCredits(model, messages, output, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model   %s\ninput   %d tokens, %d credits\noutput  %d tokens, %d credits\ntotal   %d credits\n",
				p.ModelID, p.InputTokens, p.InputCreditsUsed, p.OutputTokens, p.OutputCreditsUsed, p.TotalCredits)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id")
	cmd.Flags().StringVar(&input, "input", "", "user prompt text")
	cmd.Flags().StringVar(&output, "output", "", "assistant output text")
	cmd.Flags().StringVarP(&fromFile, "messages", "f", "", "JSON file with the prompt messages")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newDeductCmd(withApp appRunner) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "deduct <user-id> <credits>",
		Short: "Deduct credits from a user, free bucket first",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			credits, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("credits must be an integer: %w", err)
			}
			meta := map[string]any{"source": "creditctl"}
			if reason != "" {
				meta["reason"] = reason
			}

			var res *types.DeductResult
			err = creditbiz.RetryOnConflict(cmd.Context(), a.retry, func(ctx context.Context) error {
				r, err := a.credits.DeductCredits(ctx, args[0], credits, meta)
				res = r
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deducted %d: free=%d referral=%d plan=%d topUp=%d\n",
				res.Takes.Total(), res.Takes.Free, res.Takes.Referral, res.Takes.Plan, res.Takes.TopUp)
			return nil
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the log metadata")
	return cmd
}

func newTokenCmd(withApp appRunner) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for a user (development only)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			token, err := a.jwt.GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
