package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var chatModelPath string

var chatCmd = &cobra.Command{
	Use:     "chat <file> <question>",
	Short:   "Ask a question about a scored customer table",
	Example: `  churnlens chat customers.csv "Which contract types churn most?"`,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openSession(cmd.Context(), args[0], chatModelPath)
		if err != nil {
			return err
		}
		reply, err := svc.Chat(cmd.Context(), strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if reply.Fallback {
			fmt.Fprintln(cmd.ErrOrStderr(), "⚠ language model unavailable")
		}
		fmt.Fprintln(out, reply.Response)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatModelPath, "model", "", "model artifact (.yaml/.json), overrides model_path")
}
