package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cryptochat/internal/config"
	"cryptochat/internal/newsletter"
)

var (
	newsletterEmail  string
	newsletterTopics []string
	newsletterName   string
)

var newsletterCmd = &cobra.Command{
	Use:   "newsletter",
	Short: "Manage newsletter subscriptions",
}

var newsletterSubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe an email address to the newsletter",
	RunE: func(cmd *cobra.Command, args []string) error {
		newsletterClient := newsletter.NewClient(config.NewConfig())
		result, err := newsletterClient.Subscribe(cmd.Context(), newsletterEmail, newsletterTopics, newsletterName)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil
	},
}

var newsletterUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Unsubscribe an email address from the newsletter",
	RunE: func(cmd *cobra.Command, args []string) error {
		newsletterClient := newsletter.NewClient(config.NewConfig())
		result, err := newsletterClient.Unsubscribe(cmd.Context(), newsletterEmail)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil
	},
}

func init() {
	newsletterSubscribeCmd.Flags().StringVar(&newsletterEmail, "email", "", "email address (required)")
	newsletterSubscribeCmd.Flags().StringSliceVar(&newsletterTopics, "topics", nil, "newsletter topics (required)")
	newsletterSubscribeCmd.Flags().StringVar(&newsletterName, "name", "", "subscriber name")
	newsletterSubscribeCmd.MarkFlagRequired("email")
	newsletterSubscribeCmd.MarkFlagRequired("topics")

	newsletterUnsubscribeCmd.Flags().StringVar(&newsletterEmail, "email", "", "email address (required)")
	newsletterUnsubscribeCmd.MarkFlagRequired("email")

	newsletterCmd.AddCommand(newsletterSubscribeCmd)
	newsletterCmd.AddCommand(newsletterUnsubscribeCmd)
	rootCmd.AddCommand(newsletterCmd)
}
