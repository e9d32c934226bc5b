package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"cryptochat/internal/config"
	"cryptochat/internal/market"
)

var (
	newsSearch  string
	newsPage    int
	newsPerPage int
)

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Show trending coins, NFTs and categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		marketClient := market.NewClient(config.NewConfig())
		trending, err := marketClient.Trending(cmd.Context())
		if err != nil {
			return err
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, trending.Data, "", "  "); err != nil {
			return fmt.Errorf("failed to format trending data: %w", err)
		}
		fmt.Println(pretty.String())
		return nil
	},
}

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Show the latest crypto news",
	RunE: func(cmd *cobra.Command, args []string) error {
		marketClient := market.NewClient(config.NewConfig())
		news, err := marketClient.News(cmd.Context(), newsSearch, newsPage, newsPerPage)
		if err != nil {
			return err
		}
		for _, item := range news.News {
			fmt.Printf("%s — %s\n  %s\n", item.Source, item.Title, item.URL)
		}
		return nil
	},
}

func init() {
	newsCmd.Flags().StringVar(&newsSearch, "search", "", "filter news by coin name or symbol")
	newsCmd.Flags().IntVar(&newsPage, "page", 1, "page number")
	newsCmd.Flags().IntVar(&newsPerPage, "per-page", 10, "items per page")
	rootCmd.AddCommand(trendingCmd)
	rootCmd.AddCommand(newsCmd)
}
