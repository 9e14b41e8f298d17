package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRobotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robots <domain> <path>",
		Short: "Checks whether a path may be crawled",
		Long: `Evaluates the crawl-exclusion rules for a domain and path, fetching
and caching robots.txt as needed, and prints the decision.`,
		Args: cobra.ExactArgs(2),
		RunE: runRobotsCommand,
	}
	return cmd
}

func runRobotsCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	domain, path := args[0], args[1]
	decision, err := a.Robots.IsPathAllowed(cmd.Context(), domain, path)
	if err != nil {
		return fmt.Errorf("check %s%s: %w", domain, path, err)
	}

	verdict := "allowed"
	if !decision.Allowed {
		verdict = "denied"
	}
	cmd.Printf("%s%s: %s (%s)\n", domain, path, verdict, decision.Reason)
	if decision.CrawlDelay > 0 {
		cmd.Printf("crawl-delay: %s\n", decision.CrawlDelay)
	}
	return nil
}
