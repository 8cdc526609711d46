package main

import (
	"fmt"
	"time"

	"github.com/jedarden/forge/pkg/config"
	"github.com/jedarden/forge/pkg/cost"
	"github.com/jedarden/forge/pkg/optimizer"
	"github.com/jedarden/forge/pkg/subscription"
	"github.com/spf13/cobra"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Print cost optimizer recommendations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, home, err := configPath()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg, err := config.Load(path, home)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := cost.Open(cfg.Paths.CostDB)
		if err != nil {
			return fmt.Errorf("open cost store: %w", err)
		}
		defer db.Close()

		days, _ := cmd.Flags().GetInt("days")
		dates := make([]string, 0, days)
		now := time.Now()
		for i := 0; i < days; i++ {
			dates = append(dates, now.AddDate(0, 0, -i).Format("2006-01-02"))
		}

		opt := optimizer.New(db, subscription.NewTracker(db))
		report, err := opt.Analyze(dates)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}

		if len(report.Recommendations) == 0 {
			fmt.Println("No recommendations.")
		}
		for _, r := range report.Recommendations {
			fmt.Printf("[%3d] %-22s %-20s %s (est. savings $%.2f)\n",
				r.Priority, r.Type, r.Subject, r.Description, r.EstimatedSavings)
		}
		fmt.Println()
		fmt.Printf("Achieved savings: subscription-vs-API $%.2f, budget-vs-premium $%.2f\n",
			report.AchievedSavings.SubscriptionVsAPIUSD, report.AchievedSavings.BudgetVsPremiumUSD)
		return nil
	},
}

func init() {
	optimizeCmd.Flags().Int("days", 7, "Number of trailing days of model performance to analyze")
}
