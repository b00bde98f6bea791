package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/dom/htmldom"
	"github.com/Lechros/chatda/internal/mangle"
	"github.com/Lechros/chatda/internal/overlay"
	"github.com/Lechros/chatda/internal/storage"
)

// staticSummary answers every summary request with the same text.
type staticSummary string

func (s staticSummary) Summary(context.Context, string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no summary configured")
	}
	return string(s), nil
}

type inspectReport struct {
	Snapshot overlay.Snapshot     `json:"snapshot"`
	Facts    map[string]int       `json:"facts"`
	Drift    []mangle.QueryResult `json:"drift,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var (
		configPath string
		file       string
		url        string
		summary    string
		compare    []int
		out        string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run the overlay against a saved HTML page without a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := htmldom.Parse(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			if url == "" {
				url = cfg.Site.ListingURL
			}

			engine, err := mangle.NewEngine(cfg.Mangle, zap.NewNop())
			if err != nil {
				return err
			}
			ctrl := overlay.New(overlay.Deps{
				Config:  &cfg,
				Storage: storage.NewMemory(),
				Summary: staticSummary(summary),
				Facts:   engine,
			})
			ctx := cmd.Context()
			ctrl.Init(ctx)
			defer ctrl.Teardown()

			if _, err := ctrl.OnNavigate(ctx, doc, url); err != nil {
				return err
			}
			for _, i := range compare {
				if _, err := ctrl.CompareIndex(ctx, i); err != nil {
					return fmt.Errorf("compare item %d: %w", i, err)
				}
			}
			ctrl.Settle()

			report := inspectReport{Snapshot: ctrl.Snapshot(), Facts: map[string]int{}}
			for _, p := range engine.Predicates() {
				report.Facts[p] = len(engine.FactsByPredicate(p))
			}
			if drift, err := engine.Query(ctx, "drifted(C)."); err == nil {
				report.Drift = drift
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if out != "" {
				return os.WriteFile(out, []byte(doc.Render()), 0644)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file with site settings (defaults when empty)")
	cmd.Flags().StringVar(&file, "file", "", "Saved HTML page")
	cmd.Flags().StringVar(&url, "url", "", "URL the page was loaded from (default: site.listing_url)")
	cmd.Flags().StringVar(&summary, "summary", "", "Summary text served for detail pages")
	cmd.Flags().IntSliceVar(&compare, "compare", nil, "Listing item positions to add to the comparison")
	cmd.Flags().StringVar(&out, "out", "", "Write the decorated page to this file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
