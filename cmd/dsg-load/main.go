// Package main provides a command that loads DSG datasets directly into the
// configured datastore.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.ngs.io/dsg-ingest/internal/adapter/store/csv"
	"go.ngs.io/dsg-ingest/internal/app"
	"go.ngs.io/dsg-ingest/internal/config"
	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/logger"
	"go.ngs.io/dsg-ingest/internal/usecase"
)

const version = "0.1.0"

type loadOptions struct {
	campaign            string
	campaignDescription string
	activity            string
	activityType        string
	platform            string
	platformType        string
	platformColor       string
	include             []string
	start               string
	end                 string
	stride              int
	featureType         string
	overridesPath       string
	sampled             bool
	concurrency         int
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "dsg-load [flags] DATASET_URL...",
		Short: "Load CF discrete sampling geometry datasets into the datastore",
		Long: `dsg-load reads trajectory, timeSeries and timeSeriesProfile NetCDF datasets
from local paths or http(s) URLs and loads their measurements, derived
parameters and summaries. Datastore and optional backends are configured
through the same environment variables as the server.`,
		Version:      version,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := buildRequests(opts, args)
			if err != nil {
				return err
			}
			return runLoads(cmd.Context(), opts, reqs, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&opts.campaign, "campaign", "", "campaign name (required)")
	flags.StringVar(&opts.campaignDescription, "campaign-description", "", "campaign description")
	flags.StringVar(&opts.activity, "activity", "", "activity name (default: dataset file name; single dataset only)")
	flags.StringVar(&opts.activityType, "activity-type", "", "activity type, e.g. \"AUV Mission\"")
	flags.StringVar(&opts.platform, "platform", "", "platform name (required)")
	flags.StringVar(&opts.platformType, "platform-type", "", "platform type, e.g. auv, mooring (required)")
	flags.StringVar(&opts.platformColor, "platform-color", "", "platform display color")
	flags.StringSliceVar(&opts.include, "include", nil, "variables to load (default: all data variables)")
	flags.StringVar(&opts.start, "start", "", "first time to load (RFC3339)")
	flags.StringVar(&opts.end, "end", "", "last time to load (RFC3339)")
	flags.IntVar(&opts.stride, "stride", 1, "load every n-th time step")
	flags.StringVar(&opts.featureType, "feature-type", "", "override the dataset featureType")
	flags.StringVar(&opts.overridesPath, "coordinates", "", "CSV file of per-variable coordinate overrides")
	flags.BoolVar(&opts.sampled, "sampled", false, "summarize as sampled data (10 histogram bins)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "datasets loaded at once (default: MAX_CONCURRENT_LOADS)")
	return cmd
}

// buildRequests turns the command line into one request per dataset.
func buildRequests(opts *loadOptions, urls []string) ([]usecase.LoadRequest, error) {
	if opts.activity != "" && len(urls) > 1 {
		return nil, fmt.Errorf("--activity names a single dataset, got %d", len(urls))
	}
	base := usecase.LoadRequest{
		CampaignName:        opts.campaign,
		CampaignDescription: opts.campaignDescription,
		ActivityType:        opts.activityType,
		PlatformName:        opts.platform,
		PlatformType:        opts.platformType,
		PlatformColor:       opts.platformColor,
		Include:             opts.include,
		Stride:              opts.stride,
		FeatureType:         opts.featureType,
		Sampled:             opts.sampled,
	}
	var err error
	if base.Start, err = parseTime("start", opts.start); err != nil {
		return nil, err
	}
	if base.End, err = parseTime("end", opts.end); err != nil {
		return nil, err
	}
	if opts.overridesPath != "" {
		if base.Overrides, err = csv.LoadOverrides(opts.overridesPath); err != nil {
			return nil, err
		}
	}

	reqs := make([]usecase.LoadRequest, 0, len(urls))
	for _, u := range urls {
		req := base
		req.DatasetURL = u
		req.ActivityName = opts.activity
		if req.ActivityName == "" {
			req.ActivityName = activityName(u)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", u, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func parseTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s (expected RFC3339): %w", name, err)
	}
	t = t.UTC()
	return &t, nil
}

// activityName is the dataset file name without its extension.
func activityName(location string) string {
	name := path.Base(strings.TrimSuffix(location, "/"))
	if i := strings.Index(name, "?"); i >= 0 {
		name = name[:i]
	}
	for _, ext := range []string{".html", ".nc4", ".nc"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

func runLoads(ctx context.Context, opts *loadOptions, reqs []usecase.LoadRequest, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	lg := logger.New(logger.Config{Level: level, Prefix: "[dsg-load]", Output: stderr})

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer a.Close()

	limit := opts.concurrency
	if limit < 1 {
		limit = cfg.MaxConcurrentLoads
	}
	items := a.Loads.RunBatch(ctx, reqs, limit)

	return reportResults(stdout, items)
}

// reportResults prints one line per dataset. Loads without valid data are
// reported on their own and do not count as failures.
func reportResults(w io.Writer, items []usecase.BatchItem) error {
	failed := 0
	for _, it := range items {
		r := it.Result
		switch {
		case errors.Is(it.Err, domain.ErrNoValidData):
			var rows, rejected int64
			if r != nil {
				rows, rejected = r.RowsRead, r.RowsRejected
			}
			fmt.Fprintf(w, "%s\t%s\trows=%d rejected=%d\t%v\n",
				it.Request.DatasetURL, usecase.StatusNoValidData, rows, rejected, it.Err)
		case it.Err != nil:
			failed++
			fmt.Fprintf(w, "%s\tfailed\t%v\n", it.Request.DatasetURL, it.Err)
		default:
			fmt.Fprintf(w, "%s\t%s\tactivity=%d values=%d measurements=%d rejected=%d variables=%s\n",
				it.Request.DatasetURL, r.Status, r.ActivityID, r.ValuesLoaded, r.MeasurementsCreated, r.RowsRejected,
				strings.Join(r.VariablesLoaded, ","))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d loads failed", failed, len(items))
	}
	return nil
}
