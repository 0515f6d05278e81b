package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	"go.ngs.io/dsg-ingest/internal/adapter/store"
	"go.ngs.io/dsg-ingest/internal/adapter/store/terrain"
	"go.ngs.io/dsg-ingest/internal/derive"
	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/dsg"
	"go.ngs.io/dsg-ingest/internal/events"
	"go.ngs.io/dsg-ingest/internal/logger"
	"go.ngs.io/dsg-ingest/internal/metrics"
	"go.ngs.io/dsg-ingest/internal/registry"
)

// MeasuredInSitu is the parameter group of every parameter written by a load.
const MeasuredInSitu = "Measured in situ"

const progressEvery = 500

// LoadRequest describes one dataset load
type LoadRequest struct {
	DatasetURL string `json:"dataset_url"`

	CampaignName        string `json:"campaign_name"`
	CampaignDescription string `json:"campaign_description,omitempty"`

	ActivityName string `json:"activity_name"`
	ActivityType string `json:"activity_type,omitempty"`

	PlatformName  string `json:"platform_name"`
	PlatformType  string `json:"platform_type"`
	PlatformColor string `json:"platform_color,omitempty"`

	// Include lists the variables to load; empty loads all data variables.
	Include []string `json:"include,omitempty"`

	// Optional time window and stride
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	Stride int        `json:"stride,omitempty"`

	// FeatureType overrides the dataset's featureType attribute
	FeatureType string `json:"feature_type,omitempty"`

	Overrides domain.CoordinateOverrides `json:"coordinate_overrides,omitempty"`

	// Sampled marks lab data, summarized with coarser histograms
	Sampled bool `json:"sampled,omitempty"`
}

// Validate checks if the request is valid
func (r *LoadRequest) Validate() error {
	if strings.TrimSpace(r.DatasetURL) == "" {
		return fmt.Errorf("dataset_url is required")
	}
	if r.CampaignName == "" {
		return fmt.Errorf("campaign_name is required")
	}
	if r.ActivityName == "" {
		return fmt.Errorf("activity_name is required")
	}
	if r.PlatformName == "" {
		return fmt.Errorf("platform_name is required")
	}
	if r.PlatformType == "" {
		return fmt.Errorf("platform_type is required")
	}
	if r.Stride < 0 {
		return fmt.Errorf("stride must be at least 1, got %d", r.Stride)
	}
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return fmt.Errorf("start time must not be after end time")
	}
	if r.FeatureType != "" {
		if _, err := dsg.ParseFeatureType(r.FeatureType); err != nil {
			return fmt.Errorf("feature_type: %w", err)
		}
	}
	for name, c := range r.Overrides {
		if !c.Complete() {
			return fmt.Errorf("coordinate override for %s must name time, latitude, longitude and depth", name)
		}
	}
	return nil
}

// LoadStatus is the outcome of a load.
type LoadStatus string

const (
	StatusCompleted   LoadStatus = "completed"
	StatusNoValidData LoadStatus = "no_valid_data"
	StatusFailed      LoadStatus = "failed"
)

// SkippedVariable is a requested variable that produced no values.
type SkippedVariable struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// LoadResult reports what one load wrote
type LoadResult struct {
	ID          string     `json:"id"`
	Status      LoadStatus `json:"status"`
	DatasetURL  string     `json:"dataset_url"`
	ActivityID  int64      `json:"activity_id,omitempty"`
	FeatureType string     `json:"feature_type,omitempty"`

	ValuesLoaded        int64            `json:"values_loaded"`
	MeasurementsCreated int64            `json:"measurements_created"`
	RowsRead            int64            `json:"rows_read"`
	RowsRejected        int64            `json:"rows_rejected"`
	RejectedByReason    map[string]int64 `json:"rejected_by_reason,omitempty"`
	RowsNoData          int64            `json:"rows_no_data"`
	ValuesFailed        int64            `json:"values_failed"`

	// NumMeasuredParameters is the activity total after the load, including
	// values from earlier runs.
	NumMeasuredParameters int64 `json:"num_measured_parameters"`

	VariablesLoaded  []string          `json:"variables_loaded"`
	VariablesSkipped []SkippedVariable `json:"variables_skipped,omitempty"`

	MinDepth *float64 `json:"min_depth,omitempty"`
	MaxDepth *float64 `json:"max_depth,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

func (r *LoadResult) reject(reason string) {
	r.RowsRejected++
	if r.RejectedByReason == nil {
		r.RejectedByReason = make(map[string]int64)
	}
	r.RejectedByReason[reason]++
}

// SourceOpener opens a dataset by location.
type SourceOpener interface {
	Open(ctx context.Context, location string) (dataset.Source, error)
}

// LoadDeps are the collaborators of a LoadUseCase. Datastore and Opener are
// required; the rest may be nil.
type LoadDeps struct {
	Datastore store.Datastore
	Opener    SourceOpener
	Cache     registry.Cache
	Pipeline  *derive.Pipeline
	Terrain   terrain.Grid
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Logger    logger.Logger
}

// LoadUseCase orchestrates the load of one dataset into the datastore
type LoadUseCase struct {
	store     store.Datastore
	opener    SourceOpener
	cache     registry.Cache
	pipeline  *derive.Pipeline
	terrain   terrain.Grid
	metrics   *metrics.Metrics
	publisher events.Publisher
	log       logger.Logger
	now       func() time.Time
}

// NewLoadUseCase creates a new load use case
func NewLoadUseCase(deps LoadDeps) *LoadUseCase {
	uc := &LoadUseCase{
		store:     deps.Datastore,
		opener:    deps.Opener,
		cache:     deps.Cache,
		pipeline:  deps.Pipeline,
		terrain:   deps.Terrain,
		metrics:   deps.Metrics,
		publisher: deps.Publisher,
		log:       deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if uc.cache == nil {
		uc.cache = registry.NewMemoryCache()
	}
	if uc.pipeline == nil {
		uc.pipeline = derive.DefaultPipeline()
	}
	if uc.publisher == nil {
		uc.publisher = events.Nop{}
	}
	if uc.log == nil {
		uc.log = logger.NopLogger
	}
	return uc
}

// Execute loads the dataset named by req. The returned result is never nil
// once the request is valid; it describes partial progress when err is set.
// A dataset without loadable data yields StatusNoValidData and an error
// wrapping domain.ErrNoValidData.
func (uc *LoadUseCase) Execute(ctx context.Context, req LoadRequest) (*LoadResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return uc.execute(ctx, uuid.NewString(), req)
}

func (uc *LoadUseCase) execute(ctx context.Context, id string, req LoadRequest) (*LoadResult, error) {
	res := &LoadResult{
		ID:         id,
		DatasetURL: req.DatasetURL,
		StartedAt:  uc.now(),
	}
	done := uc.metrics.LoadStarted()
	log := uc.log.WithPrefix("[" + req.ActivityName + "] ")

	l := &load{uc: uc, req: req, res: res, log: log}
	err := l.run(ctx)

	res.FinishedAt = uc.now()
	switch {
	case err == nil:
		res.Status = StatusCompleted
	case errors.Is(err, domain.ErrNoValidData):
		res.Status = StatusNoValidData
		res.Error = err.Error()
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
	}
	done(string(res.Status))
	uc.metrics.ObserveLoad(res.ValuesLoaded, len(res.VariablesLoaded), res.RejectedByReason)

	ev := events.LoadCompleted{
		LoadID:          res.ID,
		Status:          string(res.Status),
		DatasetURL:      req.DatasetURL,
		Activity:        req.ActivityName,
		ActivityID:      res.ActivityID,
		Platform:        req.PlatformName,
		Campaign:        req.CampaignName,
		ValuesLoaded:    res.ValuesLoaded,
		VariablesLoaded: res.VariablesLoaded,
		Error:           res.Error,
		FinishedAt:      res.FinishedAt,
	}
	if perr := uc.publisher.PublishLoadCompleted(context.WithoutCancel(ctx), ev); perr != nil {
		log.Warnf("failed to publish load event: %v", perr)
	}

	if err != nil {
		log.Errorf("load of %s ended with status %s: %v", req.DatasetURL, res.Status, err)
		return res, err
	}
	log.Infof("loaded %d values from %s in %s", res.ValuesLoaded, req.DatasetURL, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return res, nil
}

// load is the state of one Execute call.
type load struct {
	uc  *LoadUseCase
	req LoadRequest
	res *LoadResult
	log logger.Logger

	featureType domain.FeatureType
	activity    domain.Activity
	campaign    domain.Campaign
	registry    *registry.Registry
	chain       derive.Chain
	defs        map[string]domain.ParameterDefinition
	derivedDefs map[string]domain.ParameterDefinition

	// Parameters that received a value in this run, inserted or already stored.
	touched map[int64]domain.Parameter
	derived map[string]bool
}

func (l *load) run(ctx context.Context) error {
	src, err := l.uc.opener.Open(ctx, l.req.DatasetURL)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer src.Close()

	opts := dsg.OpenOptions{
		Include:   l.req.Include,
		Start:     l.req.Start,
		End:       l.req.End,
		Stride:    l.req.Stride,
		Overrides: l.req.Overrides,
	}
	if l.req.FeatureType != "" {
		if opts.FeatureType, err = dsg.ParseFeatureType(l.req.FeatureType); err != nil {
			return err
		}
	}
	ex, err := dsg.NewExtractor(src, l.log).Open(ctx, opts)
	if err != nil {
		var nvd *dsg.NoValidDataError
		if errors.As(err, &nvd) {
			l.recordStatuses(nvd.Statuses)
		}
		return err
	}
	l.recordStatuses(ex.Statuses())
	l.featureType = ex.FeatureType()
	l.res.FeatureType = string(l.featureType)
	l.log.Infof("feature type %s, variables %s", l.featureType, strings.Join(ex.VariablesLoaded(), " "))

	l.registry = registry.New(l.uc.store, l.uc.cache, l.req.ActivityName, l.log)
	l.chain = l.uc.pipeline.For(l.req.PlatformType)
	l.defs = make(map[string]domain.ParameterDefinition)
	for name, def := range ex.Definitions() {
		l.defs[name] = def
	}
	l.derivedDefs = make(map[string]domain.ParameterDefinition)
	for name, def := range l.chain.Outputs() {
		if _, ok := l.defs[name]; !ok {
			l.defs[name] = def
			l.derivedDefs[name] = def
		}
	}
	l.touched = make(map[int64]domain.Parameter)
	l.derived = make(map[string]bool)

	// The activity is created with the first valid row.
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rr, ok := ex.Next()
		if !ok {
			break
		}
		l.res.RowsRead++
		switch rr.Kind {
		case domain.RowSkip:
			l.res.reject(rr.Reason)
			continue
		case domain.RowNoData:
			l.res.RowsNoData++
			continue
		}
		if written == 0 {
			if err := l.createActivity(ctx); err != nil {
				return err
			}
			l.addResources(ctx, src.Attributes())
		}
		written++
		l.writeRow(ctx, rr.Row)
	}
	if written == 0 {
		l.log.Warnf("read %d rows, rejected %d, without data %d", l.res.RowsRead, l.res.RowsRejected, l.res.RowsNoData)
		return fmt.Errorf("%w: none of %d rows passed validation", domain.ErrNoValidData, l.res.RowsRead)
	}

	l.res.VariablesLoaded = ex.VariablesLoaded()
	for _, name := range sortedKeys(l.derived) {
		l.res.VariablesLoaded = append(l.res.VariablesLoaded, name)
	}
	l.log.Infof("read %d rows, rejected %d, without data %d, loaded %d values", l.res.RowsRead, l.res.RowsRejected, l.res.RowsNoData, l.res.ValuesLoaded)

	return l.summarize(ctx)
}

func (l *load) recordStatuses(statuses []dsg.VariableStatus) {
	l.res.VariablesSkipped = l.res.VariablesSkipped[:0]
	for _, s := range statuses {
		if !s.Loaded {
			l.res.VariablesSkipped = append(l.res.VariablesSkipped, SkippedVariable{Name: s.Name, Reason: s.Reason})
		}
	}
}

func (l *load) createActivity(ctx context.Context) error {
	st := l.uc.store
	pt, err := st.GetOrCreatePlatformType(ctx, l.req.PlatformType, "")
	if err != nil {
		return fmt.Errorf("failed to get platform type: %w", err)
	}
	platform, err := st.GetOrCreatePlatform(ctx, domain.Platform{
		Name:           l.req.PlatformName,
		Color:          l.req.PlatformColor,
		PlatformTypeID: pt.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to get platform: %w", err)
	}
	if l.campaign, err = st.GetOrCreateCampaign(ctx, l.req.CampaignName, l.req.CampaignDescription); err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}

	a := domain.Activity{
		Name:       l.req.ActivityName,
		PlatformID: platform.ID,
		CampaignID: l.campaign.ID,
	}
	if l.req.ActivityType != "" {
		at, err := st.GetOrCreateActivityType(ctx, l.req.ActivityType)
		if err != nil {
			return fmt.Errorf("failed to get activity type: %w", err)
		}
		a.ActivityTypeID = at.ID
	}
	if l.activity, err = st.GetOrCreateActivity(ctx, a); err != nil {
		return fmt.Errorf("failed to get activity: %w", err)
	}
	l.res.ActivityID = l.activity.ID
	return nil
}

func (l *load) addResources(ctx context.Context, attrs dataset.Attributes) {
	for _, name := range sortedKeys(attrs) {
		r := domain.Resource{Name: name, Value: attrs.Text(name), Type: "nc_global"}
		if err := l.uc.store.AddActivityResource(ctx, l.activity.ID, r); err != nil {
			l.log.Warnf("failed to save resource %s: %v", name, err)
		}
	}
}

// writeRow persists one row. Failures are logged and counted per value so
// that the load continues with the next row.
func (l *load) writeRow(ctx context.Context, row domain.Row) {
	l.chain.Apply(&row)
	st := l.uc.store
	fail := func(what string, err error) {
		l.log.Warnf("failed to save %s at %s: %v", what, row.Time.Format(time.RFC3339), err)
		l.res.ValuesFailed += int64(len(row.Values))
	}

	ip, err := st.GetOrCreateInstantPoint(ctx, l.activity.ID, row.Time)
	if err != nil {
		fail("instant point", err)
		return
	}
	var nominalID *int64
	if row.Nominal != nil {
		nl := *row.Nominal
		nl.ActivityID = l.activity.ID
		if nl, err = st.GetOrCreateNominalLocation(ctx, nl); err != nil {
			fail("nominal location", err)
			return
		}
		nominalID = &nl.ID
	}
	m, created, err := st.GetOrCreateMeasurement(ctx, l.activity.ID, domain.Measurement{
		InstantPointID:    ip.ID,
		NominalLocationID: nominalID,
		Depth:             row.Depth,
		Lon:               row.Lon,
		Lat:               row.Lat,
	})
	if err != nil {
		fail("measurement", err)
		return
	}
	if created {
		l.res.MeasurementsCreated++
	}

	for _, name := range row.Names() {
		def, ok := l.defs[name]
		if !ok {
			def = domain.ParameterDefinition{Name: name}
		}
		p, err := l.registry.Resolve(ctx, name, def)
		if errors.Is(err, registry.ErrIgnored) {
			continue
		}
		if err != nil {
			l.log.Warnf("failed to resolve parameter %s: %v", name, err)
			l.res.ValuesFailed++
			continue
		}
		inserted, err := st.AddMeasuredParameter(ctx, l.activity.ID, domain.MeasuredParameter{
			MeasurementID: m.ID,
			ParameterID:   p.ID,
			Value:         row.Values[name],
		})
		if err != nil {
			l.log.Warnf("failed to save %s at %s: %v", name, row.Time.Format(time.RFC3339), err)
			l.res.ValuesFailed++
			continue
		}
		l.touched[p.ID] = p
		if _, ok := l.derivedDefs[name]; ok {
			l.derived[name] = true
		}
		if inserted {
			l.res.ValuesLoaded++
			if l.res.ValuesLoaded%progressEvery == 0 {
				l.log.Infof("%d values loaded, last time %s", l.res.ValuesLoaded, row.Time.Format(time.RFC3339))
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
