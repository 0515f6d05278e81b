package usecase

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.ngs.io/dsg-ingest/internal/derive"
	"go.ngs.io/dsg-ingest/internal/domain"
)

// Simplification tolerances of the stored display geometries.
const (
	TrackTolerance     = 0.001 // degrees
	DepthTimeTolerance = 10.0
	identicalOffset    = 0.001
)

// summarize derives the end-of-load records from what is persisted for the
// activity, so that reruns produce the same summaries.
func (l *load) summarize(ctx context.Context) error {
	st := l.uc.store
	samples, err := st.ActivityMeasurements(ctx, l.activity.ID)
	if err != nil {
		return fmt.Errorf("failed to read measurements: %w", err)
	}

	a := l.activity
	if len(samples) > 0 {
		start, end := samples[0].Time, samples[len(samples)-1].Time
		minDepth, maxDepth := samples[0].Depth, samples[0].Depth
		for _, s := range samples[1:] {
			minDepth = min(minDepth, s.Depth)
			maxDepth = max(maxDepth, s.Depth)
		}
		a.StartDate, a.EndDate = &start, &end
		a.MinDepth, a.MaxDepth = &minDepth, &maxDepth
		l.res.MinDepth, l.res.MaxDepth = &minDepth, &maxDepth

		if l.featureType.IsStation() {
			a.MapPoint = &domain.Point{Lon: samples[0].Lon, Lat: samples[0].Lat}
			a.MapTrack = nil
		} else {
			a.MapTrack = MapTrack(samples)
		}

		if err := st.SaveSimpleDepthTimes(ctx, a.ID, l.depthTimes(samples)); err != nil {
			l.log.Warnf("failed to save simple depth time series: %v", err)
		}
		if l.uc.terrain != nil && !l.featureType.IsStation() {
			l.addAltitudes(ctx, samples)
		}
		if err := st.UpdateCampaignSpan(ctx, l.campaign.ID, start, end); err != nil {
			l.log.Warnf("failed to update campaign span: %v", err)
		}
	}

	l.updateParameterStats(ctx)

	n, err := st.CountMeasuredParameters(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to count measured parameters: %w", err)
	}
	a.NumMeasuredParameters = n
	l.res.NumMeasuredParameters = n

	now := l.uc.now()
	a.LoadedDate = &now
	a.Comment = fmt.Sprintf("%d MeasuredParameters loaded: %s. Loaded on %sZ",
		l.res.ValuesLoaded, strings.Join(l.res.VariablesLoaded, " "), now.Format("2006-01-02 15:04:05.000000"))
	if err := st.UpdateActivity(ctx, a); err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	l.activity = a
	return nil
}

// MapTrack simplifies the lon/lat path of time-ordered samples. A path that
// collapses to two identical points has its end moved by 0.001 degrees in
// both axes so that it remains a line. Fewer than two samples give no track.
func MapTrack(samples []domain.MeasurementSample) []domain.Point {
	if len(samples) < 2 {
		return nil
	}
	line := make([]domain.Vertex, len(samples))
	for i, s := range samples {
		line[i] = domain.Vertex{X: s.Lon, Y: s.Lat}
	}
	kept := domain.Simplify(line, TrackTolerance)
	track := make([]domain.Point, len(kept))
	for i, v := range kept {
		track[i] = domain.Point{Lon: v.X, Lat: v.Y}
	}
	if len(track) == 2 && track[0] == track[1] {
		track[1] = domain.Point{Lon: track[0].Lon + identicalOffset, Lat: track[0].Lat + identicalOffset}
	}
	return track
}

// depthTimes simplifies depth against epoch milliseconds, per nominal
// location for station feature types and for the whole activity otherwise.
func (l *load) depthTimes(samples []domain.MeasurementSample) []domain.SimpleDepthTime {
	if !l.featureType.IsStation() {
		return simpleDepthTimes(l.activity.ID, nil, samples)
	}

	byLocation := make(map[int64][]domain.MeasurementSample)
	for _, s := range samples {
		if s.NominalLocationID == nil {
			continue
		}
		byLocation[*s.NominalLocationID] = append(byLocation[*s.NominalLocationID], s)
	}
	ids := make([]int64, 0, len(byLocation))
	for id := range byLocation {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []domain.SimpleDepthTime
	for _, id := range ids {
		out = append(out, simpleDepthTimes(l.activity.ID, &id, byLocation[id])...)
	}
	return out
}

func simpleDepthTimes(activityID int64, nominalID *int64, samples []domain.MeasurementSample) []domain.SimpleDepthTime {
	line := make([]domain.Vertex, len(samples))
	for i, s := range samples {
		line[i] = domain.Vertex{X: epochMillis(s), Y: s.Depth}
	}
	kept := domain.Simplify(line, DepthTimeTolerance)
	out := make([]domain.SimpleDepthTime, len(kept))
	for i, v := range kept {
		out[i] = domain.SimpleDepthTime{
			ActivityID:        activityID,
			NominalLocationID: nominalID,
			InstantPointID:    samples[v.Index].InstantPointID,
			EpochMillis:       v.X,
			Depth:             v.Y,
		}
	}
	return out
}

func epochMillis(s domain.MeasurementSample) float64 {
	return float64(s.Time.UnixMicro()) / 1000
}

// addAltitudes stores the height above the terrain grid for every sample
// inside it and the simplified bottom depth series.
func (l *load) addAltitudes(ctx context.Context, samples []domain.MeasurementSample) {
	alts, err := derive.ComputeAltitudes(l.uc.terrain, samples)
	if err != nil {
		l.log.Warnf("failed to compute altitudes: %v", err)
		return
	}
	if len(alts) == 0 {
		l.log.Infof("no measurements inside the terrain grid")
		return
	}
	p, err := l.registry.Resolve(ctx, derive.AltitudeDefinition.Name, derive.AltitudeDefinition)
	if err != nil {
		l.log.Warnf("failed to resolve altitude parameter: %v", err)
		return
	}

	line := make([]domain.Vertex, 0, len(alts))
	saved := make([]domain.MeasurementSample, 0, len(alts))
	for _, alt := range alts {
		inserted, err := l.uc.store.AddMeasuredParameter(ctx, l.activity.ID, domain.MeasuredParameter{
			MeasurementID: alt.Sample.MeasurementID,
			ParameterID:   p.ID,
			Value:         alt.Altitude,
		})
		if err != nil {
			l.log.Warnf("failed to save altitude: %v", err)
			l.res.ValuesFailed++
			continue
		}
		if inserted {
			l.res.ValuesLoaded++
		}
		line = append(line, domain.Vertex{X: epochMillis(alt.Sample), Y: alt.BottomDepth})
		saved = append(saved, alt.Sample)
	}
	l.touched[p.ID] = p
	if !slices.Contains(l.res.VariablesLoaded, p.Name) {
		l.res.VariablesLoaded = append(l.res.VariablesLoaded, p.Name)
	}

	kept := domain.Simplify(line, DepthTimeTolerance)
	pts := make([]domain.SimpleBottomDepthTime, len(kept))
	for i, v := range kept {
		pts[i] = domain.SimpleBottomDepthTime{
			ActivityID:     l.activity.ID,
			InstantPointID: saved[v.Index].InstantPointID,
			EpochMillis:    v.X,
			BottomDepth:    v.Y,
		}
	}
	if err := l.uc.store.SaveSimpleBottomDepthTimes(ctx, l.activity.ID, pts); err != nil {
		l.log.Warnf("failed to save simple bottom depth time series: %v", err)
	}
}

// updateParameterStats recomputes the statistics of every parameter written
// in this run from all of its stored values in the activity.
func (l *load) updateParameterStats(ctx context.Context) {
	bins := domain.MeasuredHistogramBins
	if l.req.Sampled {
		bins = domain.SampledHistogramBins
	}
	ids := make([]int64, 0, len(l.touched))
	for id := range l.touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := l.touched[id]
		if err := l.uc.store.AssignParameterGroup(ctx, id, MeasuredInSitu); err != nil {
			l.log.Warnf("failed to assign %s to group %q: %v", p.Name, MeasuredInSitu, err)
		}
		values, err := l.uc.store.ActivityParameterValues(ctx, l.activity.ID, id)
		if err != nil {
			l.log.Warnf("failed to read values of %s: %v", p.Name, err)
			continue
		}
		stats, hist, ok := domain.Summarize(values, bins)
		if !ok {
			continue
		}
		ap := domain.ActivityParameter{
			ActivityID:  l.activity.ID,
			ParameterID: id,
			Stats:       stats,
			Histogram:   hist,
		}
		if err := l.uc.store.SaveActivityParameter(ctx, ap); err != nil {
			l.log.Warnf("failed to save statistics of %s: %v", p.Name, err)
			continue
		}
		l.log.Debugf("%s: n=%d min=%g max=%g mean=%g", p.Name, stats.Number, stats.Min, stats.Max, stats.Mean)
	}
}
