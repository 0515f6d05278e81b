package store

import (
	"context"
	"errors"
	"time"

	"go.ngs.io/dsg-ingest/internal/domain"
)

var (
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")
)

// ParameterStore is the part of a datastore the parameter registry needs.
type ParameterStore interface {
	// FindParameterByStandardName returns the first parameter with the given
	// standard_name or ErrNotFound.
	FindParameterByStandardName(ctx context.Context, standardName string) (domain.Parameter, error)

	// FindParameterByName returns the parameter with the given unique name or ErrNotFound.
	FindParameterByName(ctx context.Context, name string) (domain.Parameter, error)

	// CreateParameter inserts p and returns it with its ID set. A name that
	// already exists, or an identity sequence behind the stored rows, yields
	// ErrDuplicateKey.
	CreateParameter(ctx context.Context, p domain.Parameter) (domain.Parameter, error)

	// ResetParameterSequence moves the parameter identity sequence past the
	// largest stored ID.
	ResetParameterSequence(ctx context.Context) error
}

// Datastore persists loaded activities. Get-or-create methods never modify
// the key fields of an existing record.
type Datastore interface {
	ParameterStore

	GetOrCreatePlatformType(ctx context.Context, name, color string) (domain.PlatformType, error)
	// GetOrCreatePlatform matches on name and platform type.
	GetOrCreatePlatform(ctx context.Context, p domain.Platform) (domain.Platform, error)
	GetOrCreateCampaign(ctx context.Context, name, description string) (domain.Campaign, error)
	GetOrCreateActivityType(ctx context.Context, name string) (domain.ActivityType, error)
	// GetOrCreateActivity matches on name and platform.
	GetOrCreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error)

	// GetActivity returns the activity with the given ID or ErrNotFound.
	GetActivity(ctx context.Context, id int64) (domain.Activity, error)

	// UpdateActivity stores the end-of-load fields of a.
	UpdateActivity(ctx context.Context, a domain.Activity) error

	// UpdateCampaignSpan widens the campaign's start and end dates to include
	// [start, end].
	UpdateCampaignSpan(ctx context.Context, campaignID int64, start, end time.Time) error

	AddActivityResource(ctx context.Context, activityID int64, r domain.Resource) error
	AssignParameterGroup(ctx context.Context, parameterID int64, group string) error

	GetOrCreateInstantPoint(ctx context.Context, activityID int64, t time.Time) (domain.InstantPoint, error)
	// GetOrCreateNominalLocation matches on activity, depth and position.
	GetOrCreateNominalLocation(ctx context.Context, loc domain.NominalLocation) (domain.NominalLocation, error)

	// GetOrCreateMeasurement matches on instant point, nominal location, depth
	// and position. It reports whether a new measurement was inserted.
	GetOrCreateMeasurement(ctx context.Context, activityID int64, m domain.Measurement) (domain.Measurement, bool, error)

	// AddMeasuredParameter inserts a value unless the measurement already has
	// one for the parameter. It reports whether a value was inserted.
	AddMeasuredParameter(ctx context.Context, activityID int64, mp domain.MeasuredParameter) (bool, error)

	// ActivityMeasurements returns the activity's measurements ordered by time.
	ActivityMeasurements(ctx context.Context, activityID int64) ([]domain.MeasurementSample, error)
	// ActivityParameterValues returns every stored value of one parameter in one activity.
	ActivityParameterValues(ctx context.Context, activityID, parameterID int64) ([]float64, error)
	// CountMeasuredParameters counts the stored values of an activity.
	CountMeasuredParameters(ctx context.Context, activityID int64) (int64, error)

	// SaveActivityParameter replaces the statistics of one activity parameter.
	SaveActivityParameter(ctx context.Context, ap domain.ActivityParameter) error
	// ActivityParameters returns the stored statistics of an activity.
	ActivityParameters(ctx context.Context, activityID int64) ([]domain.ActivityParameter, error)
	// SaveSimpleDepthTimes replaces the activity's simplified depth series.
	SaveSimpleDepthTimes(ctx context.Context, activityID int64, pts []domain.SimpleDepthTime) error
	// SaveSimpleBottomDepthTimes replaces the activity's simplified bottom depth series.
	SaveSimpleBottomDepthTimes(ctx context.Context, activityID int64, pts []domain.SimpleBottomDepthTime) error

	// Close releases any resources held by the store.
	Close() error
}
