// Package bolt implements the datastore on an embedded bbolt file.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"go.ngs.io/dsg-ingest/internal/adapter/store"
	"go.ngs.io/dsg-ingest/internal/domain"
)

var (
	bucketPlatformTypes      = []byte("platform_types")
	bucketPlatforms          = []byte("platforms")
	bucketCampaigns          = []byte("campaigns")
	bucketActivityTypes      = []byte("activity_types")
	bucketActivities         = []byte("activities")
	bucketParameters         = []byte("parameters")
	bucketParamsByName       = []byte("parameters_by_name")
	bucketParamsByStdName    = []byte("parameters_by_standard_name")
	bucketParameterGroups    = []byte("parameter_groups")
	bucketResources          = []byte("resources")
	bucketInstantPoints      = []byte("instant_points")
	bucketNominalLocations   = []byte("nominal_locations")
	bucketMeasurements       = []byte("measurements")
	bucketActivityTimeline   = []byte("activity_measurements")
	bucketMeasuredParameters = []byte("measured_parameters")
	bucketActivityParameters = []byte("activity_parameters")
	bucketSimpleDepthTimes   = []byte("simple_depth_times")
	bucketSimpleBottomDepths = []byte("simple_bottom_depth_times")
	bucketIndex              = []byte("index")
)

var allBuckets = [][]byte{
	bucketPlatformTypes, bucketPlatforms, bucketCampaigns, bucketActivityTypes,
	bucketActivities, bucketParameters, bucketParamsByName, bucketParamsByStdName,
	bucketParameterGroups, bucketResources, bucketInstantPoints, bucketNominalLocations,
	bucketMeasurements, bucketActivityTimeline, bucketMeasuredParameters,
	bucketActivityParameters, bucketSimpleDepthTimes, bucketSimpleBottomDepths, bucketIndex,
}

// Store is a Datastore backed by a single bbolt file.
type Store struct {
	db *bolt.DB
}

var _ store.Datastore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

// timeKey orders times before and after the epoch correctly.
func timeKey(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano())^(1<<63))
	return b
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func indexKey(kind string, fields ...any) []byte {
	parts := make([]string, len(fields))
	for i, f := range fields {
		switch v := f.(type) {
		case float64:
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return []byte(kind + "\x00" + strings.Join(parts, "\x00"))
}

func put(b *bolt.Bucket, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(itob(id), data)
}

func get(b *bolt.Bucket, id int64, v any) error {
	data := b.Get(itob(id))
	if data == nil {
		return store.ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// getOrCreate looks key up in the index bucket and loads the record from
// bucket, or assigns the next ID and stores the record built by create.
func getOrCreate(tx *bolt.Tx, bucket []byte, key []byte, out any, create func(id int64) any) (bool, error) {
	b := tx.Bucket(bucket)
	idx := tx.Bucket(bucketIndex)
	if id := idx.Get(key); id != nil {
		return false, get(b, btoi(id), out)
	}
	seq, err := b.NextSequence()
	if err != nil {
		return false, err
	}
	id := int64(seq)
	rec := create(id)
	if err := put(b, id, rec); err != nil {
		return false, err
	}
	if err := idx.Put(key, itob(id)); err != nil {
		return false, err
	}
	data, _ := json.Marshal(rec)
	return true, json.Unmarshal(data, out)
}

func (s *Store) GetOrCreatePlatformType(_ context.Context, name, color string) (domain.PlatformType, error) {
	var pt domain.PlatformType
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := getOrCreate(tx, bucketPlatformTypes, indexKey("platform_type", name), &pt, func(id int64) any {
			return domain.PlatformType{ID: id, Name: name, Color: color}
		})
		return err
	})
	return pt, err
}

func (s *Store) GetOrCreatePlatform(_ context.Context, p domain.Platform) (domain.Platform, error) {
	var out domain.Platform
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := getOrCreate(tx, bucketPlatforms, indexKey("platform", p.Name, p.PlatformTypeID), &out, func(id int64) any {
			p.ID = id
			return p
		})
		return err
	})
	return out, err
}

func (s *Store) GetOrCreateCampaign(_ context.Context, name, description string) (domain.Campaign, error) {
	var c domain.Campaign
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := getOrCreate(tx, bucketCampaigns, indexKey("campaign", name), &c, func(id int64) any {
			return domain.Campaign{ID: id, Name: name, Description: description}
		})
		return err
	})
	return c, err
}

// Campaign returns the campaign with the given ID.
func (s *Store) Campaign(_ context.Context, id int64) (domain.Campaign, error) {
	var c domain.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketCampaigns), id, &c)
	})
	return c, err
}

func (s *Store) UpdateCampaignSpan(_ context.Context, campaignID int64, start, end time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCampaigns)
		var c domain.Campaign
		if err := get(b, campaignID, &c); err != nil {
			return err
		}
		if c.StartDate == nil || start.Before(*c.StartDate) {
			c.StartDate = &start
		}
		if c.EndDate == nil || end.After(*c.EndDate) {
			c.EndDate = &end
		}
		return put(b, campaignID, c)
	})
}

func (s *Store) GetOrCreateActivityType(_ context.Context, name string) (domain.ActivityType, error) {
	var at domain.ActivityType
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := getOrCreate(tx, bucketActivityTypes, indexKey("activity_type", name), &at, func(id int64) any {
			return domain.ActivityType{ID: id, Name: name}
		})
		return err
	})
	return at, err
}

func (s *Store) GetOrCreateActivity(_ context.Context, a domain.Activity) (domain.Activity, error) {
	var out domain.Activity
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := getOrCreate(tx, bucketActivities, indexKey("activity", a.Name, a.PlatformID), &out, func(id int64) any {
			a.ID = id
			return a
		})
		return err
	})
	return out, err
}

func (s *Store) GetActivity(_ context.Context, id int64) (domain.Activity, error) {
	var a domain.Activity
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketActivities), id, &a)
	})
	return a, err
}

func (s *Store) UpdateActivity(_ context.Context, a domain.Activity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActivities)
		var cur domain.Activity
		if err := get(b, a.ID, &cur); err != nil {
			return err
		}
		// Key fields are fixed at creation.
		a.Name, a.PlatformID = cur.Name, cur.PlatformID
		return put(b, a.ID, a)
	})
}

func (s *Store) AddActivityResource(_ context.Context, activityID int64, r domain.Resource) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := join(itob(activityID), []byte(r.Type+"\x00"+r.Name))
		return tx.Bucket(bucketResources).Put(key, []byte(r.Value))
	})
}

// ActivityResources returns the resources attached to an activity.
func (s *Store) ActivityResources(_ context.Context, activityID int64) ([]domain.Resource, error) {
	var out []domain.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(activityID)
		c := tx.Bucket(bucketResources).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			typ, name, _ := strings.Cut(string(k[8:]), "\x00")
			out = append(out, domain.Resource{Name: name, Value: string(v), Type: typ})
		}
		return nil
	})
	return out, err
}

func (s *Store) AssignParameterGroup(_ context.Context, parameterID int64, group string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketParameterGroups).Put(join(itob(parameterID), []byte(group)), []byte{1})
	})
}

// ParameterGroups lists the groups a parameter belongs to.
func (s *Store) ParameterGroups(_ context.Context, parameterID int64) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(parameterID)
		c := tx.Bucket(bucketParameterGroups).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			out = append(out, string(k[8:]))
		}
		return nil
	})
	return out, err
}

func (s *Store) FindParameterByStandardName(_ context.Context, standardName string) (domain.Parameter, error) {
	var p domain.Parameter
	if standardName == "" {
		return p, store.ErrNotFound
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketParamsByStdName).Get([]byte(standardName))
		if id == nil {
			return store.ErrNotFound
		}
		return get(tx.Bucket(bucketParameters), btoi(id), &p)
	})
	return p, err
}

func (s *Store) FindParameterByName(_ context.Context, name string) (domain.Parameter, error) {
	var p domain.Parameter
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketParamsByName).Get([]byte(name))
		if id == nil {
			return store.ErrNotFound
		}
		return get(tx.Bucket(bucketParameters), btoi(id), &p)
	})
	return p, err
}

func (s *Store) CreateParameter(_ context.Context, p domain.Parameter) (domain.Parameter, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketParameters)
		byName := tx.Bucket(bucketParamsByName)
		if byName.Get([]byte(p.Name)) != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, store.ErrDuplicateKey)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if b.Get(itob(int64(seq))) != nil {
			return fmt.Errorf("parameter id %d: %w", seq, store.ErrDuplicateKey)
		}
		p.ID = int64(seq)
		if err := put(b, p.ID, p); err != nil {
			return err
		}
		if err := byName.Put([]byte(p.Name), itob(p.ID)); err != nil {
			return err
		}
		if p.StandardName != "" {
			bySN := tx.Bucket(bucketParamsByStdName)
			if bySN.Get([]byte(p.StandardName)) == nil {
				return bySN.Put([]byte(p.StandardName), itob(p.ID))
			}
		}
		return nil
	})
	if err != nil {
		return domain.Parameter{}, err
	}
	return p, nil
}

func (s *Store) ResetParameterSequence(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketParameters)
		var maxID uint64
		if k, _ := b.Cursor().Last(); k != nil {
			maxID = uint64(btoi(k))
		}
		return b.SetSequence(maxID)
	})
}

func (s *Store) GetOrCreateInstantPoint(_ context.Context, activityID int64, t time.Time) (domain.InstantPoint, error) {
	var ip domain.InstantPoint
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := getOrCreate(tx, bucketInstantPoints, indexKey("instant_point", activityID, t.UnixNano()), &ip, func(id int64) any {
			return domain.InstantPoint{ID: id, ActivityID: activityID, Time: t.UTC()}
		})
		return err
	})
	return ip, err
}

func (s *Store) GetOrCreateNominalLocation(_ context.Context, loc domain.NominalLocation) (domain.NominalLocation, error) {
	var out domain.NominalLocation
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := indexKey("nominal_location", loc.ActivityID, loc.Depth, loc.Lon, loc.Lat)
		_, err := getOrCreate(tx, bucketNominalLocations, key, &out, func(id int64) any {
			loc.ID = id
			return loc
		})
		return err
	})
	return out, err
}

type measurementRecord struct {
	domain.Measurement
	ActivityID int64
	Time       time.Time
}

func (s *Store) GetOrCreateMeasurement(_ context.Context, activityID int64, m domain.Measurement) (domain.Measurement, bool, error) {
	var rec measurementRecord
	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		var ip domain.InstantPoint
		if err := get(tx.Bucket(bucketInstantPoints), m.InstantPointID, &ip); err != nil {
			return fmt.Errorf("instant point %d: %w", m.InstantPointID, err)
		}
		var nominal int64
		if m.NominalLocationID != nil {
			nominal = *m.NominalLocationID
		}
		key := indexKey("measurement", m.InstantPointID, nominal, m.Depth, m.Lon, m.Lat)
		var err error
		created, err = getOrCreate(tx, bucketMeasurements, key, &rec, func(id int64) any {
			m.ID = id
			return measurementRecord{Measurement: m, ActivityID: activityID, Time: ip.Time}
		})
		if err != nil || !created {
			return err
		}
		return tx.Bucket(bucketActivityTimeline).Put(join(itob(activityID), timeKey(ip.Time), itob(rec.ID)), nil)
	})
	return rec.Measurement, created, err
}

func (s *Store) AddMeasuredParameter(_ context.Context, activityID int64, mp domain.MeasuredParameter) (bool, error) {
	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeasuredParameters)
		key := join(itob(activityID), itob(mp.ParameterID), itob(mp.MeasurementID))
		if b.Get(key) != nil {
			return nil
		}
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, math.Float64bits(mp.Value))
		created = true
		return b.Put(key, val)
	})
	return created, err
}

func (s *Store) ActivityMeasurements(_ context.Context, activityID int64) ([]domain.MeasurementSample, error) {
	var out []domain.MeasurementSample
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(activityID)
		ms := tx.Bucket(bucketMeasurements)
		c := tx.Bucket(bucketActivityTimeline).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var rec measurementRecord
			if err := get(ms, btoi(k[16:24]), &rec); err != nil {
				return err
			}
			out = append(out, domain.MeasurementSample{
				MeasurementID:     rec.ID,
				InstantPointID:    rec.InstantPointID,
				NominalLocationID: rec.NominalLocationID,
				Time:              rec.Time,
				Depth:             rec.Depth,
				Lon:               rec.Lon,
				Lat:               rec.Lat,
			})
		}
		return nil
	})
	return out, err
}

func (s *Store) ActivityParameterValues(_ context.Context, activityID, parameterID int64) ([]float64, error) {
	var out []float64
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := join(itob(activityID), itob(parameterID))
		c := tx.Bucket(bucketMeasuredParameters).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, math.Float64frombits(binary.BigEndian.Uint64(v)))
		}
		return nil
	})
	return out, err
}

func (s *Store) CountMeasuredParameters(_ context.Context, activityID int64) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(activityID)
		c := tx.Bucket(bucketMeasuredParameters).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) SaveActivityParameter(_ context.Context, ap domain.ActivityParameter) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ap)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketActivityParameters).Put(join(itob(ap.ActivityID), itob(ap.ParameterID)), data)
	})
}

func (s *Store) ActivityParameters(_ context.Context, activityID int64) ([]domain.ActivityParameter, error) {
	var out []domain.ActivityParameter
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(activityID)
		c := tx.Bucket(bucketActivityParameters).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ap domain.ActivityParameter
			if err := json.Unmarshal(v, &ap); err != nil {
				return err
			}
			out = append(out, ap)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ParameterID < out[j].ParameterID })
	return out, err
}

func (s *Store) SaveSimpleDepthTimes(_ context.Context, activityID int64, pts []domain.SimpleDepthTime) error {
	return s.saveList(bucketSimpleDepthTimes, activityID, pts)
}

// SimpleDepthTimes returns the stored simplified depth series.
func (s *Store) SimpleDepthTimes(_ context.Context, activityID int64) ([]domain.SimpleDepthTime, error) {
	var out []domain.SimpleDepthTime
	return out, s.loadList(bucketSimpleDepthTimes, activityID, &out)
}

func (s *Store) SaveSimpleBottomDepthTimes(_ context.Context, activityID int64, pts []domain.SimpleBottomDepthTime) error {
	return s.saveList(bucketSimpleBottomDepths, activityID, pts)
}

// SimpleBottomDepthTimes returns the stored simplified bottom depth series.
func (s *Store) SimpleBottomDepthTimes(_ context.Context, activityID int64) ([]domain.SimpleBottomDepthTime, error) {
	var out []domain.SimpleBottomDepthTime
	return out, s.loadList(bucketSimpleBottomDepths, activityID, &out)
}

func (s *Store) saveList(bucket []byte, activityID int64, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucket), activityID, v)
	})
}

func (s *Store) loadList(bucket []byte, activityID int64, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		err := get(tx.Bucket(bucket), activityID, v)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}
