package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// emergencyRepository is a mutex-guarded in-memory store with the same
// conditional-update semantics as the mongodb implementation. It backs unit
// tests and local development without a database.
type emergencyRepository struct {
	mu          sync.RWMutex
	emergencies map[primitive.ObjectID]*models.Emergency
}

func NewEmergencyRepository() interfaces.EmergencyRepository {
	return &emergencyRepository{
		emergencies: make(map[primitive.ObjectID]*models.Emergency),
	}
}

func (r *emergencyRepository) Create(ctx context.Context, emergency *models.Emergency) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rideID := emergency.RideID()
	for _, e := range r.emergencies {
		if e.ReporterID == emergency.ReporterID && e.RideID() == rideID && !e.IsTerminal() {
			return models.ErrDuplicateActiveEmergency
		}
	}

	if emergency.ID.IsZero() {
		emergency.ID = primitive.NewObjectID()
	}
	emergency.CreatedAt = time.Now()
	emergency.UpdatedAt = emergency.CreatedAt

	r.emergencies[emergency.ID] = cloneEmergency(emergency)

	return nil
}

func (r *emergencyRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	emergency, ok := r.emergencies[id]
	if !ok {
		return nil, models.ErrEmergencyNotFound
	}

	return cloneEmergency(emergency), nil
}

func (r *emergencyRepository) GetActiveByReporter(ctx context.Context, reporterID, rideID primitive.ObjectID) (*models.Emergency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.emergencies {
		if e.ReporterID == reporterID && e.RideID() == rideID && !e.IsTerminal() {
			return cloneEmergency(e), nil
		}
	}

	return nil, models.ErrEmergencyNotFound
}

func (r *emergencyRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, allowedFrom []models.EmergencyStatus, to models.EmergencyStatus, event models.TimelineEvent, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	emergency, ok := r.emergencies[id]
	if !ok {
		return false, nil
	}

	allowed := false
	for _, from := range allowedFrom {
		if emergency.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	emergency.Status = to
	emergency.UpdatedAt = time.Now()
	emergency.Timeline = append(emergency.Timeline, event)

	if resolution, ok := updates["resolution"].(*models.Resolution); ok {
		emergency.Resolution = resolution
	}

	return true, nil
}

func (r *emergencyRepository) UpdateLocation(ctx context.Context, id primitive.ObjectID, sample *models.LocationSample, event *models.TimelineEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	emergency, ok := r.emergencies[id]
	if !ok {
		return false, nil
	}
	if !emergency.Trackable() {
		return false, nil
	}
	if !sample.NewerThan(emergency.LastLocation) {
		return false, nil
	}

	s := *sample
	emergency.LastLocation = &s
	emergency.UpdatedAt = time.Now()
	if event != nil {
		emergency.Timeline = append(emergency.Timeline, *event)
	}

	return true, nil
}

func (r *emergencyRepository) AddResponder(ctx context.Context, id, responderID primitive.ObjectID, event models.TimelineEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	emergency, ok := r.emergencies[id]
	if !ok || !emergency.Trackable() || emergency.HasResponder(responderID) {
		return false, nil
	}

	emergency.Responders = append(emergency.Responders, responderID)
	emergency.Timeline = append(emergency.Timeline, event)
	emergency.UpdatedAt = time.Now()

	return true, nil
}

func (r *emergencyRepository) RemoveResponder(ctx context.Context, id, responderID primitive.ObjectID, event models.TimelineEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	emergency, ok := r.emergencies[id]
	if !ok || !emergency.Trackable() || !emergency.HasResponder(responderID) {
		return false, nil
	}

	responders := emergency.Responders[:0]
	for _, rid := range emergency.Responders {
		if rid != responderID {
			responders = append(responders, rid)
		}
	}
	emergency.Responders = responders
	emergency.Timeline = append(emergency.Timeline, event)
	emergency.UpdatedAt = time.Now()

	return true, nil
}

func (r *emergencyRepository) AppendTimeline(ctx context.Context, id primitive.ObjectID, event models.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	emergency, ok := r.emergencies[id]
	if !ok {
		return models.ErrEmergencyNotFound
	}

	emergency.Timeline = append(emergency.Timeline, event)
	emergency.UpdatedAt = time.Now()

	return nil
}

func (r *emergencyRepository) SetAddress(ctx context.Context, id primitive.ObjectID, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	emergency, ok := r.emergencies[id]
	if !ok {
		return models.ErrEmergencyNotFound
	}

	emergency.Address = address
	emergency.UpdatedAt = time.Now()

	return nil
}

func (r *emergencyRepository) ListByStatus(ctx context.Context, status models.EmergencyStatus, params *utils.PaginationParams) ([]*models.Emergency, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Emergency
	for _, e := range r.emergencies {
		if e.Status == status {
			matched = append(matched, cloneEmergency(e))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := int(params.Skip())
	if start > len(matched) {
		start = len(matched)
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}

	return matched[start:end], total, nil
}

func (r *emergencyRepository) ListActive(ctx context.Context) ([]*models.Emergency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*models.Emergency
	for _, e := range r.emergencies {
		if !e.IsTerminal() {
			active = append(active, cloneEmergency(e))
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	return active, nil
}

func (r *emergencyRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*models.Emergency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)

	var stale []*models.Emergency
	for _, e := range r.emergencies {
		// Only unacknowledged emergencies qualify; once an operator is
		// responding, silence from the device never cancels the alert.
		if e.Status != models.EmergencyStatusActive || !e.CreatedAt.Before(cutoff) {
			continue
		}
		if e.LastLocation != nil && !e.LastLocation.Timestamp.Before(cutoff) {
			continue
		}
		stale = append(stale, cloneEmergency(e))
	}

	return stale, nil
}

func cloneEmergency(e *models.Emergency) *models.Emergency {
	clone := *e
	clone.Timeline = append([]models.TimelineEvent(nil), e.Timeline...)
	clone.Responders = append([]primitive.ObjectID(nil), e.Responders...)
	if e.LastLocation != nil {
		loc := *e.LastLocation
		clone.LastLocation = &loc
	}
	if e.Resolution != nil {
		res := *e.Resolution
		clone.Resolution = &res
	}
	if e.RideContext != nil {
		rc := *e.RideContext
		clone.RideContext = &rc
	}
	return &clone
}
