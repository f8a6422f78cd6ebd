// Package ingest is the boundary callers use to add, update and delete the
// images of a resource. It validates uploads, serializes work per resource
// and ties derivative files to their records.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"pictor/internal/appinfo"
	"pictor/internal/apperr"
	"pictor/internal/database"
	"pictor/internal/derivative"
	"pictor/internal/metadata"
	"pictor/internal/metrics"
	"pictor/internal/slots"
	"pictor/internal/storage"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
	"pictor/pkg/utils"
)

type State string

const (
	StatePersisted State = "persisted"
	StateDeleted   State = "deleted"
	StateRejected  State = "rejected"
	// StateFailed marks a transform or storage failure after writing began.
	StateFailed State = "failed"
)

// Resource identifies the owner of a derivative collection.
type Resource struct {
	Type string
	ID   string
}

func (r Resource) lockKey() string {
	return storage.Slugify(r.Type) + "/" + r.ID
}

// Upload is raw bytes with the client file name.
type Upload struct {
	Filename string
	Data     []byte
}

// Outcome is the terminal state of one target.
type Outcome struct {
	Key    string               `json:"key"`
	State  State                `json:"state"`
	Record *database.Derivative `json:"record,omitempty"`
	Code   string               `json:"code,omitempty"`
	Error  string               `json:"error,omitempty"`
}

type Options struct {
	RetinaFactor  int
	MaxUploadSize int64
	TempDir       string
}

type Facade struct {
	registry *slots.Registry
	orch     *derivative.Orchestrator
	guard    *metadata.Guard
	store    database.Store
	files    *storage.FileStore
	opts     Options
	locks    *keyedMutex
	log      *logger.Logger
}

func New(registry *slots.Registry, orch *derivative.Orchestrator, guard *metadata.Guard, store database.Store, files *storage.FileStore, opts Options, log *logger.Logger) *Facade {
	return &Facade{
		registry: registry,
		orch:     orch,
		guard:    guard,
		store:    store,
		files:    files,
		opts:     opts,
		locks:    newKeyedMutex(),
		log:      log,
	}
}

// Registry returns the slot registry the facade validates against.
func (f *Facade) Registry() *slots.Registry {
	return f.registry
}

// Apply runs every target of one keyed request against res. Each target
// reaches its own terminal state; one failure does not stop the others.
func (f *Facade) Apply(ctx context.Context, res Resource, targets []Target) ([]Outcome, error) {
	if err := checkResource(res); err != nil {
		return nil, err
	}
	unlock := f.locks.Lock(res.lockKey())
	defer unlock()

	outcomes := make([]Outcome, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, f.applyOne(ctx, res, t))
	}
	return outcomes, nil
}

func (f *Facade) applyOne(ctx context.Context, res Resource, t Target) Outcome {
	var (
		rec   *database.Derivative
		state State
		err   error
	)

	switch t.Kind {
	case KindExisting:
		if t.Delete {
			state, err = StateDeleted, f.delete(ctx, res, t.Slot, t.RecordID)
		} else {
			state = StatePersisted
			rec, err = f.update(ctx, res, t.Slot, t.RecordID, t.Entry)
		}

	case KindSingle:
		switch {
		case t.Delete:
			state, err = StateDeleted, f.clearSingle(ctx, res, t.Slot)
		case t.Temp != "":
			state = StatePersisted
			rec, err = f.createFromTemp(ctx, res, t.Slot, t.Temp, t.Entry, true)
		default:
			err = apperr.Validation("%s needs a temp upload id or delete", t.Key)
		}

	case KindNew:
		if t.Delete {
			state, err = StateDeleted, f.discardTemp(ctx, t.TempID)
		} else {
			state = StatePersisted
			rec, err = f.createFromTemp(ctx, res, t.Slot, t.TempID, t.Entry, false)
		}
	}

	return f.outcome(t.Key, state, rec, err)
}

func (f *Facade) outcome(key string, state State, rec *database.Derivative, err error) Outcome {
	if err == nil {
		metrics.IngestOutcomes.WithLabelValues(string(state)).Inc()
		return Outcome{Key: key, State: state, Record: rec}
	}

	state = StateFailed
	if apperr.IsRejection(err) || errors.Is(err, apperr.ErrNotFound) {
		state = StateRejected
		appinfo.AddRejected()
		f.log.Warn("Rejected %s: %v", key, err)
	} else {
		f.log.Error("Failed %s: %v", key, err)
	}
	metrics.IngestOutcomes.WithLabelValues(string(state)).Inc()
	return Outcome{Key: key, State: state, Code: apperr.Code(err), Error: err.Error()}
}

// Create derives upload into slot and persists its record. Single slots
// lose their previous image once the new one has passed validation.
func (f *Facade) Create(ctx context.Context, res Resource, slot string, upload Upload, entry Entry) (*database.Derivative, error) {
	if err := checkResource(res); err != nil {
		return nil, err
	}
	unlock := f.locks.Lock(res.lockKey())
	defer unlock()

	return f.create(ctx, res, slot, upload, entry, false)
}

// ReplaceSingle stores upload as the only image of slot.
func (f *Facade) ReplaceSingle(ctx context.Context, res Resource, slot string, upload Upload, entry Entry) (*database.Derivative, error) {
	if err := checkResource(res); err != nil {
		return nil, err
	}
	unlock := f.locks.Lock(res.lockKey())
	defer unlock()

	return f.create(ctx, res, slot, upload, entry, true)
}

// Update changes order and meta of an existing record. Files are untouched.
func (f *Facade) Update(ctx context.Context, res Resource, slot string, id uint, entry Entry) (*database.Derivative, error) {
	if err := checkResource(res); err != nil {
		return nil, err
	}
	unlock := f.locks.Lock(res.lockKey())
	defer unlock()

	return f.update(ctx, res, slot, id, entry)
}

// Delete removes a record and every file derived for it. An empty slot
// accepts a record of any slot.
func (f *Facade) Delete(ctx context.Context, res Resource, slot string, id uint) error {
	if err := checkResource(res); err != nil {
		return err
	}
	unlock := f.locks.Lock(res.lockKey())
	defer unlock()

	return f.delete(ctx, res, slot, id)
}

// ClearSingle deletes every record of slot.
func (f *Facade) ClearSingle(ctx context.Context, res Resource, slot string) error {
	if err := checkResource(res); err != nil {
		return err
	}
	unlock := f.locks.Lock(res.lockKey())
	defer unlock()

	return f.clearSingle(ctx, res, slot)
}

// Find loads a record of res.
func (f *Facade) Find(ctx context.Context, res Resource, id uint) (*database.Derivative, error) {
	rec, err := f.store.GetDerivative(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ResourceType != res.Type || rec.ResourceID != res.ID {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

// Locate returns the file of one derivative of a record.
func (f *Facade) Locate(ctx context.Context, res Resource, id uint, name string, retina bool) (string, error) {
	rec, err := f.Find(ctx, res, id)
	if err != nil {
		return "", err
	}
	slot, err := f.slotOrFallback(rec)
	if err != nil {
		return "", err
	}
	return f.orch.Locate(rec, slot, name, retina)
}

// List returns the records of res, optionally limited to one slot.
func (f *Facade) List(ctx context.Context, res Resource, slot string) ([]database.Derivative, error) {
	return f.store.ListDerivatives(ctx, res.Type, res.ID, slot)
}

func (f *Facade) create(ctx context.Context, res Resource, slotName string, upload Upload, entry Entry, forceSingle bool) (*database.Derivative, error) {
	slot, err := f.registry.Slot(res.Type, slotName)
	if err != nil {
		return nil, err
	}
	if forceSingle && !slot.Single {
		return nil, &apperr.ConfigurationError{Resource: res.Type, Slot: slotName, Reason: "slot is not a single image slot"}
	}
	if err := f.validate(slot, upload); err != nil {
		return nil, err
	}
	if err := f.guard.AssertNoCollision(ctx, entry.Meta); err != nil {
		return nil, err
	}

	if slot.Single {
		if err := f.clearSingle(ctx, res, slotName); err != nil {
			return nil, err
		}
	}

	m, err := f.orch.Produce(ctx, derivative.Request{
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Slot:         slot,
		Name:         storage.SanitizeFilename(upload.Filename),
		Source:       upload.Data,
		RetinaFactor: f.opts.RetinaFactor,
	})
	if err != nil {
		return nil, err
	}

	order := 0
	if entry.Order != nil {
		order = *entry.Order
	} else if existing, err := f.store.ListDerivatives(ctx, res.Type, res.ID, slotName); err == nil {
		order = len(existing)
	}

	rec := &database.Derivative{
		ResourceType:  res.Type,
		ResourceID:    res.ID,
		ImageType:     slotName,
		OriginalImage: m.SourceName,
		SortOrder:     order,
		Meta:          entry.Meta,
	}
	if m.RetinaFactor > 0 {
		factor := m.RetinaFactor
		rec.RetinaFactor = &factor
	}
	if err := f.store.CreateDerivative(ctx, rec); err != nil {
		return nil, err
	}

	appinfo.AddRecord(m.Bytes)
	f.log.Success("Stored %s for %s/%s (%s, %s)", rec.OriginalImage, res.Type, res.ID, slotName, utils.FormatBytes(m.Bytes))
	return rec, nil
}

// validate runs every check that must pass before a byte is written.
func (f *Facade) validate(slot *slots.Slot, upload Upload) error {
	if f.opts.MaxUploadSize > 0 && int64(len(upload.Data)) > f.opts.MaxUploadSize {
		return &apperr.ValidationError{
			Code: apperr.CodeTooLarge,
			Message: fmt.Sprintf("file exceeds the maximum upload size of %s",
				utils.FormatBytes(f.opts.MaxUploadSize)),
		}
	}
	if _, ok := utils.SniffImage(upload.Data); !ok {
		return apperr.UnsupportedFormat(nil)
	}

	width, height, _, err := transform.Probe(upload.Data)
	if err != nil {
		return apperr.UnsupportedFormat(err)
	}
	minW, minH := f.orch.Resolver().MinimumSourceDimensions(slot, f.opts.RetinaFactor)
	if width < minW || height < minH {
		return &apperr.ValidationError{
			Code:    apperr.CodeDimensionsTooSmall,
			Message: fmt.Sprintf("image must be at least %dx%d pixels, got %dx%d", minW, minH, width, height),
		}
	}
	return nil
}

func (f *Facade) update(ctx context.Context, res Resource, slot string, id uint, entry Entry) (*database.Derivative, error) {
	rec, err := f.owned(ctx, res, slot, id)
	if err != nil {
		return nil, err
	}
	if err := f.guard.AssertNoCollision(ctx, entry.Meta); err != nil {
		return nil, err
	}
	return f.store.UpdateDerivative(ctx, rec.ID, database.DerivativeChanges{Order: entry.Order, Meta: entry.Meta})
}

func (f *Facade) delete(ctx context.Context, res Resource, slot string, id uint) error {
	rec, err := f.owned(ctx, res, slot, id)
	if err != nil {
		return err
	}
	return f.remove(ctx, rec)
}

func (f *Facade) clearSingle(ctx context.Context, res Resource, slot string) error {
	existing, err := f.store.ListDerivatives(ctx, res.Type, res.ID, slot)
	if err != nil {
		return err
	}
	for i := range existing {
		if err := f.remove(ctx, &existing[i]); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes the files of rec, then the record. File removal errors are
// logged and left to the sweep so the record never outlives its request.
func (f *Facade) remove(ctx context.Context, rec *database.Derivative) error {
	slot, err := f.slotOrFallback(rec)
	if err != nil {
		return err
	}
	m, err := f.orch.RecordManifest(rec, slot)
	if err != nil {
		return err
	}
	if err := f.orch.Remove(m); err != nil {
		f.log.Warn("Removing files of record %d: %v", rec.ID, err)
	}
	if err := f.store.DeleteDerivative(ctx, rec.ID); err != nil {
		return err
	}
	appinfo.RemoveRecord()
	f.log.Info("Deleted record %d (%s) of %s/%s", rec.ID, rec.OriginalImage, rec.ResourceType, rec.ResourceID)
	return nil
}

// slotOrFallback returns the configured slot of rec, or a slot with only the
// admin thumbnail when the configuration no longer declares it.
func (f *Facade) slotOrFallback(rec *database.Derivative) (*slots.Slot, error) {
	slot, err := f.registry.Slot(rec.ResourceType, rec.ImageType)
	var cfgErr *apperr.ConfigurationError
	if errors.As(err, &cfgErr) {
		return &slots.Slot{Resource: rec.ResourceType, Name: rec.ImageType, AdminThumb: true}, nil
	}
	return slot, err
}

// owned loads record id and checks it belongs to res and, when given, slot.
func (f *Facade) owned(ctx context.Context, res Resource, slot string, id uint) (*database.Derivative, error) {
	rec, err := f.Find(ctx, res, id)
	if err != nil {
		return nil, err
	}
	if slot != "" && rec.ImageType != slot {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

func checkResource(res Resource) error {
	if storage.Slugify(res.Type) == "" {
		return &apperr.ConfigurationError{Resource: res.Type, Reason: "empty resource type identifier"}
	}
	if !utils.IsValidKeyFormat(res.ID) {
		return apperr.Validation("invalid resource id %q", res.ID)
	}
	return nil
}
