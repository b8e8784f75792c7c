package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"gantt-proxy/domain"
	"gantt-proxy/viewstate"
)

// Fixed preference keys.
const (
	KeyFieldMappings = "gantt.fieldMappings"
	KeyColorRules    = "gantt.colorRules"
	KeyTextTemplates = "gantt.textTemplates"
	KeyActivePreset  = "gantt.activePreset"
	KeyPresets       = "gantt.presets"
	KeyViewState     = "gantt.viewState"
)

const (
	probeProfile = "__probe__"
	probeKey     = "__probe__"
	probeTimeout = 5 * time.Second
)

// MaxValueSize bounds an encoded preference. Table Storage caps a string
// property at 64 KiB of UTF-16, which a UTF-8 blob of this size never exceeds.
const MaxValueSize = 32 * 1024

var (
	// ErrNotFound is returned by backends when a key has no value.
	ErrNotFound = errors.New("preference not found")
	// ErrValueTooLarge is returned by CheckSize for values over MaxValueSize.
	ErrValueTooLarge = errors.New("preference value too large")
)

// CheckSize reports ErrValueTooLarge when v encodes to more than MaxValueSize.
func CheckSize(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(data), MaxValueSize)
	}
	return nil
}

// Backend persists opaque preference blobs per profile.
type Backend interface {
	Get(ctx context.Context, profile, key string) ([]byte, error)
	Put(ctx context.Context, profile, key string, value []byte) error
	Delete(ctx context.Context, profile, key string) error
}

// Preferences is a typed wrapper over a Backend. When the backend is missing
// or failed its startup probe, loads return empty values and saves return
// false.
type Preferences struct {
	backend   Backend
	available bool
	log       *log.Logger
}

// NewPreferences wraps backend after probing it with a write and delete.
func NewPreferences(ctx context.Context, backend Backend, logger *log.Logger) *Preferences {
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &Preferences{backend: backend, log: logger}
	if backend == nil {
		logger.Warn("preference storage not configured; preferences will not persist")
		return p
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := backend.Put(pctx, probeProfile, probeKey, []byte("1")); err != nil {
		logger.WithError(err).Warn("preference storage unavailable")
		return p
	}
	_ = backend.Delete(pctx, probeProfile, probeKey)
	p.available = true
	return p
}

// Available reports whether the backend passed its probe.
func (p *Preferences) Available() bool {
	return p != nil && p.available
}

// Raw returns the stored blob for key, or nil when absent or unavailable.
func (p *Preferences) Raw(ctx context.Context, profile, key string) []byte {
	if !p.Available() {
		return nil
	}
	data, err := p.backend.Get(ctx, profile, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.log.WithError(err).WithField("key", key).Warn("preference read failed")
		}
		return nil
	}
	return data
}

// SaveRaw stores a blob and reports success.
func (p *Preferences) SaveRaw(ctx context.Context, profile, key string, value []byte) bool {
	if !p.Available() {
		return false
	}
	if len(value) > MaxValueSize {
		p.log.WithFields(log.Fields{"key": key, "size": len(value)}).Warn("preference too large to store")
		return false
	}
	if err := p.backend.Put(ctx, profile, key, value); err != nil {
		p.log.WithError(err).WithFields(log.Fields{"key": key, "size": len(value)}).Warn("preference write failed")
		return false
	}
	return true
}

// Remove deletes a key and reports success. Removing a missing key succeeds.
func (p *Preferences) Remove(ctx context.Context, profile, key string) bool {
	if !p.Available() {
		return false
	}
	if err := p.backend.Delete(ctx, profile, key); err != nil && !errors.Is(err, ErrNotFound) {
		p.log.WithError(err).WithField("key", key).Warn("preference delete failed")
		return false
	}
	return true
}

func (p *Preferences) load(ctx context.Context, profile, key string, out any) bool {
	data := p.Raw(ctx, profile, key)
	if data == nil {
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("discarding corrupt preference")
		return false
	}
	return true
}

func (p *Preferences) save(ctx context.Context, profile, key string, v any) bool {
	if !p.Available() {
		return false
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		p.log.WithError(err).WithField("key", key).Error("preference encode failed")
		return false
	}
	return p.SaveRaw(ctx, profile, key, data)
}

// FieldMappings returns the saved mappings keyed by table id.
func (p *Preferences) FieldMappings(ctx context.Context, profile string) domain.TableMappings {
	m := domain.TableMappings{}
	if !p.load(ctx, profile, KeyFieldMappings, &m) || m == nil {
		return domain.TableMappings{}
	}
	return m
}

// SaveFieldMappings replaces every saved mapping.
func (p *Preferences) SaveFieldMappings(ctx context.Context, profile string, m domain.TableMappings) bool {
	return p.save(ctx, profile, KeyFieldMappings, m)
}

// SaveFieldMapping stores one table's mapping, keeping the others.
func (p *Preferences) SaveFieldMapping(ctx context.Context, profile, tableID string, m domain.FieldMapping) bool {
	if !p.Available() {
		return false
	}
	all := p.FieldMappings(ctx, profile)
	all[tableID] = m
	return p.SaveFieldMappings(ctx, profile, all)
}

// FieldMapping returns the mapping saved for a table.
func (p *Preferences) FieldMapping(ctx context.Context, profile, tableID string) (domain.FieldMapping, bool) {
	m, ok := p.FieldMappings(ctx, profile)[tableID]
	return m, ok
}

// ColorRules returns the saved colour rules.
func (p *Preferences) ColorRules(ctx context.Context, profile string) []domain.ColorRule {
	var rules []domain.ColorRule
	if !p.load(ctx, profile, KeyColorRules, &rules) || rules == nil {
		return []domain.ColorRule{}
	}
	return rules
}

// SaveColorRules replaces the colour rules.
func (p *Preferences) SaveColorRules(ctx context.Context, profile string, rules []domain.ColorRule) bool {
	return p.save(ctx, profile, KeyColorRules, rules)
}

// TextTemplates returns the saved bar label templates.
func (p *Preferences) TextTemplates(ctx context.Context, profile string) []domain.TextTemplate {
	var tt []domain.TextTemplate
	if !p.load(ctx, profile, KeyTextTemplates, &tt) || tt == nil {
		return []domain.TextTemplate{}
	}
	return tt
}

// SaveTextTemplates replaces the label templates.
func (p *Preferences) SaveTextTemplates(ctx context.Context, profile string, tt []domain.TextTemplate) bool {
	return p.save(ctx, profile, KeyTextTemplates, tt)
}

// ActivePreset returns the active preset id, or "".
func (p *Preferences) ActivePreset(ctx context.Context, profile string) string {
	var id string
	if !p.load(ctx, profile, KeyActivePreset, &id) {
		return ""
	}
	return id
}

// SaveActivePreset records the active preset id.
func (p *Preferences) SaveActivePreset(ctx context.Context, profile, id string) bool {
	return p.save(ctx, profile, KeyActivePreset, id)
}

// Presets returns the saved presets.
func (p *Preferences) Presets(ctx context.Context, profile string) []domain.Preset {
	var presets []domain.Preset
	if !p.load(ctx, profile, KeyPresets, &presets) || presets == nil {
		return []domain.Preset{}
	}
	return presets
}

// SavePresets replaces the preset list.
func (p *Preferences) SavePresets(ctx context.Context, profile string, presets []domain.Preset) bool {
	return p.save(ctx, profile, KeyPresets, presets)
}

// ViewState returns the persisted view slice and whether one was stored.
func (p *Preferences) ViewState(ctx context.Context, profile string) (viewstate.Persisted, bool) {
	var vs viewstate.Persisted
	if !p.load(ctx, profile, KeyViewState, &vs) {
		return viewstate.Persisted{}, false
	}
	return vs, true
}

// SaveViewState stores the persisted view slice.
func (p *Preferences) SaveViewState(ctx context.Context, profile string, vs viewstate.Persisted) bool {
	return p.save(ctx, profile, KeyViewState, vs)
}
