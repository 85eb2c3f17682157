package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/repositories"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// RepairSettings is the repair configuration surface of the host.
type RepairSettings struct {
	AutoRepairEnabled bool        `yaml:"auto_repair_enabled" json:"auto_repair_enabled"`
	Mode              repair.Mode `yaml:"mode" json:"mode"`
}

// DefaultRepairSettings enables auto-repair in AutoSafe mode.
func DefaultRepairSettings() RepairSettings {
	return RepairSettings{AutoRepairEnabled: true, Mode: repair.AutoSafe}
}

// EffectiveMode is the mode repairs run under. With auto-repair disabled an
// active mode still detects and suggests but never applies.
func (s RepairSettings) EffectiveMode() repair.Mode {
	if !s.AutoRepairEnabled && s.Mode.ShouldApply() {
		return repair.Suggest
	}
	return s.Mode
}

// RepairService classifies extension load failures, applies allowed repairs
// to the extension's module view and records every attempt.
type RepairService struct {
	engine   *repair.Engine
	repo     repositories.RepairEventRepository
	redactor ports.Redactor
	clock    ports.Clock
	logger   *slog.Logger
}

// NewRepairService creates a repair service. repo and redactor may be nil.
func NewRepairService(
	settings RepairSettings,
	repo repositories.RepairEventRepository,
	redactor ports.Redactor,
	clock ports.Clock,
	logger *slog.Logger,
) *RepairService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairService{
		engine:   repair.NewEngine(settings.EffectiveMode()),
		repo:     repo,
		redactor: redactor,
		clock:    clock,
		logger:   logger,
	}
}

// Mode returns the mode repairs run under.
func (s *RepairService) Mode() repair.Mode {
	return s.engine.Mode
}

// Events returns the recorded repair events matching filter, oldest first.
// Without a repository there is no history.
func (s *RepairService) Events(ctx context.Context, filter repositories.RepairEventFilter) ([]repair.Event, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.Find(ctx, filter)
}

// Attempt handles one load failure. On success the repair has been applied
// to target and the load can be retried. The returned decision carries the
// recorded event whenever a repair was invoked.
func (s *RepairService) Attempt(ctx context.Context, ext values.ExtensionID, loadErr error, target ports.RepairTarget) (repair.Decision, error) {
	f, ok := repair.ParseFailure(loadErr.Error(), target.Entry(), target.Root())
	if !ok {
		return repair.Decision{}, repair.ErrUnrecognized
	}

	rc := repair.Context{
		FS:        target.FS(),
		Root:      target.Root(),
		Importer:  f.Importer,
		Specifier: f.Specifier,
		Source:    target.Source(f.Importer),
	}
	now := s.clock.Now()

	d, err := s.engine.Attempt(ext, f, rc, now)
	if err == nil && !d.Action.NoOp {
		if applyErr := target.Apply(f, d.Action); applyErr != nil {
			err = fmt.Errorf("%w: %v", repair.ErrNoRepair, applyErr)
			ev := repair.NewEvent(ext, d.Pattern, f.Message, applyErr.Error(), false, now)
			d.Event = &ev
		}
	}

	switch {
	case errors.Is(err, repair.ErrSuggestOnly):
		s.logger.Info("extension repair suggested",
			"extension", ext.String(), "pattern", d.Pattern.String(), "mode", s.engine.Mode.String())
	case errors.Is(err, repair.ErrNotAllowed):
		s.logger.Warn("extension repair not allowed",
			"extension", ext.String(), "pattern", d.Pattern.String(), "mode", s.engine.Mode.String())
	}

	if d.Event != nil {
		ev := s.record(ctx, *d.Event)
		d.Event = &ev
	}
	return d, err
}

// RecordNormalization gates and records manifest normalisation. It returns
// an error wrapping a repair sentinel when the mode forbids the changes.
func (s *RepairService) RecordNormalization(ctx context.Context, ext values.ExtensionID, changes []entities.Normalization) (*repair.Event, error) {
	var material []string
	for _, c := range changes {
		// A defaulted runtime is not a change to what the author wrote.
		if c.Field == "runtime" {
			continue
		}
		material = append(material, c.String())
	}
	if len(material) == 0 {
		return nil, nil
	}

	mode := s.engine.Mode
	switch {
	case !mode.IsActive():
		return nil, repair.ErrModeOff
	case !mode.ShouldApply():
		return nil, fmt.Errorf("%w: %s", repair.ErrSuggestOnly, repair.ManifestNormalization)
	case !repair.ManifestNormalization.AllowedBy(mode):
		return nil, fmt.Errorf("%w: %s", repair.ErrNotAllowed, repair.ManifestNormalization)
	}

	ev := repair.NewEvent(ext, repair.ManifestNormalization,
		"manifest is not in canonical form",
		"normalised "+strings.Join(material, ", "),
		true, s.clock.Now())
	ev = s.record(ctx, ev)
	return &ev, nil
}

// record redacts and persists an event. Persistence failures are logged;
// the in-memory event is still returned.
func (s *RepairService) record(ctx context.Context, ev repair.Event) repair.Event {
	if s.redactor != nil {
		ev = repair.NewEvent(ev.ExtensionID(), ev.Pattern(),
			s.redactor.ScrubString(ev.OriginalError()),
			s.redactor.ScrubString(ev.RepairAction()),
			ev.Success(), ev.Timestamp())
	}

	s.logger.Info("extension repair attempted",
		"extension", ev.ExtensionID().String(),
		"pattern", ev.Pattern().String(),
		"success", ev.Success(),
		"action", ev.RepairAction(),
	)

	if s.repo != nil {
		if _, err := s.repo.Append(ctx, ev); err != nil {
			s.logger.Warn("failed to persist repair event", "extension", ev.ExtensionID().String(), "error", err)
		}
	}
	return ev
}
