package stash

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"yarnstash/pkg/domain"
)

func TestSettingsRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	mgr := NewSettingsManager(repo, zerolog.Nop())
	ctx := context.Background()

	settings := DefaultSettings()
	settings.Language = "de"
	settings.HideUsedYarns = true
	settings.LengthUnit = domain.UnitYard
	settings.ProjectToggles = map[string]bool{"showFinished": false}
	if err := mgr.Save(ctx, settings); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := mgr.Load(ctx)
	if got.Language != "de" || !got.HideUsedYarns || got.LengthUnit != domain.UnitYard {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.ProjectToggles["showFinished"] {
		t.Fatalf("toggle lost: %+v", got.ProjectToggles)
	}
}

func TestSettingsLoadIsLenient(t *testing.T) {
	repo, store := newTestRepo(t)
	mgr := NewSettingsManager(repo, zerolog.Nop())
	ctx := context.Background()

	// Absent file yields defaults.
	if got := mgr.Load(ctx); got.Language != "en" || got.LengthUnit != domain.UnitMeter {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	// Malformed file yields defaults, never an error.
	if err := store.Write(ctx, DefaultNamespace+"/"+SettingsName, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := mgr.Load(ctx); got.Language != "en" {
		t.Fatalf("expected defaults for malformed settings: %+v", got)
	}

	// Unknown length unit falls back to meters.
	if err := store.Write(ctx, DefaultNamespace+"/"+SettingsName, []byte(`{"language":"fr","lengthUnit":"furlong"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := mgr.Load(ctx)
	if got.Language != "fr" || got.LengthUnit != domain.UnitMeter {
		t.Fatalf("unexpected settings: %+v", got)
	}
}
