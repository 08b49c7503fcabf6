package app

import (
	"context"
	"errors"
	"fmt"

	"gatherline/internal/config"
	"gatherline/internal/repo"
)

// ResolveEventAndConfig picks the active event and ensures its config row
// exists, seeding defaults if missing. It prefers the override, then the
// workspace config file, then a single-event database.
func ResolveEventAndConfig(ctx context.Context, workspace, eventOverride string, r repo.Repo) (string, *config.Config, error) {
	eventID := eventOverride
	if eventID == "" {
		if fileCfg, err := config.LoadOptional(workspace); err != nil {
			return "", nil, err
		} else if fileCfg != nil {
			eventID = fileCfg.Event.ID
		}
	}
	if eventID == "" {
		ev, err := r.SingleEvent(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("event not specified; use --event")
		}
		eventID = ev.ID
	}
	if _, err := r.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("event %s not found; create it with gl event create", eventID)
		}
		return "", nil, err
	}
	cfg, err := r.GetEventConfig(ctx, eventID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(eventID)
		if err := r.UpsertEventConfig(ctx, eventID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed event config: %w", err)
		}
	}
	cfg.Event.ID = eventID
	return eventID, cfg, nil
}
