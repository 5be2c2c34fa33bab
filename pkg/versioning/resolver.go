package versioning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/regcycle/pkg/canonical"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ConflictCheck is the answer to CheckForConflicts.
type ConflictCheck struct {
	HasConflict bool                   `json:"has_conflict"`
	Conflict    *models.ConflictRecord `json:"conflict,omitempty"`
}

// UpdateResult is the outcome of UpdateStepData. Exactly one of Success or Conflict is set.
type UpdateResult struct {
	Success    bool                      `json:"success"`
	NewVersion int64                     `json:"new_version,omitempty"`
	Snapshot   *models.VersionedSnapshot `json:"snapshot,omitempty"`
	Conflict   *models.ConflictRecord    `json:"conflict,omitempty"`
}

// ResolutionResult is the outcome of ResolveConflict.
type ResolutionResult struct {
	ResolvedData map[string]any            `json:"resolved_data"`
	NewVersion   int64                     `json:"new_version"`
	Snapshot     *models.VersionedSnapshot `json:"snapshot"`
}

// DefaultConflictTTL is how long an unresolved conflict stays pending.
const DefaultConflictTTL = 24 * time.Hour

// Resolver detects and resolves conflicting step writes on top of a Store.
// Detected conflicts stay in a ConflictStore until they are resolved or expire.
type Resolver struct {
	store     Store
	conflicts ConflictStore
	ttl       time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
}

type ResolverOption func(*Resolver)

// WithConflictStore overrides where pending conflicts are kept.
func WithConflictStore(conflicts ConflictStore) ResolverOption {
	return func(r *Resolver) {
		r.conflicts = conflicts
	}
}

func WithConflictTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewResolver creates a conflict resolver over store. Pending conflicts live next to the snapshots
// when store is also a ConflictStore, and in process memory otherwise.
func NewResolver(store Store, clock clockwork.Clock, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	r := &Resolver{
		store:  store,
		ttl:    DefaultConflictTTL,
		clock:  clock,
		logger: logger.With("module", "conflict_resolver"),
	}

	if conflicts, ok := store.(ConflictStore); ok {
		r.conflicts = conflicts
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.conflicts == nil {
		r.conflicts = NewMemoryStore()
	}

	return r
}

// Snapshot returns the current snapshot of a step, or nil.
func (r *Resolver) Snapshot(ctx context.Context, key models.StepKey) (*models.VersionedSnapshot, error) {
	return r.store.Get(ctx, key)
}

// CheckForConflicts compares a candidate write against the current snapshot without mutating anything.
func (r *Resolver) CheckForConflicts(
	ctx context.Context,
	key models.StepKey,
	claimedBaseVersion int64,
	candidate map[string]any,
	writerID string,
) (*ConflictCheck, error) {
	current, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", key, err)
	}

	return r.detect(key, current, claimedBaseVersion, candidate, writerID), nil
}

func (r *Resolver) detect(
	key models.StepKey,
	current *models.VersionedSnapshot,
	claimedBaseVersion int64,
	candidate map[string]any,
	writerID string,
) *ConflictCheck {
	if current == nil || current.Version == claimedBaseVersion {
		return &ConflictCheck{}
	}

	fields := DiffFields(candidate, current.Data)
	if len(fields) == 0 {
		return &ConflictCheck{}
	}

	now := r.clock.Now()

	return &ConflictCheck{
		HasConflict: true,
		Conflict: &models.ConflictRecord{
			ID:      uuid.NewString(),
			StepKey: key,
			Local: models.VersionedSnapshot{
				StepID:       key.StepID,
				Version:      claimedBaseVersion,
				Data:         canonical.Clone(candidate),
				WriterUserID: writerID,
				Timestamp:    now,
			},
			Remote:        *current,
			DetectedAt:    now,
			LocalVersion:  claimedBaseVersion,
			RemoteVersion: current.Version,
			Fields:        fields,
		},
	}
}

// DiffFields lists every key of local or remote whose values are not deeply equal, sorted by name.
// A key present on one side only is a difference.
func DiffFields(local, remote map[string]any) []models.FieldConflict {
	keys := make([]string, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local)+len(remote))

	for _, m := range []map[string]any{local, remote} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	sort.Strings(keys)

	var fields []models.FieldConflict

	for _, k := range keys {
		localValue, inLocal := local[k]
		remoteValue, inRemote := remote[k]

		if inLocal == inRemote && canonical.Equal(localValue, remoteValue) {
			continue
		}

		fields = append(fields, models.FieldConflict{
			Field:       k,
			LocalValue:  localValue,
			RemoteValue: remoteValue,
		})
	}

	return fields
}

// UpdateStepData accepts the write when expectedVersion matches the stored version (or nothing is
// stored yet) and increments the version by one. A stale write whose values already equal the
// stored data is absorbed without a new version. Any other stale write is returned as a conflict
// and leaves the store untouched.
func (r *Resolver) UpdateStepData(
	ctx context.Context,
	key models.StepKey,
	data map[string]any,
	expectedVersion int64,
	writerID string,
) (*UpdateResult, error) {
	var (
		check    *ConflictCheck
		absorbed bool
	)

	snapshot, err := r.store.Apply(ctx, key, func(current *models.VersionedSnapshot) (*models.VersionedSnapshot, error) {
		check = r.detect(key, current, expectedVersion, data, writerID)
		absorbed = false

		if check.HasConflict {
			return nil, nil
		}

		if current != nil && current.Version != expectedVersion {
			absorbed = true

			return nil, nil
		}

		var version int64 = 1
		if current != nil {
			version = current.Version + 1
		}

		return &models.VersionedSnapshot{
			StepID:       key.StepID,
			Version:      version,
			Data:         canonical.Clone(data),
			WriterUserID: writerID,
			Timestamp:    r.clock.Now(),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update step %s: %w", key, err)
	}

	if check.HasConflict {
		if err := r.remember(ctx, check.Conflict); err != nil {
			return nil, err
		}

		r.logger.InfoContext(ctx, "version conflict detected",
			"step", key.String(),
			"expected_version", expectedVersion,
			"current_version", check.Conflict.RemoteVersion,
			"fields", check.Conflict.FieldNames(),
		)

		return &UpdateResult{Conflict: check.Conflict}, nil
	}

	if absorbed {
		r.logger.DebugContext(ctx, "stale write matches stored data", "step", key.String(), "version", snapshot.Version)
	}

	return &UpdateResult{
		Success:    true,
		NewVersion: snapshot.Version,
		Snapshot:   snapshot,
	}, nil
}

// Merge computes the resolved data for a conflict without touching the store.
//
// keep_local and keep_remote take one side whole. merge without choices starts from remote and
// overlays every local field that is not in conflict; contested fields keep the remote value.
// merge with choices takes, for every key of either side, the chosen side; keys without a choice
// take remote when present and local otherwise.
func Merge(
	conflict *models.ConflictRecord,
	strategy models.ResolutionStrategy,
	choices map[string]models.FieldChoice,
) (map[string]any, error) {
	local := conflict.Local.Data
	remote := conflict.Remote.Data

	switch strategy {
	case models.ResolutionKeepLocal:
		return canonical.Clone(orEmpty(local)), nil

	case models.ResolutionKeepRemote:
		return canonical.Clone(orEmpty(remote)), nil

	case models.ResolutionMerge:
		if len(choices) == 0 {
			return autoMerge(conflict), nil
		}

		return manualMerge(local, remote, choices)

	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidResolution, strategy)
	}
}

func autoMerge(conflict *models.ConflictRecord) map[string]any {
	contested := make(map[string]bool, len(conflict.Fields))
	for _, f := range conflict.Fields {
		contested[f.Field] = true
	}

	merged := canonical.Clone(orEmpty(conflict.Remote.Data))
	for k, v := range canonical.Clone(conflict.Local.Data) {
		if !contested[k] {
			merged[k] = v
		}
	}

	return merged
}

func manualMerge(local, remote map[string]any, choices map[string]models.FieldChoice) (map[string]any, error) {
	for field, choice := range choices {
		if choice != models.ChoiceLocal && choice != models.ChoiceRemote {
			return nil, fmt.Errorf("%w: field %q has choice %q", ErrInvalidResolution, field, choice)
		}
	}

	local = canonical.Clone(local)
	remote = canonical.Clone(remote)
	merged := make(map[string]any, len(local)+len(remote))

	pick := func(k string, side map[string]any) {
		if v, ok := side[k]; ok {
			merged[k] = v
		}
	}

	for _, side := range []map[string]any{local, remote} {
		for k := range side {
			switch choices[k] {
			case models.ChoiceLocal:
				pick(k, local)
			case models.ChoiceRemote:
				pick(k, remote)
			default:
				if _, ok := remote[k]; ok {
					pick(k, remote)
				} else {
					pick(k, local)
				}
			}
		}
	}

	return merged, nil
}

// ResolveConflict stores the resolved data as version RemoteVersion+1 without re-running conflict
// detection. If the step has moved past RemoteVersion in the meantime the resolution is refused with
// ErrStaleResolution and the conflict stays pending.
func (r *Resolver) ResolveConflict(
	ctx context.Context,
	conflict *models.ConflictRecord,
	strategy models.ResolutionStrategy,
	choices map[string]models.FieldChoice,
	writerID string,
) (*ResolutionResult, error) {
	resolved, err := Merge(conflict, strategy, choices)
	if err != nil {
		return nil, err
	}

	snapshot, err := r.store.Apply(ctx, conflict.StepKey, func(current *models.VersionedSnapshot) (*models.VersionedSnapshot, error) {
		if current == nil || current.Version != conflict.RemoteVersion {
			return nil, ErrStaleResolution
		}

		return &models.VersionedSnapshot{
			StepID:       conflict.StepKey.StepID,
			Version:      conflict.RemoteVersion + 1,
			Data:         resolved,
			WriterUserID: writerID,
			Timestamp:    r.clock.Now(),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conflict %s: %w", conflict.ID, err)
	}

	if err := r.conflicts.DeleteConflict(ctx, conflict.ID); err != nil {
		r.logger.WarnContext(ctx, "failed to delete resolved conflict", "conflict_id", conflict.ID, "error", err)
	}

	r.logger.InfoContext(ctx, "conflict resolved",
		"conflict_id", conflict.ID,
		"step", conflict.StepKey.String(),
		"strategy", strategy,
		"new_version", snapshot.Version,
	)

	return &ResolutionResult{
		ResolvedData: snapshot.Data,
		NewVersion:   snapshot.Version,
		Snapshot:     snapshot,
	}, nil
}

// ResolveConflictByID resolves a pending conflict recorded by UpdateStepData.
func (r *Resolver) ResolveConflictByID(
	ctx context.Context,
	conflictID string,
	strategy models.ResolutionStrategy,
	choices map[string]models.FieldChoice,
	writerID string,
) (*models.ConflictRecord, *ResolutionResult, error) {
	conflict, err := r.Conflict(ctx, conflictID)
	if err != nil {
		return nil, nil, err
	}

	result, err := r.ResolveConflict(ctx, conflict, strategy, choices, writerID)
	if err != nil {
		return conflict, nil, err
	}

	return conflict, result, nil
}

// Conflict returns a pending conflict by id. An expired conflict is deleted and reported as not found.
func (r *Resolver) Conflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error) {
	conflict, err := r.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	if r.expired(conflict) {
		r.drop(ctx, conflict)

		return nil, fmt.Errorf("%w: %s expired", ErrConflictNotFound, conflictID)
	}

	return conflict, nil
}

// PendingConflicts lists unresolved conflicts of a step, oldest first.
func (r *Resolver) PendingConflicts(ctx context.Context, key models.StepKey) ([]*models.ConflictRecord, error) {
	stored, err := r.conflicts.StepConflicts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts of %s: %w", key, err)
	}

	pending := make([]*models.ConflictRecord, 0, len(stored))

	for _, conflict := range stored {
		if r.expired(conflict) {
			r.drop(ctx, conflict)

			continue
		}

		pending = append(pending, conflict)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].DetectedAt.Before(pending[j].DetectedAt)
	})

	return pending, nil
}

// DiscardConflict drops a pending conflict without writing anything.
func (r *Resolver) DiscardConflict(ctx context.Context, conflictID string) error {
	return r.conflicts.DeleteConflict(ctx, conflictID)
}

// SweepConflicts deletes every expired conflict and returns how many were removed.
func (r *Resolver) SweepConflicts(ctx context.Context) (int, error) {
	removed, err := r.conflicts.DeleteExpiredConflicts(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep conflicts: %w", err)
	}

	if removed > 0 {
		r.logger.DebugContext(ctx, "expired conflicts removed", "count", removed)
	}

	return removed, nil
}

// remember stores a new conflict and sweeps the ones that expired meanwhile.
func (r *Resolver) remember(ctx context.Context, conflict *models.ConflictRecord) error {
	conflict.ExpiresAt = conflict.DetectedAt.Add(r.ttl)

	if err := r.conflicts.SaveConflict(ctx, conflict); err != nil {
		return fmt.Errorf("failed to record conflict %s: %w", conflict.ID, err)
	}

	if _, err := r.SweepConflicts(ctx); err != nil {
		r.logger.WarnContext(ctx, "conflict sweep did not complete", "error", err)
	}

	return nil
}

func (r *Resolver) expired(conflict *models.ConflictRecord) bool {
	return !conflict.ExpiresAt.IsZero() && !r.clock.Now().Before(conflict.ExpiresAt)
}

func (r *Resolver) drop(ctx context.Context, conflict *models.ConflictRecord) {
	if err := r.conflicts.DeleteConflict(ctx, conflict.ID); err != nil {
		r.logger.WarnContext(ctx, "failed to delete expired conflict", "conflict_id", conflict.ID, "error", err)
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
