//go:build integration

package web_test

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/dukex/regcycle/pkg/persistence/postgresql"
	"github.com/dukex/regcycle/pkg/services"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/dukex/regcycle/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var requiredData = map[string]map[string]any{
	"define-scope":          {"entities": []any{"bank-a"}, "frameworks": []any{"basel-iii"}},
	"identify-owners":       {"owners": []any{"carol"}},
	"collect-data-elements": {"source": "general-ledger"},
	"set-materiality":       {"threshold": 5.0},
	"run-quality-checks":    {"checks_passed": true},
	"review-findings":       {"summary": "no material findings"},
	"prepare-attestation":   {"statement": "figures are complete and accurate"},
	"final-package":         {"package_reference": "pkg-2026-q4"},
}

func setupIntegrationApp(t *testing.T) *fiber.App {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("regcycle_web"),
		postgres.WithUsername("regcycle"),
		postgres.WithPassword("regcycle"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	persistence, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = persistence.Close(context.Background())
	})

	resolver := versioning.NewResolver(persistence.SnapshotStore(), clockwork.NewRealClock(), logger)
	locks := locking.NewManager(locking.NewMemoryStore(), logger)

	handlers := web.NewAPIHandlers(
		services.NewCycle(persistence, resolver, locks, logger),
		services.NewControls(persistence, logger),
		services.NewReconciliation(persistence, logger),
		services.NewPersonal(persistence, logger),
		services.NewValidator(),
	)

	app := web.NewApp()
	handlers.Register(app)

	return app
}

func TestIntegration_CycleLifecycle(t *testing.T) {
	app := setupIntegrationApp(t)
	cycle := startCycle(t, app)
	base := "/cycles/" + cycle.ID

	for {
		status, body := call(t, app, alice, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, status)

		current := decode[*models.Cycle](t, body)
		phase := current.Phase(current.CurrentPhaseID)

		for _, step := range phase.Steps {
			if !step.IsRequired {
				continue
			}

			status, body = call(t, app, alice, http.MethodPut, base+"/steps/"+step.ID, web.UpdateStepRequest{
				Data:            requiredData[step.ID],
				ExpectedVersion: step.Version,
			})
			require.Equal(t, http.StatusOK, status, string(body))

			status, body = call(t, app, alice, http.MethodPost, base+"/steps/"+step.ID+"/complete", nil)
			require.Equal(t, http.StatusOK, status, string(body))
		}

		if phase.ID == models.PhaseSubmission {
			break
		}

		if phase.ID == models.PhaseAttestation {
			status, _ = call(t, app, alice, http.MethodPost, base+"/advance", nil)
			require.Equal(t, http.StatusConflict, status)

			status, body = call(t, app, bob, http.MethodPost, "/tasks/"+cycle.AttestationTaskID+"/decisions",
				web.DecisionRequest{Outcome: models.DecisionApproved, Rationale: "figures tie out"})
			require.Equal(t, http.StatusOK, status, string(body))
		}

		status, body = call(t, app, alice, http.MethodPost, base+"/advance", nil)
		require.Equal(t, http.StatusOK, status, string(body))
	}

	status, body := call(t, app, alice, http.MethodGet, base+"/gates", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, web.GatesResponse{AttestationComplete: true, CanTransitionToSubmissionReady: true},
		decode[web.GatesResponse](t, body))

	status, body = call(t, app, alice, http.MethodPost, base+"/submission-ready", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.CycleStatusSubmissionReady, decode[*models.Cycle](t, body).Status)

	status, body = call(t, app, alice, http.MethodPost, base+"/archive", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.CycleStatusArchived, decode[*models.Cycle](t, body).Status)

	status, body = call(t, app, alice, http.MethodPut, base+"/steps/final-package", web.UpdateStepRequest{
		Data:            map[string]any{"package_reference": "pkg-2026-q4-rev"},
		ExpectedVersion: 1,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "cycle_archived", decode[map[string]any](t, body)["type"])

	status, _ = call(t, app, mallory, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
