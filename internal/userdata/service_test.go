package userdata_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiquantia/internal/events"
	"optiquantia/internal/localdb"
	"optiquantia/internal/models"
	"optiquantia/internal/userdata"
)

type stubIdentity struct {
	mu sync.Mutex
	id *models.Identity
}

func (s *stubIdentity) Identity() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		return models.Identity{}, false
	}
	return *s.id, true
}

func (s *stubIdentity) set(id *models.Identity) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

type env struct {
	db       *localdb.DB
	bus      *events.Bus
	identity *stubIdentity
	svc      *userdata.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := localdb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.New()
	rec, err := userdata.StartRecorder(bus, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })

	user := models.NewLocalIdentity("a@x.com", "Alice", "")
	ident := &stubIdentity{id: &user}
	return &env{db: db, bus: bus, identity: ident, svc: userdata.NewService(db, ident, bus, nil)}
}

func TestRequiresIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.identity.set(nil)

	_, err := e.svc.ListReports(ctx)
	assert.ErrorIs(t, err, userdata.ErrNotAuthenticated)
	_, err = e.svc.CreateDashboard(ctx, userdata.NewDashboard{Title: "x", VisualType: "bar"})
	assert.ErrorIs(t, err, userdata.ErrNotAuthenticated)
	_, err = e.svc.ListActivity(ctx)
	assert.ErrorIs(t, err, userdata.ErrNotAuthenticated)
	assert.ErrorIs(t, e.svc.RecordAIUse("q"), userdata.ErrNotAuthenticated)
}

func TestCreateReport_RecordsActivity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	rep, err := e.svc.CreateReport(ctx, userdata.NewReport{
		Title:      " Q1 review ",
		Type:       models.ReportFinancial,
		Period:     models.PeriodQuarterly,
		Indicators: []string{"revenue", "margin"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Q1 review", rep.Title)

	reports, err := e.svc.ListReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"revenue", "margin"}, reports[0].Indicators)

	e.bus.WaitAsync()
	acts, err := e.svc.ListActivity(ctx)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionReportCreated, acts[0].Action)
	assert.Equal(t, "Q1 review", acts[0].Details)
}

func TestCreateReport_Validation(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.CreateReport(context.Background(), userdata.NewReport{Title: "", Type: "weird", Period: models.PeriodDaily})
	var verr *userdata.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Fields["title"])
	assert.Contains(t, verr.Fields["type"], "oneof")
	assert.NotContains(t, verr.Fields, "period")

	reports, err := e.svc.ListReports(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestCreateDashboard(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.CreateDashboard(ctx, userdata.NewDashboard{
		Title:      "Ops",
		VisualType: "cards",
		Widgets: []models.Widget{
			{ID: "w1", Title: "Uptime", Type: "stat", Size: "sm"},
			{ID: "w2", Title: "", Type: "gauge", Size: "xl"},
		},
	})
	var verr *userdata.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "widgets[1].type")
	assert.Contains(t, verr.Fields, "widgets[1].size")
	assert.Contains(t, verr.Fields, "widgets[1].title")

	_, err = e.svc.CreateDashboard(ctx, userdata.NewDashboard{Title: "Ops", VisualType: "radar"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "visualType")

	d, err := e.svc.CreateDashboard(ctx, userdata.NewDashboard{
		Title:      "Ops",
		VisualType: "cards",
		Widgets:    []models.Widget{{ID: "w1", Title: "Uptime", Type: "stat", Size: "sm"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)

	dashes, err := e.svc.ListDashboards(ctx)
	require.NoError(t, err)
	require.Len(t, dashes, 1)
	assert.Equal(t, "Uptime", dashes[0].Widgets[0].Title)
}

func TestActivityIsPerUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	other := models.NewLocalIdentity("b@x.com", "Bob", "")
	e.bus.PublishActivity(events.ActivityEvent{UserID: other.ID, Action: models.ActionLogin})
	require.NoError(t, e.svc.RecordAIUse("forecast"))
	e.bus.PublishActivity(events.ActivityEvent{Action: models.ActionLogin}) // no user, dropped
	e.bus.WaitAsync()

	acts, err := e.svc.ListActivity(ctx)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionAIUsed, acts[0].Action)
}

func TestListUserActivity_AdministratorsOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	other := models.NewLocalIdentity("b@x.com", "Bob", "")
	e.bus.PublishActivity(events.ActivityEvent{UserID: other.ID, Action: models.ActionLogin})
	e.bus.WaitAsync()

	_, err := e.svc.ListUserActivity(ctx, other.ID)
	assert.ErrorIs(t, err, userdata.ErrForbidden)

	admin := models.NewLocalIdentity("root@x.com", "Root", "")
	admin.Role = models.RoleAdministrator
	e.identity.set(&admin)
	acts, err := e.svc.ListUserActivity(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, other.ID, acts[0].UserID)

	e.identity.set(nil)
	_, err = e.svc.ListUserActivity(ctx, other.ID)
	assert.ErrorIs(t, err, userdata.ErrNotAuthenticated)
}
