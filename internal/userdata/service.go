// Package userdata serves the signed-in user's reports, dashboards and
// activity history from whichever store matches the provider mode.
package userdata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"optiquantia/internal/events"
	"optiquantia/internal/models"
)

var (
	ErrNotAuthenticated = errors.New("userdata: not authenticated")
	ErrForbidden        = errors.New("userdata: administrator role required")
)

// ValidationError reports rejected input. Field names match the JSON payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

// Store is implemented by repo.Repo (remote mode) and localdb.DB (simulated mode).
type Store interface {
	ListReports(ctx context.Context, userID string) ([]models.Report, error)
	CreateReport(ctx context.Context, rep models.Report) (models.Report, error)
	ListDashboards(ctx context.Context, userID string) ([]models.Dashboard, error)
	CreateDashboard(ctx context.Context, d models.Dashboard) (models.Dashboard, error)
	ListActivity(ctx context.Context, userID string, limit int) ([]models.Activity, error)
	LogActivity(ctx context.Context, a models.Activity) error
}

// IdentitySource yields the current identity; *auth.Resolver satisfies it.
type IdentitySource interface {
	Identity() (models.Identity, bool)
}

type NewReport struct {
	Title       string              `json:"title" validate:"required,max=200"`
	Description string              `json:"description" validate:"max=2000"`
	Type        models.ReportType   `json:"type" validate:"required,oneof=performance financial operational commercial executive"`
	Period      models.ReportPeriod `json:"period" validate:"required,oneof=daily weekly monthly quarterly annual"`
	Indicators  []string            `json:"indicators" validate:"dive,required"`
}

type NewDashboard struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	VisualType  string          `json:"visualType" validate:"required,oneof=table bar line pie cards"`
	Widgets     []models.Widget `json:"widgets" validate:"dive"`
}

type Service struct {
	store    Store
	identity IdentitySource
	bus      *events.Bus
	log      *zap.Logger
	validate *validator.Validate
}

func NewService(store Store, identity IdentitySource, bus *events.Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(widgetValidation, models.Widget{})
	return &Service{
		store:    store,
		identity: identity,
		bus:      bus,
		log:      log.With(zap.String("component", "userdata")),
		validate: v,
	}
}

var (
	widgetTypes = map[string]bool{"chart": true, "stat": true, "table": true}
	widgetSizes = map[string]bool{"sm": true, "md": true, "lg": true}
)

func widgetValidation(sl validator.StructLevel) {
	w := sl.Current().Interface().(models.Widget)
	if strings.TrimSpace(w.Title) == "" {
		sl.ReportError(w.Title, "title", "Title", "required", "")
	}
	if !widgetTypes[w.Type] {
		sl.ReportError(w.Type, "type", "Type", "oneof", "chart stat table")
	}
	if !widgetSizes[w.Size] {
		sl.ReportError(w.Size, "size", "Size", "oneof", "sm md lg")
	}
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out.Fields[jsonPath(fe.Namespace())] = msg
	}
	return out
}

// jsonPath drops the struct name: "NewDashboard.widgets[0].type" -> "widgets[0].type".
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func (s *Service) current() (models.Identity, error) {
	id, ok := s.identity.Identity()
	if !ok {
		return models.Identity{}, ErrNotAuthenticated
	}
	return id, nil
}

// ---------------- reports ----------------

func (s *Service) ListReports(ctx context.Context) ([]models.Report, error) {
	id, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.store.ListReports(ctx, id.ID)
}

func (s *Service) CreateReport(ctx context.Context, in NewReport) (models.Report, error) {
	id, err := s.current()
	if err != nil {
		return models.Report{}, err
	}
	if err := s.check(in); err != nil {
		return models.Report{}, err
	}
	rep, err := s.store.CreateReport(ctx, models.Report{
		UserID:      id.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Type:        in.Type,
		Period:      in.Period,
		Indicators:  in.Indicators,
	})
	if err != nil {
		return models.Report{}, fmt.Errorf("create report: %w", err)
	}
	s.bus.PublishActivity(events.ActivityEvent{UserID: id.ID, Action: models.ActionReportCreated, Details: rep.Title})
	return rep, nil
}

// ---------------- dashboards ----------------

func (s *Service) ListDashboards(ctx context.Context) ([]models.Dashboard, error) {
	id, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.store.ListDashboards(ctx, id.ID)
}

func (s *Service) CreateDashboard(ctx context.Context, in NewDashboard) (models.Dashboard, error) {
	id, err := s.current()
	if err != nil {
		return models.Dashboard{}, err
	}
	if err := s.check(in); err != nil {
		return models.Dashboard{}, err
	}
	d, err := s.store.CreateDashboard(ctx, models.Dashboard{
		UserID:      id.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		VisualType:  in.VisualType,
		Widgets:     in.Widgets,
	})
	if err != nil {
		return models.Dashboard{}, fmt.Errorf("create dashboard: %w", err)
	}
	s.bus.PublishActivity(events.ActivityEvent{UserID: id.ID, Action: models.ActionDashboardCreated, Details: d.Title})
	return d, nil
}

// ---------------- activity ----------------

func (s *Service) ListActivity(ctx context.Context) ([]models.Activity, error) {
	id, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, id.ID, models.ActivityLimit)
}

// ListUserActivity returns another user's recent activity. Administrators only.
func (s *Service) ListUserActivity(ctx context.Context, userID string) ([]models.Activity, error) {
	id, err := s.current()
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.store.ListActivity(ctx, userID, models.ActivityLimit)
}

// RecordAIUse logs that the user ran an assistant query.
func (s *Service) RecordAIUse(details string) error {
	id, err := s.current()
	if err != nil {
		return err
	}
	s.bus.PublishActivity(events.ActivityEvent{UserID: id.ID, Action: models.ActionAIUsed, Details: details})
	return nil
}
