package localdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"optiquantia/internal/models"
)

// ---------------- reports ----------------

func (d *DB) ListReports(ctx context.Context, userID string) ([]models.Report, error) {
	var rows []reportRow
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	out := make([]models.Report, 0, len(rows))
	for _, r := range rows {
		indicators := []string{}
		if len(r.Indicators) > 0 {
			if err := json.Unmarshal(r.Indicators, &indicators); err != nil {
				return nil, fmt.Errorf("decode indicators of report %s: %w", r.ID, err)
			}
		}
		out = append(out, models.Report{
			ID:          r.ID,
			UserID:      r.UserID,
			Title:       r.Title,
			Description: r.Description,
			Type:        models.ReportType(r.Type),
			Period:      models.ReportPeriod(r.Period),
			Indicators:  indicators,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.Modified,
		})
	}
	return out, nil
}

func (d *DB) CreateReport(ctx context.Context, rep models.Report) (models.Report, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.Indicators == nil {
		rep.Indicators = []string{}
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	indicators, err := json.Marshal(rep.Indicators)
	if err != nil {
		return models.Report{}, err
	}
	row := reportRow{
		ID:          rep.ID,
		UserID:      rep.UserID,
		Title:       rep.Title,
		Description: rep.Description,
		Type:        string(rep.Type),
		Period:      string(rep.Period),
		Indicators:  datatypes.JSON(indicators),
		CreatedAt:   rep.CreatedAt,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Report{}, fmt.Errorf("create report: %w", err)
	}
	return rep, nil
}

// ---------------- dashboards ----------------

func (d *DB) ListDashboards(ctx context.Context, userID string) ([]models.Dashboard, error) {
	var rows []dashboardRow
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	out := make([]models.Dashboard, 0, len(rows))
	for _, r := range rows {
		widgets := []models.Widget{}
		if len(r.Widgets) > 0 {
			if err := json.Unmarshal(r.Widgets, &widgets); err != nil {
				return nil, fmt.Errorf("decode widgets of dashboard %s: %w", r.ID, err)
			}
		}
		out = append(out, models.Dashboard{
			ID:          r.ID,
			UserID:      r.UserID,
			Title:       r.Title,
			Description: r.Description,
			VisualType:  r.VisualType,
			Widgets:     widgets,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.Modified,
		})
	}
	return out, nil
}

func (d *DB) CreateDashboard(ctx context.Context, dash models.Dashboard) (models.Dashboard, error) {
	if dash.ID == "" {
		dash.ID = uuid.NewString()
	}
	if dash.Widgets == nil {
		dash.Widgets = []models.Widget{}
	}
	if dash.CreatedAt.IsZero() {
		dash.CreatedAt = time.Now().UTC()
	}
	widgets, err := json.Marshal(dash.Widgets)
	if err != nil {
		return models.Dashboard{}, err
	}
	row := dashboardRow{
		ID:          dash.ID,
		UserID:      dash.UserID,
		Title:       dash.Title,
		Description: dash.Description,
		VisualType:  dash.VisualType,
		Widgets:     datatypes.JSON(widgets),
		CreatedAt:   dash.CreatedAt,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Dashboard{}, fmt.Errorf("create dashboard: %w", err)
	}
	return dash, nil
}

// ---------------- activity ----------------

func (d *DB) ListActivity(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = models.ActivityLimit
	}
	var rows []activityRow
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	out := make([]models.Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Activity{
			ID:        r.ID,
			UserID:    r.UserID,
			Action:    models.ActivityAction(r.Action),
			Details:   r.Details,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (d *DB) LogActivity(ctx context.Context, a models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	row := activityRow{ID: a.ID, UserID: a.UserID, Action: string(a.Action), Details: a.Details, CreatedAt: a.CreatedAt}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}
