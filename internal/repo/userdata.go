package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"optiquantia/internal/models"
)

// ---------------- Reports ----------------

const listReports = `SELECT id, user_id, title, description, type, period, indicators, created_at, updated_at
FROM reports WHERE user_id = $1 ORDER BY created_at DESC`

func (r *Repo) ListReports(ctx context.Context, userID string) ([]models.Report, error) {
	r.log.Debug("ListReports", zap.String("user_id", userID))
	rows, err := r.db.Query(ctx, listReports, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Report{}
	for rows.Next() {
		var (
			rep         models.Report
			description pgtype.Text
			typ, period string
			updated     pgtype.Timestamptz
		)
		if err := rows.Scan(&rep.ID, &rep.UserID, &rep.Title, &description, &typ, &period, &rep.Indicators, &rep.CreatedAt, &updated); err != nil {
			return nil, err
		}
		rep.Description = fromText(description)
		rep.Type = models.ReportType(typ)
		rep.Period = models.ReportPeriod(period)
		rep.UpdatedAt = fromTimestamptz(updated)
		if rep.Indicators == nil {
			rep.Indicators = []string{}
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.log.Debug("ListReports ok", zap.Int("count", len(out)))
	return out, nil
}

const insertReport = `INSERT INTO reports (id, user_id, title, description, type, period, indicators, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *Repo) CreateReport(ctx context.Context, rep models.Report) (models.Report, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.Indicators == nil {
		rep.Indicators = []string{}
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	r.log.Debug("CreateReport", zap.String("user_id", rep.UserID), zap.String("report_id", rep.ID))
	_, err := r.db.Exec(ctx, insertReport,
		rep.ID, rep.UserID, rep.Title, toText(rep.Description), string(rep.Type), string(rep.Period), rep.Indicators, rep.CreatedAt,
	)
	if err != nil {
		r.log.Error("CreateReport failed", zap.Error(err))
		return models.Report{}, mapErr(err)
	}
	return rep, nil
}

// ---------------- Dashboards ----------------

const listDashboards = `SELECT id, user_id, title, description, visual_type, widgets, created_at, updated_at
FROM dashboards WHERE user_id = $1 ORDER BY created_at DESC`

func (r *Repo) ListDashboards(ctx context.Context, userID string) ([]models.Dashboard, error) {
	r.log.Debug("ListDashboards", zap.String("user_id", userID))
	rows, err := r.db.Query(ctx, listDashboards, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Dashboard{}
	for rows.Next() {
		var (
			d           models.Dashboard
			description pgtype.Text
			widgets     []byte
			updated     pgtype.Timestamptz
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &description, &d.VisualType, &widgets, &d.CreatedAt, &updated); err != nil {
			return nil, err
		}
		d.Description = fromText(description)
		d.UpdatedAt = fromTimestamptz(updated)
		d.Widgets = []models.Widget{}
		if len(widgets) > 0 {
			if err := json.Unmarshal(widgets, &d.Widgets); err != nil {
				return nil, fmt.Errorf("decode widgets of dashboard %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const insertDashboard = `INSERT INTO dashboards (id, user_id, title, description, visual_type, widgets, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *Repo) CreateDashboard(ctx context.Context, d models.Dashboard) (models.Dashboard, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Widgets == nil {
		d.Widgets = []models.Widget{}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	widgets, err := json.Marshal(d.Widgets)
	if err != nil {
		return models.Dashboard{}, err
	}
	r.log.Debug("CreateDashboard", zap.String("user_id", d.UserID), zap.String("dashboard_id", d.ID))
	_, err = r.db.Exec(ctx, insertDashboard,
		d.ID, d.UserID, d.Title, toText(d.Description), d.VisualType, widgets, d.CreatedAt,
	)
	if err != nil {
		r.log.Error("CreateDashboard failed", zap.Error(err))
		return models.Dashboard{}, mapErr(err)
	}
	return d, nil
}

// ---------------- Activity ----------------

const listActivity = `SELECT id, user_id, action, details, created_at
FROM user_activities WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

func (r *Repo) ListActivity(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = models.ActivityLimit
	}
	rows, err := r.db.Query(ctx, listActivity, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Activity{}
	for rows.Next() {
		var (
			a       models.Activity
			action  string
			details pgtype.Text
		)
		if err := rows.Scan(&a.ID, &a.UserID, &action, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Action = models.ActivityAction(action)
		a.Details = fromText(details)
		out = append(out, a)
	}
	return out, rows.Err()
}

const insertActivity = `INSERT INTO user_activities (id, user_id, action, details, created_at) VALUES ($1, $2, $3, $4, $5)`

func (r *Repo) LogActivity(ctx context.Context, a models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, insertActivity, a.ID, a.UserID, string(a.Action), toText(a.Details), a.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	return nil
}
