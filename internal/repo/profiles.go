package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"optiquantia/internal/models"
)

// ---------------- Profiles ----------------

const selectProfile = `SELECT id, email, name, company, role, plan, created_at, updated_at FROM profiles WHERE id = $1`

func (r *Repo) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	r.log.Debug("GetProfile", zap.String("user_id", id))
	var (
		p       models.Profile
		company pgtype.Text
		role    string
		plan    string
	)
	err := r.db.QueryRow(ctx, selectProfile, id).Scan(
		&p.ID, &p.Email, &p.DisplayName, &company, &role, &plan, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return models.Profile{}, mapErr(err)
	}
	p.Organization = fromText(company)
	p.Role = models.Role(role)
	p.Tier = models.Tier(plan)
	return p, nil
}

const insertProfile = `INSERT INTO profiles (id, email, name, company, role, plan, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

// InsertProfile creates the row for a new account. Role and plan default to
// standard/free when unset.
func (r *Repo) InsertProfile(ctx context.Context, p models.Profile) error {
	r.log.Debug("InsertProfile", zap.String("user_id", p.ID))
	role, plan := p.Role, p.Tier
	if !role.Valid() {
		role = models.RoleStandard
	}
	if !plan.Valid() {
		plan = models.TierFree
	}
	_, err := r.db.Exec(ctx, insertProfile,
		p.ID, p.Email, p.DisplayName, toText(p.Organization), string(role), string(plan), time.Now().UTC(),
	)
	if err != nil {
		r.log.Error("InsertProfile failed", zap.String("user_id", p.ID), zap.Error(err))
		return mapErr(err)
	}
	return nil
}

const updateProfile = `UPDATE profiles
SET name = COALESCE($2, name),
    company = COALESCE($3, company),
    updated_at = now()
WHERE id = $1`

// UpdateProfile writes only the client-writable columns; role and plan are
// never touched here.
func (r *Repo) UpdateProfile(ctx context.Context, id string, f models.ProfileFields) error {
	r.log.Debug("UpdateProfile", zap.String("user_id", id))
	tag, err := r.db.Exec(ctx, updateProfile, id, ptrText(f.DisplayName), ptrText(f.Organization))
	if err != nil {
		r.log.Error("UpdateProfile failed", zap.String("user_id", id), zap.Error(err))
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
