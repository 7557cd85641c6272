package localdb

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"optiquantia/internal/models"
)

func toProfile(r profileRow) models.Profile {
	return models.Profile{
		ID:           r.ID,
		Email:        r.Email,
		DisplayName:  r.Name,
		Organization: r.Company,
		Role:         models.Role(r.Role),
		Tier:         models.Tier(r.Plan),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func fromProfile(p models.Profile) profileRow {
	role, plan := p.Role, p.Tier
	if !role.Valid() {
		role = models.RoleStandard
	}
	if !plan.Valid() {
		plan = models.TierFree
	}
	return profileRow{
		ID:      p.ID,
		Email:   p.Email,
		Name:    p.DisplayName,
		Company: p.Organization,
		Role:    string(role),
		Plan:    string(plan),
	}
}

func (d *DB) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var row profileRow
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return models.Profile{}, notFound(err)
	}
	return toProfile(row), nil
}

func (d *DB) InsertProfile(ctx context.Context, p models.Profile) error {
	row := fromProfile(p)
	err := d.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// UpsertProfile writes every column of p, creating the row if needed.
func (d *DB) UpsertProfile(ctx context.Context, p models.Profile) error {
	row := fromProfile(p)
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "company", "role", "plan", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpdateProfile writes the non-nil fields only.
func (d *DB) UpdateProfile(ctx context.Context, id string, f models.ProfileFields) error {
	updates := map[string]any{}
	if f.DisplayName != nil {
		updates["name"] = *f.DisplayName
	}
	if f.Organization != nil {
		updates["company"] = *f.Organization
	}
	if len(updates) == 0 {
		return nil
	}
	res := d.db.WithContext(ctx).Model(&profileRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
