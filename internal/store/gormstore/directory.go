package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetParty resolves a marketplace participant by id.
func (store *Store) GetParty(ctx context.Context, id settlement.UserID) (settlement.Party, error) {
	return store.findParty(ctx, "user_id = ?", id.String())
}

// FindPartyByEmail resolves a participant by their normalised email address.
func (store *Store) FindPartyByEmail(ctx context.Context, email string) (settlement.Party, error) {
	return store.findParty(ctx, "email = ?", normalizeEmail(email))
}

func (store *Store) findParty(ctx context.Context, condition string, value string) (settlement.Party, error) {
	var row DirectoryParty
	err := store.db.WithContext(ctx).Where(condition, value).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrPartyNotFound, value))
		}
		return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeGet, err)
	}
	userID, err := settlement.NewUserID(row.UserID)
	if err != nil {
		return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeInvalid, err)
	}
	role, err := settlement.ParseRole(row.Role)
	if err != nil {
		return settlement.Party{}, wrapStoreError(errorSubjectParty, errorCodeInvalid, err)
	}
	return settlement.Party{ID: userID, Role: role, Email: row.Email}, nil
}

// GetJob resolves the assigned provider of a booked job.
func (store *Store) GetJob(ctx context.Context, id settlement.JobID) (settlement.Job, error) {
	var row DirectoryJob
	err := store.db.WithContext(ctx).Where("job_id = ?", id.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return settlement.Job{}, wrapStoreError(errorSubjectJob, errorCodeGet, fmt.Errorf("%w: %s", settlement.ErrJobNotFound, id))
		}
		return settlement.Job{}, wrapStoreError(errorSubjectJob, errorCodeGet, err)
	}
	provider, err := settlement.NewUserID(row.AssignedProviderID)
	if err != nil {
		return settlement.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	return settlement.Job{ID: id, AssignedProvider: provider}, nil
}

// UpsertParty records or refreshes a directory participant.
func (store *Store) UpsertParty(ctx context.Context, party settlement.Party) error {
	if party.ID.IsZero() {
		return wrapStoreError(errorSubjectParty, errorCodeUpsert, settlement.ErrInvalidUserID)
	}
	row := DirectoryParty{
		UserID:    party.ID.String(),
		Role:      party.Role.String(),
		Email:     normalizeEmail(party.Email),
		UpdatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "email", "updated_at"}),
		}).
		Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectParty, errorCodeDuplicate, settlement.ErrDuplicateOperation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectParty, errorCodeUpsert, err)
	}
	return nil
}

// UpsertJob records or refreshes the assigned provider of a job.
func (store *Store) UpsertJob(ctx context.Context, job settlement.Job) error {
	row := DirectoryJob{
		JobID:              job.ID.String(),
		AssignedProviderID: job.AssignedProvider.String(),
		UpdatedAt:          time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"assigned_provider_id", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectJob, errorCodeUpsert, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
