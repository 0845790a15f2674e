package repository

import (
	"context"
	"strings"

	"outpost/internal/models"

	"gorm.io/gorm"
)

// SiteRepository defines the interface for tenant sites
type SiteRepository interface {
	GetByHost(ctx context.Context, host string) (*models.Site, error)
	GetByID(ctx context.Context, id uint) (*models.Site, error)
	Create(ctx context.Context, site *models.Site) error
}

type siteRepository struct {
	db *gorm.DB
}

// NewSiteRepository creates a new site repository
func NewSiteRepository(db *gorm.DB) SiteRepository {
	return &siteRepository{db: db}
}

func (r *siteRepository) GetByHost(ctx context.Context, host string) (*models.Site, error) {
	host = strings.ToLower(host)
	var site models.Site
	if err := r.db.WithContext(ctx).Where("host = ?", host).First(&site).Error; err != nil {
		return nil, mapError(err, "Site", host)
	}
	return &site, nil
}

func (r *siteRepository) GetByID(ctx context.Context, id uint) (*models.Site, error) {
	var site models.Site
	if err := r.db.WithContext(ctx).First(&site, id).Error; err != nil {
		return nil, mapError(err, "Site", id)
	}
	return &site, nil
}

func (r *siteRepository) Create(ctx context.Context, site *models.Site) error {
	site.Host = strings.ToLower(site.Host)
	return mapError(r.db.WithContext(ctx).Create(site).Error, "Site", site.Host)
}
