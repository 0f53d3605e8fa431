package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ProxyStorage implements the ProxyStorage interface for Badger
type ProxyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProxyStorage creates a new ProxyStorage instance
func NewProxyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProxyStorage {
	return &ProxyStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProxyStorage) SaveProxy(ctx context.Context, proxy *models.Proxy) error {
	if proxy == nil || proxy.ID == "" {
		return fmt.Errorf("proxy ID is required")
	}
	if err := s.db.Store().Upsert(proxy.ID, *proxy); err != nil {
		return fmt.Errorf("failed to save proxy: %w", err)
	}
	return nil
}

func (s *ProxyStorage) GetProxy(ctx context.Context, id string) (*models.Proxy, error) {
	var proxy models.Proxy
	if err := s.db.Store().Get(id, &proxy); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Kind: "proxy", ID: id}
		}
		return nil, fmt.Errorf("failed to get proxy: %w", err)
	}
	return &proxy, nil
}

func (s *ProxyStorage) ListProxies(ctx context.Context) ([]*models.Proxy, error) {
	var proxies []models.Proxy
	if err := s.db.Store().Find(&proxies, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}

	result := make([]*models.Proxy, len(proxies))
	for i := range proxies {
		result[i] = &proxies[i]
	}
	return result, nil
}

func (s *ProxyStorage) DeleteProxy(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Proxy{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &models.NotFoundError{Kind: "proxy", ID: id}
		}
		return fmt.Errorf("failed to delete proxy: %w", err)
	}
	return nil
}
