// Package readpath chooses between the live backend and the local store for
// every read. Online reads hit the server and refresh the local snapshot; any
// fetch failure, even while nominally online, degrades to the cached snapshot
// so the UI can keep rendering with a staleness indicator.
package readpath

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"tillpoint-offline-sync/internal/api"
	"tillpoint-offline-sync/internal/cache"
	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/model"
	"tillpoint-offline-sync/internal/store"
)

// ErrNotCached is the hard failure for an offline read of a collection that
// was never fetched: callers must be able to tell "no data because truly
// empty" from "no data because never cached".
var ErrNotCached = errors.New("readpath: collection never cached")

// Data sources reported to the caller.
const (
	SourceServer = "server"
	SourceCache  = "cache"
)

// Meta annotates every read result so the UI can indicate degraded data.
type Meta struct {
	Source   string `json:"source"`
	Degraded bool   `json:"degraded"`
}

// Selector routes reads between the backend and the persistent store.
type Selector struct {
	store   *store.Store
	client  *api.Client
	monitor *connectivity.Monitor
	hot     cache.Cache
	ttl     time.Duration
}

// New creates a selector. hot may be nil; it only short-circuits repeated
// dashboard fetches.
func New(st *store.Store, client *api.Client, monitor *connectivity.Monitor, hot cache.Cache, ttl time.Duration) *Selector {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Selector{store: st, client: client, monitor: monitor, hot: hot, ttl: ttl}
}

// Orders returns the order list, live when possible. A successful server
// fetch refreshes the local snapshot without touching un-synced offline
// orders.
func (s *Selector) Orders(ctx context.Context) ([]model.Order, Meta, error) {
	if s.monitor.Online() {
		orders, err := s.client.ListOrders(ctx)
		if err == nil {
			if err := s.store.ReplaceOrders(ctx, orders); err != nil {
				log.Printf("[ReadPath] Order snapshot refresh failed: %v", err)
			} else {
				s.markFetched(ctx, "orders")
			}
			// The caller still sees locally created orders awaiting sync.
			merged, err := s.store.ListOrders(ctx)
			if err == nil {
				return merged, Meta{Source: SourceServer}, nil
			}
			return orders, Meta{Source: SourceServer}, nil
		}
		log.Printf("[ReadPath] Order fetch failed, degrading to cache: %v", err)
		return s.cachedOrders(ctx, true)
	}
	return s.cachedOrders(ctx, false)
}

func (s *Selector) cachedOrders(ctx context.Context, degraded bool) ([]model.Order, Meta, error) {
	meta := Meta{Source: SourceCache, Degraded: degraded}
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, meta, err
	}
	if len(orders) == 0 {
		if err := s.requireFetched(ctx, "orders"); err != nil {
			return nil, meta, err
		}
	}
	return orders, meta, nil
}

// MenuItems returns the menu, live when possible.
func (s *Selector) MenuItems(ctx context.Context) ([]model.MenuItem, Meta, error) {
	if s.monitor.Online() {
		items, err := s.client.ListMenuItems(ctx)
		if err == nil {
			if err := s.store.ReplaceMenuItems(ctx, items); err != nil {
				log.Printf("[ReadPath] Menu snapshot refresh failed: %v", err)
			} else {
				s.markFetched(ctx, "menu_items")
			}
			return items, Meta{Source: SourceServer}, nil
		}
		log.Printf("[ReadPath] Menu fetch failed, degrading to cache: %v", err)
		return s.cachedMenuItems(ctx, true)
	}
	return s.cachedMenuItems(ctx, false)
}

func (s *Selector) cachedMenuItems(ctx context.Context, degraded bool) ([]model.MenuItem, Meta, error) {
	meta := Meta{Source: SourceCache, Degraded: degraded}
	items, err := s.store.ListMenuItems(ctx)
	if err != nil {
		return nil, meta, err
	}
	if len(items) == 0 {
		if err := s.requireFetched(ctx, "menu_items"); err != nil {
			return nil, meta, err
		}
	}
	return items, meta, nil
}

// Tables returns the dining table list, live when possible.
func (s *Selector) Tables(ctx context.Context) ([]model.Table, Meta, error) {
	if s.monitor.Online() {
		tables, err := s.client.ListTables(ctx)
		if err == nil {
			if err := s.store.ReplaceTables(ctx, tables); err != nil {
				log.Printf("[ReadPath] Table snapshot refresh failed: %v", err)
			} else {
				s.markFetched(ctx, "dining_tables")
			}
			return tables, Meta{Source: SourceServer}, nil
		}
		log.Printf("[ReadPath] Table fetch failed, degrading to cache: %v", err)
		return s.cachedTables(ctx, true)
	}
	return s.cachedTables(ctx, false)
}

func (s *Selector) cachedTables(ctx context.Context, degraded bool) ([]model.Table, Meta, error) {
	meta := Meta{Source: SourceCache, Degraded: degraded}
	tables, err := s.store.ListTables(ctx)
	if err != nil {
		return nil, meta, err
	}
	if len(tables) == 0 {
		if err := s.requireFetched(ctx, "dining_tables"); err != nil {
			return nil, meta, err
		}
	}
	return tables, meta, nil
}

// Staff returns the users/waiters list, live when possible.
func (s *Selector) Staff(ctx context.Context) ([]model.Staff, Meta, error) {
	if s.monitor.Online() {
		staff, err := s.client.ListStaff(ctx)
		if err == nil {
			if err := s.store.ReplaceStaff(ctx, staff); err != nil {
				log.Printf("[ReadPath] Staff snapshot refresh failed: %v", err)
			} else {
				s.markFetched(ctx, "staff")
			}
			return staff, Meta{Source: SourceServer}, nil
		}
		log.Printf("[ReadPath] Staff fetch failed, degrading to cache: %v", err)
		return s.cachedStaff(ctx, true)
	}
	return s.cachedStaff(ctx, false)
}

func (s *Selector) cachedStaff(ctx context.Context, degraded bool) ([]model.Staff, Meta, error) {
	meta := Meta{Source: SourceCache, Degraded: degraded}
	staff, err := s.store.ListStaff(ctx)
	if err != nil {
		return nil, meta, err
	}
	if len(staff) == 0 {
		if err := s.requireFetched(ctx, "staff"); err != nil {
			return nil, meta, err
		}
	}
	return staff, meta, nil
}

// DashboardStats returns one dashboard section (e.g. "stats",
// "sales/daily"). Fresh server payloads land in both the hot cache and the
// reports collection; the store copy is what survives a restart.
func (s *Selector) DashboardStats(ctx context.Context, section string) (json.RawMessage, Meta, error) {
	reportID := "dashboard:" + section

	if s.monitor.Online() {
		if s.hot != nil {
			if body, err := s.hot.Get(ctx, reportID); err == nil {
				return body, Meta{Source: SourceCache}, nil
			}
		}

		body, err := s.client.DashboardStats(ctx, section)
		if err == nil {
			now := time.Now().UTC()
			payload := api.UnwrapData(body)
			report := &model.Report{
				ID:        reportID,
				Type:      section,
				Date:      now.Format("2006-01-02"),
				Payload:   payload,
				FetchedAt: now,
			}
			if err := s.store.PutReport(ctx, report); err != nil {
				log.Printf("[ReadPath] Report snapshot write failed: %v", err)
			}
			if s.hot != nil {
				_ = s.hot.Set(ctx, reportID, payload, s.ttl)
			}
			return payload, Meta{Source: SourceServer}, nil
		}
		log.Printf("[ReadPath] Dashboard fetch failed, degrading to cache: %v", err)
		return s.cachedDashboard(ctx, reportID, true)
	}
	return s.cachedDashboard(ctx, reportID, false)
}

func (s *Selector) cachedDashboard(ctx context.Context, reportID string, degraded bool) (json.RawMessage, Meta, error) {
	meta := Meta{Source: SourceCache, Degraded: degraded}
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, meta, err
	}
	if report == nil {
		return nil, meta, ErrNotCached
	}
	return report.Payload, meta, nil
}

func (s *Selector) markFetched(ctx context.Context, collection string) {
	if err := s.store.MarkFetched(ctx, collection, time.Now().UTC()); err != nil {
		log.Printf("[ReadPath] Fetch log write failed: %v", err)
	}
}

func (s *Selector) requireFetched(ctx context.Context, collection string) error {
	fetched, err := s.store.LastFetched(ctx, collection)
	if err != nil {
		return err
	}
	if fetched == nil {
		return ErrNotCached
	}
	return nil
}
