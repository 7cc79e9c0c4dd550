package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nikhi3632/Stroomweg/internal/datex"
)

const upsertSiteSQL = `INSERT INTO sites (site_id, name, road, lanes, equipment, direction, lat, lon, index_mapping, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (site_id) DO UPDATE
SET name = EXCLUDED.name,
    road = EXCLUDED.road,
    lanes = EXCLUDED.lanes,
    equipment = EXCLUDED.equipment,
    direction = EXCLUDED.direction,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    index_mapping = EXCLUDED.index_mapping,
    updated_at = NOW()`

// UpsertSites refreshes the site reference table.
func (s *Store) UpsertSites(ctx context.Context, sites []datex.Site) error {
	if len(sites) == 0 {
		return nil
	}
	for _, r := range chunk(len(sites), s.batchSize) {
		batch := &pgx.Batch{}
		for _, site := range sites[r[0]:r[1]] {
			mapping, err := json.Marshal(site.IndexMapping)
			if err != nil {
				return fmt.Errorf("marshal index mapping for %s: %w", site.SiteID, err)
			}
			batch.Queue(upsertSiteSQL,
				site.SiteID, site.Name, site.Road, site.Lanes,
				site.Equipment, site.Direction, site.Lat, site.Lon, mapping)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("upsert sites: %w", err)
		}
	}
	return nil
}

// LoadSites reads the full reference table, including the per-lane
// measured value index mappings the speed decoder needs.
func (s *Store) LoadSites(ctx context.Context) ([]datex.Site, error) {
	rows, err := s.pool.Query(ctx, `
SELECT site_id, name, road, lanes, equipment, direction, lat, lon, index_mapping
FROM sites`)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	defer rows.Close()

	var out []datex.Site
	for rows.Next() {
		var site datex.Site
		var mapping []byte
		if err := rows.Scan(&site.SiteID, &site.Name, &site.Road, &site.Lanes,
			&site.Equipment, &site.Direction, &site.Lat, &site.Lon, &mapping); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		if len(mapping) > 0 {
			if err := json.Unmarshal(mapping, &site.IndexMapping); err != nil {
				return nil, fmt.Errorf("index mapping for %s: %w", site.SiteID, err)
			}
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// sendBatch executes a batch and drains every result.
func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
