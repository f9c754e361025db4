package store

import (
	"context"
	"encoding/binary"
	"fmt"

	"hesxrd/pkg/projection"
)

// ProjectionRecord is an archived projection. Grid holds the bins
// H-major: bin (h, k) is Grid[h*KBins+k].
type ProjectionRecord struct {
	ID         int64
	L          float64
	Resolution int
	HBins      int
	KBins      int
	Mean       float64
	Grid       []int32
}

// At returns bin (h, k).
func (p ProjectionRecord) At(h, k int) int32 { return p.Grid[h*p.KBins+k] }

func encodeGrid(p *projection.Projection) []byte {
	hBins, kBins := p.Dims()
	buf := make([]byte, 0, 4*hBins*kBins)
	for h := 0; h < hBins; h++ {
		for k := 0; k < kBins; k++ {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(p.At(h, k)))
		}
	}
	return buf
}

func decodeGrid(b []byte, n int) ([]int32, error) {
	if len(b) != 4*n {
		return nil, fmt.Errorf("grid has %d bytes, want %d", len(b), 4*n)
	}
	grid := make([]int32, n)
	for i := range grid {
		grid[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return grid, nil
}

// SaveProjection stores p under run and returns the record id.
func (s *Store) SaveProjection(ctx context.Context, run int64, p *projection.Projection) (int64, error) {
	hBins, kBins := p.Dims()
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO projections(run_id, l, resolution, h_bins, k_bins, mean, grid)
			VALUES(?,?,?,?,?,?,?) RETURNING id`),
		run, p.L(), p.Resolution(), hBins, kBins, p.Mean(), encodeGrid(p),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert projection at L %.4f: %w", p.L(), err)
	}
	return id, nil
}

// Projections returns the projections of run ordered by L.
func (s *Store) Projections(ctx context.Context, run int64) ([]ProjectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, l, resolution, h_bins, k_bins, mean, grid
		FROM projections WHERE run_id = ? ORDER BY l, id`), run)
	if err != nil {
		return nil, fmt.Errorf("select projections: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []ProjectionRecord
	for rows.Next() {
		var (
			p    ProjectionRecord
			blob []byte
		)
		if err := rows.Scan(&p.ID, &p.L, &p.Resolution, &p.HBins, &p.KBins, &p.Mean, &blob); err != nil {
			return nil, fmt.Errorf("scan projection: %w", err)
		}
		if p.Grid, err = decodeGrid(blob, p.HBins*p.KBins); err != nil {
			return nil, fmt.Errorf("projection %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
