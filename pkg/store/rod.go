package store

import (
	"context"
	"database/sql"
	"fmt"

	"hesxrd/pkg/rod"
)

// SaveRod stores the accepted rows of r under run.
func (s *Store) SaveRod(ctx context.Context, run int64, r *rod.Rod) error {
	insert := s.rebind(`INSERT INTO rod_points(run_id, row_index, h, k, l, intensity, structure_factor, fit_error, function)
		VALUES(?,?,?,?,?,?,?,?,?)`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := 0; i < r.Len(); i++ {
			_, err := tx.ExecContext(ctx, insert, run, i,
				r.Value(rod.H, i), r.Value(rod.K, i), r.Value(rod.L, i),
				r.Value(rod.Intensity, i), r.Value(rod.StructureFactor, i), r.Value(rod.Error, i),
				r.Functions[i])
			if err != nil {
				return fmt.Errorf("insert rod point %d: %w", i, err)
			}
		}
		return nil
	})
}

// LoadRod rebuilds the rod of run from its archived rows. Profiles are
// not archived and come back empty.
func (s *Store) LoadRod(ctx context.Context, run int64) (*rod.Rod, error) {
	meta, err := s.run(ctx, run)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT h, k, l, intensity, structure_factor, fit_error, function
		FROM rod_points WHERE run_id = ? ORDER BY row_index`), run)
	if err != nil {
		return nil, fmt.Errorf("select rod points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type point struct {
		values   []float64
		function string
	}
	var points []point
	for rows.Next() {
		p := point{values: make([]float64, len(rod.Channels()))}
		v := p.values
		if err := rows.Scan(&v[rod.H], &v[rod.K], &v[rod.L], &v[rod.Intensity],
			&v[rod.StructureFactor], &v[rod.Error], &p.function); err != nil {
			return nil, fmt.Errorf("scan rod point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r := rod.New(len(points), meta.Images)
	for _, p := range points {
		if err := r.Append(p.values, p.function, nil); err != nil {
			return nil, err
		}
	}
	return r, nil
}
