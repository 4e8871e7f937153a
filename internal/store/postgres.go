package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"wastetrack/internal/coverage"
	"wastetrack/internal/model"
)

type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return NewPostgresDB(db), nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

// validID rejects ids postgres would fail to cast to uuid.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Routes

const routeCols = `id::text, name, points, total_points, created_at, updated_at`

func scanRoute(row rowScanner) (model.Route, error) {
	var r model.Route
	var pts []byte
	if err := row.Scan(&r.ID, &r.Name, &pts, &r.TotalPoints, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	r.Points = []model.Checkpoint{}
	if len(pts) > 0 {
		if err := json.Unmarshal(pts, &r.Points); err != nil {
			return r, fmt.Errorf("decode route points: %w", err)
		}
	}
	return r, nil
}

func (p *Postgres) CreateRoute(ctx context.Context, in model.RouteInput) (model.Route, error) {
	pts, err := json.Marshal(nonNilPoints(in.Points))
	if err != nil {
		return model.Route{}, err
	}
	now := p.now()
	id := uuid.New().String()
	_, err = p.db.ExecContext(ctx, `INSERT INTO routes (id, name, points, total_points, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		id, in.Name, string(pts), len(in.Points), now, now)
	if err != nil {
		return model.Route{}, fmt.Errorf("insert route: %w", err)
	}
	return model.Route{ID: id, Name: in.Name, Points: nonNilPoints(in.Points), TotalPoints: len(in.Points), CreatedAt: now, UpdatedAt: now}, nil
}

func (p *Postgres) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	if !validID(routeID) {
		return model.Route{}, ErrNotFound
	}
	return scanRoute(p.db.QueryRowContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id=$1`, routeID))
}

func (p *Postgres) ListRoutes(ctx context.Context, cursor string, limit int) ([]model.Route, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+routeCols+` FROM routes ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Route{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) UpdateRoute(ctx context.Context, routeID string, in model.RouteInput) (model.Route, error) {
	if !validID(routeID) {
		return model.Route{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Route{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanRoute(tx.QueryRowContext(ctx, `SELECT `+routeCols+` FROM routes WHERE id=$1 FOR UPDATE`, routeID))
	if err != nil {
		return model.Route{}, err
	}
	if !samePoints(cur.Points, in.Points) {
		var covered bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE route_id=$1 AND points_covered > 0 AND status <> 'cancelled')`, routeID).Scan(&covered)
		if err != nil {
			return model.Route{}, err
		}
		if covered {
			return model.Route{}, fmt.Errorf("%w: route %s has recorded coverage", ErrConflict, routeID)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE assignments SET total_points=$2 WHERE route_id=$1 AND status='assigned'`, routeID, len(in.Points)); err != nil {
			return model.Route{}, err
		}
	}
	pts, err := json.Marshal(nonNilPoints(in.Points))
	if err != nil {
		return model.Route{}, err
	}
	now := p.now()
	if _, err := tx.ExecContext(ctx, `UPDATE routes SET name=$2, points=$3, total_points=$4, updated_at=$5 WHERE id=$1`,
		routeID, in.Name, string(pts), len(in.Points), now); err != nil {
		return model.Route{}, fmt.Errorf("update route: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Route{}, err
	}
	cur.Name = in.Name
	cur.Points = nonNilPoints(in.Points)
	cur.TotalPoints = len(in.Points)
	cur.UpdatedAt = now
	return cur, nil
}

func (p *Postgres) DeleteRoute(ctx context.Context, routeID string) error {
	if !validID(routeID) {
		return ErrNotFound
	}
	var assigned bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE route_id=$1)`, routeID).Scan(&assigned); err != nil {
		return err
	}
	if assigned {
		return fmt.Errorf("%w: route %s is assigned", ErrConflict, routeID)
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM routes WHERE id=$1`, routeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Collectors

const collectorCols = `id::text, name, mobile, address, created_at`

func scanCollector(row rowScanner) (model.Collector, error) {
	var c model.Collector
	if err := row.Scan(&c.ID, &c.Name, &c.Mobile, &c.Address, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, err
	}
	return c, nil
}

func (p *Postgres) CreateCollector(ctx context.Context, in model.CollectorInput) (model.Collector, error) {
	c := model.Collector{ID: uuid.New().String(), Name: in.Name, Mobile: in.Mobile, Address: in.Address, CreatedAt: p.now()}
	_, err := p.db.ExecContext(ctx, `INSERT INTO collectors (id, name, mobile, address, created_at) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.Name, c.Mobile, c.Address, c.CreatedAt)
	if err != nil {
		return model.Collector{}, fmt.Errorf("insert collector: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetCollector(ctx context.Context, id string) (model.Collector, error) {
	if !validID(id) {
		return model.Collector{}, ErrNotFound
	}
	return scanCollector(p.db.QueryRowContext(ctx, `SELECT `+collectorCols+` FROM collectors WHERE id=$1`, id))
}

func (p *Postgres) ListCollectors(ctx context.Context, cursor string, limit int) ([]model.Collector, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+collectorCols+` FROM collectors WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+collectorCols+` FROM collectors ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Collector{}
	for rows.Next() {
		c, err := scanCollector(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Assignments

const assignmentCols = `id::text, collector_id::text, route_id::text, assigned_at, status, covered_points, points_covered, total_points, current_lat, current_lng, last_updated`

func scanAssignment(row rowScanner) (model.Assignment, error) {
	var a model.Assignment
	var status string
	var covered []byte
	var lat, lng sql.NullFloat64
	var last sql.NullTime
	if err := row.Scan(&a.ID, &a.CollectorID, &a.RouteID, &a.AssignedAt, &status, &covered, &a.PointsCovered, &a.TotalPoints, &lat, &lng, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.Status = model.AssignmentStatus(status)
	a.CoveredPoints = []int{}
	if len(covered) > 0 {
		if err := json.Unmarshal(covered, &a.CoveredPoints); err != nil {
			return a, fmt.Errorf("decode covered points: %w", err)
		}
	}
	if lat.Valid && lng.Valid {
		a.CurrentPosition = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if last.Valid {
		t := last.Time
		a.LastUpdated = &t
	}
	return a, nil
}

func (p *Postgres) CreateAssignment(ctx context.Context, req model.AssignmentRequest) (model.Assignment, error) {
	if !validID(req.RouteID) {
		return model.Assignment{}, fmt.Errorf("route %s: %w", req.RouteID, ErrNotFound)
	}
	if !validID(req.CollectorID) {
		return model.Assignment{}, fmt.Errorf("collector %s: %w", req.CollectorID, ErrNotFound)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT total_points FROM routes WHERE id=$1`, req.RouteID).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Assignment{}, fmt.Errorf("route %s: %w", req.RouteID, ErrNotFound)
		}
		return model.Assignment{}, err
	}
	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM collectors WHERE id=$1`, req.CollectorID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Assignment{}, fmt.Errorf("collector %s: %w", req.CollectorID, ErrNotFound)
		}
		return model.Assignment{}, err
	}
	a := model.Assignment{
		ID:            uuid.New().String(),
		CollectorID:   req.CollectorID,
		RouteID:       req.RouteID,
		AssignedAt:    p.now(),
		Status:        model.StatusAssigned,
		CoveredPoints: []int{},
		TotalPoints:   total,
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assignments (id, collector_id, route_id, assigned_at, status, covered_points, points_covered, total_points) VALUES ($1,$2,$3,$4,$5,'[]',0,$6)`,
		a.ID, a.CollectorID, a.RouteID, a.AssignedAt, string(a.Status), a.TotalPoints)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Assignment{}, err
	}
	return a, nil
}

func (p *Postgres) ListAssignments(ctx context.Context, f model.AssignmentFilter, cursor string, limit int) ([]model.Assignment, string, error) {
	limit = clampLimit(limit)
	where := []string{}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CollectorID != "" {
		if !validID(f.CollectorID) {
			return []model.Assignment{}, "", nil
		}
		add("collector_id=$%d", f.CollectorID)
	}
	if f.RouteID != "" {
		if !validID(f.RouteID) {
			return []model.Assignment{}, "", nil
		}
		add("route_id=$%d", f.RouteID)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if cursor != "" {
		add("id::text > $%d", cursor)
	}
	q := `SELECT ` + assignmentCols + ` FROM assignments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) CancelAssignment(ctx context.Context, id string) (model.Assignment, error) {
	if !validID(id) {
		return model.Assignment{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return model.Assignment{}, err
	}
	if a.Status == model.StatusCompleted {
		return model.Assignment{}, fmt.Errorf("%w: assignment %s already completed", ErrConflict, id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE assignments SET status='cancelled' WHERE id=$1`, id); err != nil {
		return model.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Assignment{}, err
	}
	a.Status = model.StatusCancelled
	return a, nil
}

func (p *Postgres) LoadAssignment(ctx context.Context, id string) (model.Assignment, error) {
	if !validID(id) {
		return model.Assignment{}, ErrNotFound
	}
	return scanAssignment(p.db.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id=$1`, id))
}

// SaveAssignment locks the row, merges the incoming state into it and
// writes the result back in one transaction. The route row is share-locked
// first, in the same order UpdateRoute takes it, so a concurrent checkpoint
// edit either waits for this save or makes it fail with ErrRouteChanged.
func (p *Postgres) SaveAssignment(ctx context.Context, in model.Assignment) (model.Assignment, error) {
	if !validID(in.ID) {
		return model.Assignment{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var routeTotal int
	err = tx.QueryRowContext(ctx, `SELECT total_points FROM routes WHERE id=(SELECT route_id FROM assignments WHERE id=$1) FOR SHARE`, in.ID).Scan(&routeTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, ErrNotFound
	}
	if err != nil {
		return model.Assignment{}, err
	}
	if routeTotal != in.TotalPoints {
		return model.Assignment{}, fmt.Errorf("%w: route has %d checkpoints, update saw %d", ErrRouteChanged, routeTotal, in.TotalPoints)
	}
	cur, err := scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id=$1 FOR UPDATE`, in.ID))
	if err != nil {
		return model.Assignment{}, err
	}
	merged := coverage.Reconcile(cur, in)
	covered, err := json.Marshal(merged.CoveredPoints)
	if err != nil {
		return model.Assignment{}, err
	}
	var lat, lng sql.NullFloat64
	if merged.CurrentPosition != nil {
		lat = sql.NullFloat64{Float64: merged.CurrentPosition.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: merged.CurrentPosition.Lng, Valid: true}
	}
	var last sql.NullTime
	if merged.LastUpdated != nil {
		last = sql.NullTime{Time: *merged.LastUpdated, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `UPDATE assignments SET status=$2, covered_points=$3, points_covered=$4, total_points=$5, current_lat=$6, current_lng=$7, last_updated=$8 WHERE id=$1`,
		in.ID, string(merged.Status), string(covered), merged.PointsCovered, merged.TotalPoints, lat, lng, last)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("update assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Assignment{}, err
	}
	return merged, nil
}

func nonNilPoints(p []model.Checkpoint) []model.Checkpoint {
	if p == nil {
		return []model.Checkpoint{}
	}
	return p
}
