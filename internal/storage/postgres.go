package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Events ---

// SaveEvent commits the enriched event and its provider attempt ledger in one
// transaction. Reanalysis upserts onto the same id: the new description wins
// only at a strictly higher generation, attempts always accumulate.
func (s *PostgresStore) SaveEvent(ctx context.Context, ev *models.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var vec *pgvector.Vector
	if len(ev.Embedding) > 0 {
		v := pgvector.NewVector(ev.Embedding)
		vec = &v
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, camera_id, timestamp, frame_keys, clip_key, description, embedding, matches, anomaly, fired_rule_ids, skip_reason, new_entity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   description = EXCLUDED.description,
		   embedding = EXCLUDED.embedding,
		   matches = EXCLUDED.matches,
		   anomaly = EXCLUDED.anomaly,
		   fired_rule_ids = EXCLUDED.fired_rule_ids,
		   skip_reason = EXCLUDED.skip_reason
		 WHERE COALESCE((events.description->>'generation')::int, 0) < COALESCE((EXCLUDED.description->>'generation')::int, 0)`,
		ev.ID, ev.CameraID, ev.Timestamp, ev.FrameKeys, ev.ClipKey,
		ev.Description, vec, ev.Matches, ev.Anomaly, ev.FiredRuleIDs,
		ev.SkipReason, ev.NewEntity, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	for _, a := range ev.Attempts {
		_, err = tx.Exec(ctx,
			`INSERT INTO provider_attempts (event_id, provider, mode, images, cost_usd, latency_ms, succeeded, error, at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ev.ID, a.Provider, a.Mode, a.Images, a.CostUSD,
			a.Latency.Milliseconds(), a.Succeeded, a.Error, a.At)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// EventFilter narrows QueryEvents. Nil/zero fields impose no constraint.
type EventFilter struct {
	CameraID string
	From     *time.Time
	To       *time.Time
	EntityID *uuid.UUID
	RuleID   *uuid.UUID
	MinScore *float64
	Degraded *bool
}

func (s *PostgresStore) QueryEvents(ctx context.Context, f EventFilter, limit, offset int) ([]models.Event, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE TRUE"
	var args []interface{}
	argIdx := 1

	if f.CameraID != "" {
		baseWhere += fmt.Sprintf(" AND camera_id = $%d", argIdx)
		args = append(args, f.CameraID)
		argIdx++
	}
	if f.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}
	if f.EntityID != nil {
		baseWhere += fmt.Sprintf(` AND matches @> $%d::jsonb`, argIdx)
		args = append(args, fmt.Sprintf(`[{"entity_id":%q}]`, f.EntityID.String()))
		argIdx++
	}
	if f.RuleID != nil {
		baseWhere += fmt.Sprintf(` AND fired_rule_ids @> $%d::jsonb`, argIdx)
		args = append(args, fmt.Sprintf(`[%q]`, f.RuleID.String()))
		argIdx++
	}
	if f.MinScore != nil {
		baseWhere += fmt.Sprintf(" AND (anomaly->>'score')::float8 >= $%d", argIdx)
		args = append(args, *f.MinScore)
		argIdx++
	}
	if f.Degraded != nil {
		if *f.Degraded {
			baseWhere += " AND skip_reason <> ''"
		} else {
			baseWhere += " AND skip_reason = ''"
		}
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM events " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, camera_id, timestamp, frame_keys, clip_key, description, matches, anomaly, fired_rule_ids, skip_reason, new_entity, created_at
		 FROM events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.CameraID, &ev.Timestamp, &ev.FrameKeys, &ev.ClipKey,
			&ev.Description, &ev.Matches, &ev.Anomaly, &ev.FiredRuleIDs,
			&ev.SkipReason, &ev.NewEntity, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var ev models.Event
	err := s.pool.QueryRow(ctx,
		`SELECT id, camera_id, timestamp, frame_keys, clip_key, description, matches, anomaly, fired_rule_ids, skip_reason, new_entity, created_at
		 FROM events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.CameraID, &ev.Timestamp, &ev.FrameKeys, &ev.ClipKey,
		&ev.Description, &ev.Matches, &ev.Anomaly, &ev.FiredRuleIDs,
		&ev.SkipReason, &ev.NewEntity, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT provider, mode, images, cost_usd, latency_ms, succeeded, error, at
		 FROM provider_attempts WHERE event_id = $1 ORDER BY at`, id)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.ProviderAttempt
		var latencyMs int64
		if err := rows.Scan(&a.Provider, &a.Mode, &a.Images, &a.CostUSD,
			&latencyMs, &a.Succeeded, &a.Error, &a.At); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Latency = time.Duration(latencyMs) * time.Millisecond
		ev.Attempts = append(ev.Attempts, a)
	}
	return &ev, nil
}

// SumAttemptCosts returns accumulated provider spend since the given time.
// Used to seed the in-process spend ledger on worker start.
func (s *PostgresStore) SumAttemptCosts(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM provider_attempts WHERE at >= $1`, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum attempt costs: %w", err)
	}
	return total, nil
}

// ListCameraIDs returns every camera that has committed events. Used by the
// gateway's media retention sweep.
func (s *PostgresStore) ListCameraIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT camera_id FROM events ORDER BY camera_id`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan camera id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// --- Entities ---

// CreateEntity persists a new entity. Entities created without a name get
// the next anonymous label from a dedicated sequence, so Unknown-N is unique
// across concurrent workers.
func (s *PostgresStore) CreateEntity(ctx context.Context, e *models.Entity) error {
	vec := pgvector.NewVector(e.Embedding)
	if e.Name == "" {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO entities (id, type, name, embedding, first_seen, last_seen, occurrences)
			 VALUES ($1, $2, 'Unknown-' || nextval('entity_anon_seq')::text, $3, $4, $5, $6)
			 RETURNING name, created_at, updated_at`,
			e.ID, e.Type, vec, e.FirstSeen, e.LastSeen, e.Occurrences,
		).Scan(&e.Name, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create entity: %w", err)
		}
		return nil
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO entities (id, type, name, embedding, first_seen, last_seen, occurrences)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		e.ID, e.Type, e.Name, vec, e.FirstSeen, e.LastSeen, e.Occurrences,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	e := &models.Entity{}
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, name, embedding, first_seen, last_seen, occurrences, vip, blocked, created_at, updated_at
		 FROM entities WHERE id = $1`, id,
	).Scan(&e.ID, &e.Type, &e.Name, &vec, &e.FirstSeen, &e.LastSeen,
		&e.Occurrences, &e.VIP, &e.Blocked, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	e.Embedding = vec.Slice()
	return e, nil
}

// SearchEntities returns the nearest entity centroids by cosine similarity.
// A zero since searches the whole table; otherwise only entities seen after
// since are candidates.
func (s *PostgresStore) SearchEntities(ctx context.Context, embedding []float32, since time.Time, limit int) ([]models.EntityNeighbor, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, 1 - (embedding <=> $1) AS similarity
		 FROM entities
		 WHERE $2::timestamptz IS NULL OR last_seen >= $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, sinceArg, limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()

	var neighbors []models.EntityNeighbor
	for rows.Next() {
		var n models.EntityNeighbor
		if err := rows.Scan(&n.EntityID, &n.Name, &n.Type, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

// UpdateEntityMatch writes the recomputed centroid, occurrence count and
// last-seen timestamp after a strong match.
func (s *PostgresStore) UpdateEntityMatch(ctx context.Context, id uuid.UUID, centroid []float32, occurrences int, lastSeen time.Time) error {
	vec := pgvector.NewVector(centroid)
	_, err := s.pool.Exec(ctx,
		`UPDATE entities SET embedding = $1, occurrences = $2, last_seen = $3, updated_at = now() WHERE id = $4`,
		vec, occurrences, lastSeen, id)
	if err != nil {
		return fmt.Errorf("update entity match: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, entityType string, limit, offset int) ([]models.Entity, int, error) {
	if limit <= 0 {
		limit = 50
	}

	baseWhere := "WHERE TRUE"
	var args []interface{}
	argIdx := 1
	if entityType != "" {
		baseWhere += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, entityType)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM entities "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entities: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, type, name, first_seen, last_seen, occurrences, vip, blocked, created_at, updated_at
		 FROM entities %s ORDER BY last_seen DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		var e models.Entity
		if err := rows.Scan(&e.ID, &e.Type, &e.Name, &e.FirstSeen, &e.LastSeen,
			&e.Occurrences, &e.VIP, &e.Blocked, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, total, nil
}

// UpdateEntityMeta sets the user-editable fields: display name and the
// VIP/blocked flags. Centroid and counters stay worker-owned.
func (s *PostgresStore) UpdateEntityMeta(ctx context.Context, id uuid.UUID, name string, vip, blocked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET name = $1, vip = $2, blocked = $3, updated_at = now() WHERE id = $4`,
		name, vip, blocked, id)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity not found")
	}
	return nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity not found")
	}
	return nil
}

// --- Alert rules ---

func (s *PostgresStore) CreateRule(ctx context.Context, r *models.AlertRule) error {
	r.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alert_rules (id, name, enabled, priority, conditions, actions, cooldown_ns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		r.ID, r.Name, r.Enabled, r.Priority, r.Conditions, r.Actions, int64(r.Cooldown),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r *models.AlertRule) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET name = $1, enabled = $2, priority = $3, conditions = $4, actions = $5, cooldown_ns = $6, updated_at = now()
		 WHERE id = $7`,
		r.Name, r.Enabled, r.Priority, r.Conditions, r.Actions, int64(r.Cooldown), r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id uuid.UUID) (*models.AlertRule, error) {
	r := &models.AlertRule{}
	var cooldownNs int64
	var lastTriggered *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, enabled, priority, conditions, actions, cooldown_ns, last_triggered, created_at, updated_at
		 FROM alert_rules WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.Enabled, &r.Priority, &r.Conditions, &r.Actions,
		&cooldownNs, &lastTriggered, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	r.Cooldown = time.Duration(cooldownNs)
	if lastTriggered != nil {
		r.LastTriggered = *lastTriggered
	}
	return r, nil
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.queryRules(ctx,
		`SELECT id, name, enabled, priority, conditions, actions, cooldown_ns, last_triggered, created_at, updated_at
		 FROM alert_rules ORDER BY priority, created_at`)
}

func (s *PostgresStore) GetEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.queryRules(ctx,
		`SELECT id, name, enabled, priority, conditions, actions, cooldown_ns, last_triggered, created_at, updated_at
		 FROM alert_rules WHERE enabled ORDER BY priority, created_at`)
}

func (s *PostgresStore) queryRules(ctx context.Context, query string) ([]models.AlertRule, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		var r models.AlertRule
		var cooldownNs int64
		var lastTriggered *time.Time
		if err := rows.Scan(&r.ID, &r.Name, &r.Enabled, &r.Priority, &r.Conditions,
			&r.Actions, &cooldownNs, &lastTriggered, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Cooldown = time.Duration(cooldownNs)
		if lastTriggered != nil {
			r.LastTriggered = *lastTriggered
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// CompareAndSwapLastTriggered advances a rule's last-triggered timestamp only
// if it still holds the expected value. The conditional update succeeds for
// exactly one of any set of concurrent callers.
func (s *PostgresStore) CompareAndSwapLastTriggered(ctx context.Context, ruleID uuid.UUID, expectedOld, newTs time.Time) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if expectedOld.IsZero() {
		tag, err = s.pool.Exec(ctx,
			`UPDATE alert_rules SET last_triggered = $2 WHERE id = $1 AND last_triggered IS NULL`,
			ruleID, newTs)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE alert_rules SET last_triggered = $2 WHERE id = $1 AND last_triggered = $3`,
			ruleID, newTs, expectedOld)
	}
	if err != nil {
		return false, fmt.Errorf("cas last_triggered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Camera baselines ---

func (s *PostgresStore) GetBaseline(ctx context.Context, cameraID string) (*models.CameraBaseline, error) {
	b := &models.CameraBaseline{CameraID: cameraID}
	err := s.pool.QueryRow(ctx,
		`SELECT buckets, first_observed, daily_mean, daily_var, today_count, today_date, updated_at
		 FROM camera_baselines WHERE camera_id = $1`, cameraID,
	).Scan(&b.Buckets, &b.FirstObserved, &b.DailyMean, &b.DailyVar,
		&b.TodayCount, &b.TodayDate, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	if b.Buckets == nil {
		b.Buckets = make(map[string]*models.BaselineBucket)
	}
	return b, nil
}

func (s *PostgresStore) SaveBaseline(ctx context.Context, b *models.CameraBaseline) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO camera_baselines (camera_id, buckets, first_observed, daily_mean, daily_var, today_count, today_date, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (camera_id) DO UPDATE SET
		   buckets = EXCLUDED.buckets,
		   first_observed = EXCLUDED.first_observed,
		   daily_mean = EXCLUDED.daily_mean,
		   daily_var = EXCLUDED.daily_var,
		   today_count = EXCLUDED.today_count,
		   today_date = EXCLUDED.today_date,
		   updated_at = EXCLUDED.updated_at`,
		b.CameraID, b.Buckets, b.FirstObserved, b.DailyMean, b.DailyVar,
		b.TodayCount, b.TodayDate, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}
