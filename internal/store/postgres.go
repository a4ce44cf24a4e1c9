package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"plughub/pkg/contracts/domain"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const keyColumns = `id, name, key_prefix, secret_hash, status, access_scope, allowed_plugins,
	allowed_groups, max_activations, expires_at, created_at`

func scanKey(row pgx.Row) (*domain.APIKey, error) {
	var k domain.APIKey
	err := row.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.SecretHash, &k.Status, &k.AccessScope,
		&k.AllowedPlugins, &k.AllowedGroups, &k.MaxActivations, &k.ExpiresAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

const pluginColumns = `id, slug, COALESCE(slug_override, ''), name, group_ids, latest_version,
	package_url, created_at`

func scanPlugin(row pgx.Row) (*domain.Plugin, error) {
	var p domain.Plugin
	err := row.Scan(&p.ID, &p.Slug, &p.SlugOverride, &p.Name, &p.GroupIDs, &p.LatestVersion,
		&p.PackageURL, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const activationColumns = `id, key_id, site_domain, token, active, activated_at,
	last_verified_at, deactivated_at`

func scanActivation(row pgx.Row) (*domain.Activation, error) {
	var a domain.Activation
	err := row.Scan(&a.ID, &a.KeyID, &a.SiteDomain, &a.Token, &a.Active, &a.ActivatedAt,
		&a.LastVerifiedAt, &a.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- API Keys ---

func (s *PostgresStore) CreateKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (`+keyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key.ID, key.Name, key.KeyPrefix, key.SecretHash, key.Status, key.AccessScope,
		uuidArray(key.AllowedPlugins), uuidArray(key.AllowedGroups), key.MaxActivations,
		key.ExpiresAt, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKey(ctx context.Context, id uuid.UUID) (*domain.APIKey, error) {
	k, err := scanKey(s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) GetKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateKeyStatus(ctx context.Context, id uuid.UUID, status domain.KeyStatus) (*domain.APIKey, error) {
	var updated *domain.APIKey
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		k, err := scanKey(tx.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock api key: %w", err)
		}
		if k.Status != status && !k.Status.CanTransitionTo(status) {
			return ErrInvalidTransition
		}

		if _, err := tx.Exec(ctx, `UPDATE api_keys SET status = $2 WHERE id = $1`, id, status); err != nil {
			return fmt.Errorf("update key status: %w", err)
		}
		if status == domain.KeyStatusRevoked {
			if _, err := tx.Exec(ctx, `DELETE FROM activations WHERE key_id = $1`, id); err != nil {
				return fmt.Errorf("delete activations: %w", err)
			}
		}
		k.Status = status
		updated = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Plugins ---

func (s *PostgresStore) CreatePlugin(ctx context.Context, p *domain.Plugin) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plugins (id, slug, slug_override, name, group_ids, latest_version, package_url, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		p.ID, p.Slug, p.SlugOverride, p.Name, uuidArray(p.GroupIDs), p.LatestVersion, p.PackageURL, p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create plugin: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPluginBySlug(ctx context.Context, slug string) (*domain.Plugin, error) {
	p, err := scanPlugin(s.pool.QueryRow(ctx,
		`SELECT `+pluginColumns+` FROM plugins
		 WHERE COALESCE(slug_override, slug) = $1 OR slug = $1
		 ORDER BY (COALESCE(slug_override, slug) = $1) DESC
		 LIMIT 1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plugin by slug: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPlugins(ctx context.Context) ([]*domain.Plugin, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pluginColumns+` FROM plugins ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var plugins []*domain.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plugin: %w", err)
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

func (s *PostgresStore) CreateGroup(ctx context.Context, g *domain.PluginGroup) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plugin_groups (id, name, created_at) VALUES ($1, $2, $3)`,
		g.ID, g.Name, g.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create plugin group: %w", err)
	}
	return nil
}

// --- Activations ---

// Activate serializes activations of one key on the key row lock. The
// partial unique index on (key_id, site_domain) catches anything that slips
// past it; that case is reported as the existing activation.
func (s *PostgresStore) Activate(ctx context.Context, key *domain.APIKey, siteDomain, token string, now time.Time) (*ActivateOutcome, error) {
	var outcome *ActivateOutcome
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var maxActivations int
		err := tx.QueryRow(ctx,
			`SELECT max_activations FROM api_keys WHERE id = $1 FOR UPDATE`, key.ID).Scan(&maxActivations)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock api key: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT `+activationColumns+` FROM activations
			 WHERE key_id = $1 AND active ORDER BY site_domain`, key.ID)
		if err != nil {
			return fmt.Errorf("list active activations: %w", err)
		}
		active, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Activation, error) {
			return scanActivation(row)
		})
		if err != nil {
			return fmt.Errorf("scan activation: %w", err)
		}

		domains := make([]string, 0, len(active))
		for _, a := range active {
			if a.SiteDomain == siteDomain {
				outcome = &ActivateOutcome{Activation: a, AlreadyActive: true}
				return nil
			}
			domains = append(domains, a.SiteDomain)
		}

		if maxActivations > 0 && len(active) >= maxActivations {
			outcome = &ActivateOutcome{LimitReached: true, ActiveDomains: domains}
			return nil
		}

		a, err := scanActivation(tx.QueryRow(ctx,
			`INSERT INTO activations (id, key_id, site_domain, token, active, activated_at)
			 VALUES ($1, $2, $3, $4, TRUE, $5)
			 RETURNING `+activationColumns,
			uuid.New(), key.ID, siteDomain, token, now))
		if err != nil {
			return err
		}
		outcome = &ActivateOutcome{Activation: a}
		return nil
	})

	if isDuplicateKeyError(err) {
		existing, findErr := s.FindActivation(ctx, key.ID, siteDomain)
		if findErr != nil {
			return nil, ErrDuplicate
		}
		return &ActivateOutcome{Activation: existing, AlreadyActive: true}, nil
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("activate: %w", err)
	}
	return outcome, nil
}

func (s *PostgresStore) getActivation(ctx context.Context, where string, args ...any) (*domain.Activation, error) {
	a, err := scanActivation(s.pool.QueryRow(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetActivation(ctx context.Context, id uuid.UUID) (*domain.Activation, error) {
	return s.getActivation(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetActivationByToken(ctx context.Context, token string) (*domain.Activation, error) {
	return s.getActivation(ctx, `token = $1`, token)
}

func (s *PostgresStore) FindActivation(ctx context.Context, keyID uuid.UUID, siteDomain string) (*domain.Activation, error) {
	return s.getActivation(ctx, `key_id = $1 AND site_domain = $2 AND active`, keyID, siteDomain)
}

func (s *PostgresStore) ListActivations(ctx context.Context, keyID uuid.UUID) ([]*domain.Activation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE key_id = $1 ORDER BY activated_at`, keyID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var list []*domain.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *PostgresStore) CountActiveActivations(ctx context.Context, keyID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activations WHERE key_id = $1 AND active`, keyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activations: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteActivation(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete activation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) TouchActivation(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activations
		 SET last_verified_at = GREATEST(COALESCE(last_verified_at, $2), $2)
		 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Blacklist ---

func (s *PostgresStore) AddBlacklistEntry(ctx context.Context, e *domain.BlacklistEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blacklist (id, activation_id, plugin_slug, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.ActivationID, e.PluginSlug, e.Reason, e.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("add blacklist entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBlacklistEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blacklist WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blacklist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListBlacklist(ctx context.Context, activationID uuid.UUID) ([]*domain.BlacklistEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, activation_id, plugin_slug, reason, created_at
		 FROM blacklist WHERE activation_id = $1 ORDER BY created_at`, activationID)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var entries []*domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.ActivationID, &e.PluginSlug, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// uuidArray keeps NOT NULL array columns satisfied for nil slices
func uuidArray(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
