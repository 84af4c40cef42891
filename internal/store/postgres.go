package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
)

const uniqueViolation = "23505"

const referralColumns = `id, referrer_id, referred_user_id, lead_id, proposal_id, commission_rate,
	status, context, created_at, updated_at, version`

const commissionColumns = `id, referral_id, source_referral_id, beneficiary_id, chain_level, category,
	lead_value, commission_rate, seasonal_multiplier, referrer_commission, platform_commission, status,
	payment_method, transaction_id, processed_by, calculated_at, paid_at, version`

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// InsertReferral stores a new referral. The partial unique index on open
// referrals rejects a second open referral for the same referrer and lead.
func (s *Store) InsertReferral(ctx context.Context, r *domain.Referral) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO referrals (`+referralColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ReferrerID, r.ReferredUserID, r.LeadID, r.ProposalID, r.CommissionRate,
		r.Status, r.Context, r.CreatedAt, r.UpdatedAt, r.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Validationf("referrer %s already has an open referral for lead %s", r.ReferrerID, r.LeadID)
		}
		return fmt.Errorf("referral insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetReferral(ctx context.Context, id string) (*domain.Referral, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = $1`, id)
	r, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("referral %s", id)
		}
		return nil, fmt.Errorf("referral query failed: %w", err)
	}
	return r, nil
}

// FindParentReferral returns the most recent non-cancelled referral on the
// same lead that brought referredUserID in, created no later than before.
func (s *Store) FindParentReferral(ctx context.Context, leadID, referredUserID string, before time.Time) (*domain.Referral, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT `+referralColumns+` FROM referrals
		 WHERE lead_id = $1 AND referred_user_id = $2 AND status <> 'cancelled' AND created_at <= $3
		 ORDER BY created_at DESC LIMIT 1`,
		leadID, referredUserID, before,
	)
	r, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("no referral brought %s to lead %s", referredUserID, leadID)
		}
		return nil, fmt.Errorf("parent referral query failed: %w", err)
	}
	return r, nil
}

func (s *Store) ListReferralsByUser(ctx context.Context, userID string, status *domain.ReferralStatus, limit, offset int) ([]domain.Referral, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+referralColumns+` FROM referrals
		 WHERE (referrer_id = $1 OR referred_user_id = $1) AND ($2::text IS NULL OR status = $2)
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		userID, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("referral list failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("referral scan failed: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateReferralStatus writes the new status only if nobody else changed the
// row since expectedVersion was read.
func (s *Store) UpdateReferralStatus(ctx context.Context, id string, to domain.ReferralStatus, expectedVersion int64, at time.Time) (*domain.Referral, error) {
	row := s.Db.QueryRow(ctx,
		`UPDATE referrals SET status = $2, updated_at = $3, version = version + 1
		 WHERE id = $1 AND version = $4
		 RETURNING `+referralColumns,
		id, to, at, expectedVersion,
	)
	r, err := scanReferral(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("referral status update failed: %w", err)
	}
	if _, getErr := s.GetReferral(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: referral %s changed since version %d", domain.ErrConflict, id, expectedVersion)
}

func (s *Store) CountReferralsByStatus(ctx context.Context, userID string, start, end time.Time) (map[domain.ReferralStatus]int, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT status, COUNT(*) FROM referrals
		 WHERE (referrer_id = $1 OR referred_user_id = $1) AND created_at >= $2 AND created_at <= $3
		 GROUP BY status`,
		userID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("referral count failed: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ReferralStatus]int)
	for rows.Next() {
		var status domain.ReferralStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) GetCommission(ctx context.Context, id string) (*domain.Commission, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1`, id)
	c, err := scanCommission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("commission %s", id)
		}
		return nil, fmt.Errorf("commission query failed: %w", err)
	}
	return c, nil
}

// UpsertCommission inserts the commission or replaces the existing one for
// the same source referral and level, but only while that one is pending.
func (s *Store) UpsertCommission(ctx context.Context, c *domain.Commission) (*domain.Commission, error) {
	return upsertCommission(ctx, s.Db, c)
}

// UpsertCommissions applies UpsertCommission to every commission in one
// transaction. A settled level rolls back the whole batch.
func (s *Store) UpsertCommissions(ctx context.Context, cs []*domain.Commission) ([]domain.Commission, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]domain.Commission, 0, len(cs))
	for _, c := range cs {
		stored, err := upsertCommission(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit commissions: %w", err)
	}
	return out, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertCommission(ctx context.Context, q rowQuerier, c *domain.Commission) (*domain.Commission, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO commissions (`+commissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '', '', '', $13, NULL, 1)
		 ON CONFLICT (source_referral_id, chain_level) DO UPDATE SET
		     referral_id = EXCLUDED.referral_id,
		     beneficiary_id = EXCLUDED.beneficiary_id,
		     category = EXCLUDED.category,
		     lead_value = EXCLUDED.lead_value,
		     commission_rate = EXCLUDED.commission_rate,
		     seasonal_multiplier = EXCLUDED.seasonal_multiplier,
		     referrer_commission = EXCLUDED.referrer_commission,
		     platform_commission = EXCLUDED.platform_commission,
		     status = EXCLUDED.status,
		     calculated_at = EXCLUDED.calculated_at,
		     version = commissions.version + 1
		 WHERE commissions.status = 'pending'
		 RETURNING `+commissionColumns,
		c.ID, c.ReferralID, c.SourceReferralID, c.BeneficiaryID, c.ChainLevel, c.Category,
		c.LeadValue, c.CommissionRate, c.SeasonalMultiplier, c.ReferrerCommission, c.PlatformCommission,
		c.Status, c.CalculatedAt,
	)
	stored, err := scanCommission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: referral %s level %d", domain.ErrImmutableState, c.SourceReferralID, c.ChainLevel)
		}
		return nil, fmt.Errorf("commission upsert failed: %w", err)
	}
	return stored, nil
}

// UpdateCommission persists status and payment fields under the same
// optimistic version check as referrals.
func (s *Store) UpdateCommission(ctx context.Context, c *domain.Commission, expectedVersion int64) (*domain.Commission, error) {
	row := s.Db.QueryRow(ctx,
		`UPDATE commissions SET status = $2, payment_method = $3, transaction_id = $4, processed_by = $5,
		     paid_at = $6, version = version + 1
		 WHERE id = $1 AND version = $7
		 RETURNING `+commissionColumns,
		c.ID, c.Status, c.PaymentMethod, c.TransactionID, c.ProcessedBy, c.PaidAt, expectedVersion,
	)
	stored, err := scanCommission(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("commission update failed: %w", err)
	}
	if _, getErr := s.GetCommission(ctx, c.ID); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: commission %s changed since version %d", domain.ErrConflict, c.ID, expectedVersion)
}

func (s *Store) ListCommissionsByStatus(ctx context.Context, status domain.CommissionStatus, limit, offset int) ([]domain.Commission, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+commissionColumns+` FROM commissions WHERE status = $1
		 ORDER BY calculated_at ASC, id ASC LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("commission list failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("commission scan failed: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) CommissionTotals(ctx context.Context, beneficiaryID string, start, end time.Time) (map[domain.CommissionStatus]money.Money, int, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT status, COALESCE(SUM(referrer_commission), 0), COUNT(*) FROM commissions
		 WHERE beneficiary_id = $1 AND calculated_at >= $2 AND calculated_at <= $3
		 GROUP BY status`,
		beneficiaryID, start, end,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("commission totals failed: %w", err)
	}
	defer rows.Close()

	totals := make(map[domain.CommissionStatus]money.Money)
	count := 0
	for rows.Next() {
		var status domain.CommissionStatus
		var sum money.Money
		var n int
		if err := rows.Scan(&status, &sum, &n); err != nil {
			return nil, 0, err
		}
		totals[status] = sum
		count += n
	}
	return totals, count, rows.Err()
}

func scanReferral(row pgx.Row) (*domain.Referral, error) {
	var r domain.Referral
	err := row.Scan(&r.ID, &r.ReferrerID, &r.ReferredUserID, &r.LeadID, &r.ProposalID, &r.CommissionRate,
		&r.Status, &r.Context, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCommission(row pgx.Row) (*domain.Commission, error) {
	var c domain.Commission
	err := row.Scan(&c.ID, &c.ReferralID, &c.SourceReferralID, &c.BeneficiaryID, &c.ChainLevel, &c.Category,
		&c.LeadValue, &c.CommissionRate, &c.SeasonalMultiplier, &c.ReferrerCommission, &c.PlatformCommission,
		&c.Status, &c.PaymentMethod, &c.TransactionID, &c.ProcessedBy, &c.CalculatedAt, &c.PaidAt, &c.Version)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
