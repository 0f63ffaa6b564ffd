/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Campaign rows, donor-partitioned donation rows, the campaign donation index,
 * and donor aggregates each change through single-key conditional statements.
 * Application tables make the total increment and aggregate upsert replay-safe.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const defaultListLimit = 100

// MaxListLimit caps every list query; larger limits are lowered to it.
const MaxListLimit = 1000

// PostgresRepository is the PostgreSQL implementation of the Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ApplySchema creates the ledger tables if they do not exist.
func (r *PostgresRepository) ApplySchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return classify("apply schema", err)
	}
	return nil
}

const campaignColumns = `
	id, provider_id, campaign_name, restaurant_name, description,
	target_amount, cost_per_meal, total_donations, total_meals_provided,
	end_date, status, distribution_updates, closed_at, created_at, updated_at
`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var status string
	var updates []byte
	err := row.Scan(
		&c.ID, &c.ProviderID, &c.CampaignName, &c.RestaurantName, &c.Description,
		&c.TargetAmount, &c.CostPerMeal, &c.TotalDonations, &c.TotalMealsProvided,
		&c.EndDate, &status, &updates, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatus(status)
	c.DistributionUpdates = []domain.DistributionUpdate{}
	if len(updates) > 0 {
		if err := json.Unmarshal(updates, &c.DistributionUpdates); err != nil {
			return nil, fmt.Errorf("decode distribution updates: %w", err)
		}
	}
	return &c, nil
}

func collectCampaigns(rows pgx.Rows) ([]domain.Campaign, error) {
	defer rows.Close()
	campaigns := make([]domain.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// CreateCampaign inserts a new campaign row.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	updates, err := json.Marshal(nonNilUpdates(c.DistributionUpdates))
	if err != nil {
		return fmt.Errorf("encode distribution updates: %w", err)
	}
	query := `
		INSERT INTO campaigns (
			id, provider_id, campaign_name, restaurant_name, description,
			target_amount, cost_per_meal, total_donations, total_meals_provided,
			end_date, status, distribution_updates, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12::jsonb, $13, $13)
	`
	_, err = r.db.Exec(ctx, query,
		c.ID, c.ProviderID, c.CampaignName, c.RestaurantName, c.Description,
		c.TargetAmount.String(), c.CostPerMeal.String(), c.TotalDonations.String(), c.TotalMealsProvided,
		c.EndDate, string(c.Status), string(updates), c.CreatedAt,
	)
	if err != nil {
		return classify("create campaign", err)
	}
	c.UpdatedAt = c.CreatedAt
	return nil
}

// FindCampaignByID retrieves a campaign by its id.
func (r *PostgresRepository) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRow(ctx, query, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, classify("find campaign", err)
	}
	return c, nil
}

// ListCampaigns lists campaigns matching the filter, newest first.
func (r *PostgresRepository) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		where = append(where, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	orderBy := "created_at DESC, id"
	if filter.EndingAtOrBefore != nil {
		args = append(args, *filter.EndingAtOrBefore)
		where = append(where, fmt.Sprintf("end_date <= $%d", len(args)))
		orderBy = "end_date ASC, id"
	}
	args = append(args, normalizeLimit(filter.Limit))

	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d", orderBy, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list campaigns", err)
	}
	campaigns, err := collectCampaigns(rows)
	if err != nil {
		return nil, classify("scan campaigns", err)
	}
	return campaigns, nil
}

// ListTopCampaigns returns the best funded campaigns.
func (r *PostgresRepository) ListTopCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		ORDER BY total_donations DESC, campaign_name ASC, id ASC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list top campaigns", err)
	}
	campaigns, err := collectCampaigns(rows)
	if err != nil {
		return nil, classify("scan top campaigns", err)
	}
	return campaigns, nil
}

// IncrementCampaignTotal records the application row and bumps the total in one transaction.
func (r *PostgresRepository) IncrementCampaignTotal(ctx context.Context, campaignID, donationID uuid.UUID, amount decimal.Decimal) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, classify("begin increment", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO campaign_total_applications (campaign_id, donation_id, amount, applied_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (campaign_id, donation_id) DO NOTHING
	`, campaignID, donationID, amount.String())
	if err != nil {
		return false, classify("record campaign application", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE campaigns
		SET total_donations = total_donations + $2::numeric, updated_at = NOW()
		WHERE id = $1
	`, campaignID, amount.String())
	if err != nil {
		return false, classify("increment campaign total", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrCampaignNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return false, classify("commit increment", err)
	}
	return true, nil
}

// TransitionCampaignStatus is a compare-and-set on the status column.
func (r *PostgresRepository) TransitionCampaignStatus(ctx context.Context, campaignID uuid.UUID, from, to domain.CampaignStatus, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE campaigns
		SET status = $3, closed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $2
	`, campaignID, string(from), string(to), at)
	if err != nil {
		return false, classify("transition campaign status", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendDistributionUpdate appends to the JSONB update list and refreshes the meal count.
func (r *PostgresRepository) AppendDistributionUpdate(ctx context.Context, campaignID uuid.UUID, providerID string, update domain.DistributionUpdate) (*domain.Campaign, error) {
	payload, err := json.Marshal([]domain.DistributionUpdate{update})
	if err != nil {
		return nil, fmt.Errorf("encode distribution update: %w", err)
	}
	query := `
		UPDATE campaigns
		SET distribution_updates = distribution_updates || $3::jsonb,
			total_meals_provided = FLOOR(total_donations / cost_per_meal)::bigint,
			updated_at = $4
		WHERE id = $1 AND provider_id = $2 AND status <> 'failed'
		RETURNING ` + campaignColumns
	c, err := scanCampaign(r.db.QueryRow(ctx, query, campaignID, providerID, string(payload), update.Timestamp))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotUpdatable
		}
		return nil, classify("append distribution update", err)
	}
	return c, nil
}

const donationColumns = `
	id, campaign_id, donor_id, donor_name, amount, created_at, refunded, refunded_at, idempotency_key
`

func scanDonation(row pgx.Row) (*domain.Donation, error) {
	var d domain.Donation
	err := row.Scan(
		&d.ID, &d.CampaignID, &d.DonorID, &d.DonorName, &d.Amount,
		&d.Timestamp, &d.Refunded, &d.RefundedAt, &d.IdempotencyKey,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDonations(rows pgx.Rows) ([]domain.Donation, error) {
	defer rows.Close()
	donations := make([]domain.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

// InsertDonation is the donation commit point. The donor partition row and the
// campaign index entry are written in the same transaction.
func (r *PostgresRepository) InsertDonation(ctx context.Context, d *domain.Donation) (*domain.Donation, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, classify("begin insert donation", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO donations (donor_id, id, campaign_id, donor_name, amount, idempotency_key, refunded, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, FALSE, $7)
		ON CONFLICT (donor_id, idempotency_key) DO NOTHING
		RETURNING ` + donationColumns
	stored, err := scanDonation(tx.QueryRow(ctx, insert,
		d.DonorID, d.ID, d.CampaignID, d.DonorName, d.Amount.String(), d.IdempotencyKey, d.Timestamp,
	))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, classify("insert donation", err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanDonation(tx.QueryRow(ctx,
			`SELECT `+donationColumns+` FROM donations WHERE donor_id = $1 AND idempotency_key = $2`,
			d.DonorID, d.IdempotencyKey,
		))
		if err != nil {
			return nil, false, classify("load replayed donation", err)
		}
		return existing, false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO campaign_donation_index (campaign_id, donor_id, donation_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, stored.CampaignID, stored.DonorID, stored.ID, stored.Timestamp)
	if err != nil {
		return nil, false, classify("index donation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, classify("commit donation", err)
	}
	return stored, true, nil
}

// FindDonation reads one donation from the donor partition.
func (r *PostgresRepository) FindDonation(ctx context.Context, donorID string, donationID uuid.UUID) (*domain.Donation, error) {
	d, err := scanDonation(r.db.QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE donor_id = $1 AND id = $2`,
		donorID, donationID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, classify("find donation", err)
	}
	return d, nil
}

// FindDonationByIdempotencyKey reads the donation committed under the donor's key.
func (r *PostgresRepository) FindDonationByIdempotencyKey(ctx context.Context, donorID, idempotencyKey string) (*domain.Donation, error) {
	d, err := scanDonation(r.db.QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE donor_id = $1 AND idempotency_key = $2`,
		donorID, idempotencyKey,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, classify("find donation by key", err)
	}
	return d, nil
}

// ListDonationsByDonor lists a donor's donations, newest first.
func (r *PostgresRepository) ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]domain.Donation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE donor_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		donorID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, classify("list donor donations", err)
	}
	donations, err := collectDonations(rows)
	if err != nil {
		return nil, classify("scan donor donations", err)
	}
	return donations, nil
}

// ListCampaignDonationRefs walks the campaign donation index.
func (r *PostgresRepository) ListCampaignDonationRefs(ctx context.Context, campaignID uuid.UUID, unrefundedOnly bool, limit int) ([]domain.DonationRef, error) {
	query := `
		SELECT i.donor_id, i.donation_id, d.amount, d.refunded
		FROM campaign_donation_index i
		JOIN donations d ON d.donor_id = i.donor_id AND d.id = i.donation_id
		WHERE i.campaign_id = $1 AND ($2 = FALSE OR d.refunded = FALSE)
		ORDER BY i.created_at, i.donation_id
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, campaignID, unrefundedOnly, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list campaign donation refs", err)
	}
	defer rows.Close()

	refs := make([]domain.DonationRef, 0)
	for rows.Next() {
		var ref domain.DonationRef
		if err := rows.Scan(&ref.DonorID, &ref.DonationID, &ref.Amount, &ref.Refunded); err != nil {
			return nil, classify("scan donation ref", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate donation refs", err)
	}
	return refs, nil
}

// MarkDonationRefunded flips refunded false to true on the donor partition row.
// The owning campaign must be failed.
func (r *PostgresRepository) MarkDonationRefunded(ctx context.Context, donorID string, donationID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE donations d
		SET refunded = TRUE, refunded_at = $3
		WHERE d.donor_id = $1 AND d.id = $2 AND d.refunded = FALSE
		  AND EXISTS (SELECT 1 FROM campaigns c WHERE c.id = d.campaign_id AND c.status = 'failed')
	`, donorID, donationID, at)
	if err != nil {
		return false, classify("mark donation refunded", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var refunded bool
	err = r.db.QueryRow(ctx,
		`SELECT refunded FROM donations WHERE donor_id = $1 AND id = $2`,
		donorID, donationID,
	).Scan(&refunded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrDonationNotFound
		}
		return false, classify("check donation refund", err)
	}
	if !refunded {
		return false, fmt.Errorf("refund donation %s: campaign is not failed: %w", donationID, domain.ErrInvalidState)
	}
	return false, nil
}

// CountUnrefundedDonations counts indexed donations of the campaign not yet refunded.
func (r *PostgresRepository) CountUnrefundedDonations(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM campaign_donation_index i
		JOIN donations d ON d.donor_id = i.donor_id AND d.id = i.donation_id
		WHERE i.campaign_id = $1 AND d.refunded = FALSE
	`, campaignID).Scan(&count)
	if err != nil {
		return 0, classify("count unrefunded donations", err)
	}
	return count, nil
}

// ListFailedCampaignsWithUnrefundedDonations finds failed campaigns whose refund saga has not completed.
func (r *PostgresRepository) ListFailedCampaignsWithUnrefundedDonations(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.id
		FROM campaigns c
		WHERE c.status = 'failed'
		  AND EXISTS (
			SELECT 1
			FROM campaign_donation_index i
			JOIN donations d ON d.donor_id = i.donor_id AND d.id = i.donation_id
			WHERE i.campaign_id = c.id AND d.refunded = FALSE
		  )
		ORDER BY c.closed_at NULLS FIRST, c.id
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list failed campaigns", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan failed campaign", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate failed campaigns", err)
	}
	return ids, nil
}

// ListUnappliedDonations finds committed donations missing a propagation step.
func (r *PostgresRepository) ListUnappliedDonations(ctx context.Context, olderThan time.Time, limit int) ([]domain.Donation, error) {
	query := `
		SELECT ` + prefixColumns("d", donationColumns) + `
		FROM donations d
		LEFT JOIN campaign_total_applications ca ON ca.campaign_id = d.campaign_id AND ca.donation_id = d.id
		LEFT JOIN donor_aggregate_applications da ON da.donor_id = d.donor_id AND da.donation_id = d.id
		WHERE d.created_at <= $1 AND (ca.donation_id IS NULL OR da.donation_id IS NULL)
		ORDER BY d.created_at, d.id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list unapplied donations", err)
	}
	donations, err := collectDonations(rows)
	if err != nil {
		return nil, classify("scan unapplied donations", err)
	}
	return donations, nil
}

// UpsertDonorAggregate records the application row and folds the amount into the aggregate.
func (r *PostgresRepository) UpsertDonorAggregate(ctx context.Context, donationID uuid.UUID, donorID, donorName string, amount decimal.Decimal, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, classify("begin donor upsert", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO donor_aggregate_applications (donor_id, donation_id, amount, applied_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (donor_id, donation_id) DO NOTHING
	`, donorID, donationID, amount.String())
	if err != nil {
		return false, classify("record donor application", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO donor_aggregates (donor_id, donor_name, total_donated_amount, donation_count, first_donation_at, last_donation_at)
		VALUES ($1, $2, $3::numeric, 1, $4, $4)
		ON CONFLICT (donor_id) DO UPDATE SET
			donor_name = CASE WHEN EXCLUDED.donor_name = '' THEN donor_aggregates.donor_name ELSE EXCLUDED.donor_name END,
			total_donated_amount = donor_aggregates.total_donated_amount + EXCLUDED.total_donated_amount,
			donation_count = donor_aggregates.donation_count + 1,
			first_donation_at = LEAST(donor_aggregates.first_donation_at, EXCLUDED.first_donation_at),
			last_donation_at = GREATEST(donor_aggregates.last_donation_at, EXCLUDED.last_donation_at)
	`, donorID, donorName, amount.String(), at)
	if err != nil {
		return false, classify("upsert donor aggregate", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, classify("commit donor upsert", err)
	}
	return true, nil
}

const donorAggregateColumns = `
	donor_id, donor_name, total_donated_amount, donation_count, first_donation_at, last_donation_at
`

// FindDonorAggregate retrieves one donor's aggregate.
func (r *PostgresRepository) FindDonorAggregate(ctx context.Context, donorID string) (*domain.DonorAggregate, error) {
	var a domain.DonorAggregate
	err := r.db.QueryRow(ctx,
		`SELECT `+donorAggregateColumns+` FROM donor_aggregates WHERE donor_id = $1`, donorID,
	).Scan(&a.DonorID, &a.DonorName, &a.TotalDonatedAmount, &a.DonationCount, &a.FirstDonationAt, &a.LastDonationAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonorAggregateNotFound
		}
		return nil, classify("find donor aggregate", err)
	}
	return &a, nil
}

// ListTopDonors returns the largest donors.
func (r *PostgresRepository) ListTopDonors(ctx context.Context, limit int) ([]domain.DonorAggregate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+donorAggregateColumns+` FROM donor_aggregates
		ORDER BY total_donated_amount DESC, donor_name ASC, donor_id ASC
		LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list top donors", err)
	}
	defer rows.Close()

	aggregates := make([]domain.DonorAggregate, 0)
	for rows.Next() {
		var a domain.DonorAggregate
		if err := rows.Scan(&a.DonorID, &a.DonorName, &a.TotalDonatedAmount, &a.DonationCount, &a.FirstDonationAt, &a.LastDonationAt); err != nil {
			return nil, classify("scan donor aggregate", err)
		}
		aggregates = append(aggregates, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate donor aggregates", err)
	}
	return aggregates, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func nonNilUpdates(updates []domain.DistributionUpdate) []domain.DistributionUpdate {
	if updates == nil {
		return []domain.DistributionUpdate{}
	}
	return updates
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

// classify wraps a driver error with the ledger error it maps to.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := storeErrorKind(err); kind != nil {
		return fmt.Errorf("%s: %w: %w", op, kind, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func storeErrorKind(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
			return domain.ErrConcurrencyConflict
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57P03":
			return domain.ErrStoreUnavailable
		default:
			return nil
		}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.ErrStoreUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrStoreUnavailable
	}
	return nil
}
