package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/passkeep/passkeep/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Pool exposes the underlying pool for components that need their own
// statements (the capability store shares the connection pool).
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`, email))
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// --- Organizations ---

func (p *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization, owner *models.Member) error {
	settingsJSON, err := json.Marshal(org.Settings)
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO organizations (id, name, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		org.ID, org.Name, settingsJSON, org.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting organization: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO org_members (org_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		owner.OrgID, owner.UserID, owner.Role, owner.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, settings, created_at, updated_at FROM organizations WHERE id = $1`, id)
	var org models.Organization
	var settingsJSON []byte
	err := row.Scan(&org.ID, &org.Name, &settingsJSON, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
		return nil, fmt.Errorf("decoding org settings: %w", err)
	}
	return &org, nil
}

func (p *PostgresStore) UpdateOrganizationSettings(ctx context.Context, id string, settings models.OrgSettings) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE organizations SET settings = $1, updated_at = NOW() WHERE id = $2`,
		settingsJSON, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrganization cascades across all eight org-scoped tables in a
// single transaction submitted as one batch, so a partial cascade
// cannot be observed.
func (p *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM org_invitations WHERE org_id = $1`, id)
	b.Queue(`DELETE FROM emergency_requests WHERE contact_id IN (SELECT id FROM emergency_contacts WHERE org_id = $1)`, id)
	b.Queue(`DELETE FROM emergency_contacts WHERE org_id = $1`, id)
	b.Queue(`DELETE FROM share_links WHERE org_id = $1`, id)
	b.Queue(`DELETE FROM vault_items WHERE org_id = $1`, id)
	b.Queue(`DELETE FROM audit_log WHERE org_id = $1`, id)
	b.Queue(`DELETE FROM org_members WHERE org_id = $1`, id)
	b.Queue(`DELETE FROM organizations WHERE id = $1`, id)

	br := tx.SendBatch(ctx, b)
	var execErr error
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil && execErr == nil {
			execErr = err
		}
	}
	if err := br.Close(); err != nil && execErr == nil {
		execErr = err
	}
	if execErr != nil {
		return fmt.Errorf("deleting organization: %w", execErr)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetMember(ctx context.Context, orgID, userID string) (*models.Member, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE org_id = $1 AND user_id = $2`,
		orgID, userID,
	)
	var m models.Member
	err := row.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (p *PostgresStore) AddMember(ctx context.Context, m *models.Member) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO org_members (org_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		m.OrgID, m.UserID, m.Role, m.JoinedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*models.Member, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE org_id = $1 ORDER BY joined_at`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []*models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (p *PostgresStore) ListMembershipsForUser(ctx context.Context, userID string) ([]*models.Member, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT org_id, user_id, role, joined_at FROM org_members WHERE user_id = $1 ORDER BY joined_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []*models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// --- Invitations ---

func (p *PostgresStore) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO org_invitations (id, org_id, email, role, token_hash, invited_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID, inv.OrgID, inv.Email, inv.Role, inv.TokenHash, inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *PostgresStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, org_id, email, role, token_hash, invited_by, created_at, expires_at, used_at
		 FROM org_invitations WHERE token_hash = $1`,
		tokenHash,
	)
	return scanInvitation(row)
}

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.TokenHash,
		&inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (p *PostgresStore) MarkInvitationUsed(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE org_invitations SET used_at = $1 WHERE id = $2 AND used_at IS NULL`,
		usedAt, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListInvitations(ctx context.Context, orgID string) ([]*models.Invitation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, org_id, email, role, token_hash, invited_by, created_at, expires_at, used_at
		 FROM org_invitations WHERE org_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invs []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// --- Vault items ---

const itemColumns = `id, org_id, created_by, name, type, folder, ciphertext, created_at, updated_at, deleted_at`

func (p *PostgresStore) CreateItem(ctx context.Context, item *models.VaultItem) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO vault_items (id, org_id, created_by, name, type, folder, ciphertext, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		item.ID, item.OrgID, item.CreatedBy, item.Name, item.Type, item.Folder, item.Ciphertext, item.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetItem(ctx context.Context, id string) (*models.VaultItem, error) {
	return scanItem(p.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM vault_items WHERE id = $1`, id))
}

func scanItem(row pgx.Row) (*models.VaultItem, error) {
	var v models.VaultItem
	err := row.Scan(&v.ID, &v.OrgID, &v.CreatedBy, &v.Name, &v.Type, &v.Folder,
		&v.Ciphertext, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (p *PostgresStore) ListItems(ctx context.Context, orgID string) ([]*models.VaultItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM vault_items
		 WHERE org_id = $1 AND deleted_at IS NULL ORDER BY name`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*models.VaultItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *PostgresStore) UpdateItem(ctx context.Context, item *models.VaultItem) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE vault_items
		 SET name = $1, type = $2, folder = $3, ciphertext = $4, updated_at = $5
		 WHERE id = $6 AND deleted_at IS NULL`,
		item.Name, item.Type, item.Folder, item.Ciphertext, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SoftDeleteItem(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE vault_items SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		at, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Emergency access ---

const contactColumns = `id, org_id, user_id, email, name, wait_time_hours, status, created_at, revoked_at`

func (p *PostgresStore) CreateEmergencyContact(ctx context.Context, c *models.EmergencyContact) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO emergency_contacts (id, org_id, user_id, email, name, wait_time_hours, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrgID, c.UserID, c.Email, c.Name, c.WaitTimeHours, c.Status, c.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetEmergencyContact(ctx context.Context, id string) (*models.EmergencyContact, error) {
	return scanContact(p.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM emergency_contacts WHERE id = $1`, id))
}

func (p *PostgresStore) GetActiveContactByEmail(ctx context.Context, orgID, userID, email string) (*models.EmergencyContact, error) {
	return scanContact(p.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM emergency_contacts
		 WHERE org_id = $1 AND user_id = $2 AND email = $3 AND status = 'active'`,
		orgID, userID, email))
}

func scanContact(row pgx.Row) (*models.EmergencyContact, error) {
	var c models.EmergencyContact
	err := row.Scan(&c.ID, &c.OrgID, &c.UserID, &c.Email, &c.Name,
		&c.WaitTimeHours, &c.Status, &c.CreatedAt, &c.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) ListEmergencyContacts(ctx context.Context, orgID string) ([]*models.EmergencyContact, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM emergency_contacts WHERE org_id = $1 ORDER BY created_at`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var contacts []*models.EmergencyContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (p *PostgresStore) RevokeEmergencyContact(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE emergency_contacts SET status = 'revoked', revoked_at = $1
		 WHERE id = $2 AND status = 'active'`,
		at, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const requestColumns = `id, contact_id, reason, requested_at, grant_at, denied_at, denied_by`

func (p *PostgresStore) CreateEmergencyRequest(ctx context.Context, r *models.EmergencyRequest) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO emergency_requests (id, contact_id, reason, requested_at, grant_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.ContactID, r.Reason, r.RequestedAt, r.GrantAt,
	)
	return err
}

func (p *PostgresStore) GetEmergencyRequest(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	return scanRequest(p.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM emergency_requests WHERE id = $1`, id))
}

func (p *PostgresStore) LatestRequestByContact(ctx context.Context, contactID string) (*models.EmergencyRequest, error) {
	return scanRequest(p.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM emergency_requests
		 WHERE contact_id = $1 ORDER BY requested_at DESC LIMIT 1`,
		contactID))
}

func scanRequest(row pgx.Row) (*models.EmergencyRequest, error) {
	var r models.EmergencyRequest
	err := row.Scan(&r.ID, &r.ContactID, &r.Reason, &r.RequestedAt, &r.GrantAt, &r.DeniedAt, &r.DeniedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) ListEmergencyRequests(ctx context.Context, orgID string) ([]*models.EmergencyRequest, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.contact_id, r.reason, r.requested_at, r.grant_at, r.denied_at, r.denied_by
		 FROM emergency_requests r
		 JOIN emergency_contacts c ON c.id = r.contact_id
		 WHERE c.org_id = $1
		 ORDER BY r.requested_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []*models.EmergencyRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (p *PostgresStore) DenyEmergencyRequest(ctx context.Context, id, adminID string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE emergency_requests SET denied_at = $1, denied_by = $2
		 WHERE id = $3 AND denied_at IS NULL`,
		at, adminID, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Share links ---

const shareColumns = `id, item_id, org_id, created_by, recipient_email, password_hash, allow_copy,
	max_views, view_count, expires_at, last_viewed_at, revoked, created_at`

func (p *PostgresStore) CreateShareLink(ctx context.Context, l *models.ShareLink) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO share_links
		 (id, item_id, org_id, created_by, recipient_email, password_hash, allow_copy, max_views, view_count, expires_at, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, FALSE, $10)`,
		l.ID, l.ItemID, l.OrgID, l.CreatedBy, l.RecipientEmail, l.PasswordHash,
		l.AllowCopy, l.MaxViews, l.ExpiresAt, l.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetShareLink(ctx context.Context, id string) (*models.ShareLink, error) {
	return scanShareLink(p.pool.QueryRow(ctx,
		`SELECT `+shareColumns+` FROM share_links WHERE id = $1`, id))
}

func scanShareLink(row pgx.Row) (*models.ShareLink, error) {
	var l models.ShareLink
	err := row.Scan(&l.ID, &l.ItemID, &l.OrgID, &l.CreatedBy, &l.RecipientEmail,
		&l.PasswordHash, &l.AllowCopy, &l.MaxViews, &l.ViewCount, &l.ExpiresAt,
		&l.LastViewedAt, &l.Revoked, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (p *PostgresStore) ListShareLinks(ctx context.Context, orgID string) ([]*models.ShareLink, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+shareColumns+` FROM share_links WHERE org_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []*models.ShareLink
	for rows.Next() {
		l, err := scanShareLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (p *PostgresStore) RevokeShareLink(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE share_links SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) IncrementShareViews(ctx context.Context, id string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE share_links SET view_count = view_count + 1, last_viewed_at = $1 WHERE id = $2`,
		at, id,
	)
	return err
}

// --- Audit ---

func (p *PostgresStore) WriteAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (action, org_id, user_id, target_id, client_ip, metadata, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)`,
		e.Action, e.OrgID, e.UserID, e.TargetID, e.ClientIP, metaJSON, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, action, COALESCE(org_id, ''), COALESCE(user_id, ''), COALESCE(target_id, ''), client_ip, metadata, created_at FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.OrgID != "" {
		fmt.Fprintf(&query, ` AND org_id = $%d`, n)
		args = append(args, filter.OrgID)
		n++
	}
	if filter.Action != "" {
		fmt.Fprintf(&query, ` AND action = $%d`, n)
		args = append(args, filter.Action)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND created_at >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.OrgID, &e.UserID, &e.TargetID,
			&e.ClientIP, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Metrics ---

func (p *PostgresStore) CountItems(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vault_items WHERE deleted_at IS NULL`).Scan(&count)
	return count, err
}

func (p *PostgresStore) CountActiveShareLinks(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM share_links WHERE NOT revoked AND expires_at > NOW()`).Scan(&count)
	return count, err
}
