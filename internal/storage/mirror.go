package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/mirror"
)

const (
	mirrorInboundsTable = "mirror_inbounds"
	mirrorClientsTable  = "mirror_clients"
)

var (
	mirrorInboundRowFields = fields(mirrorInboundRow{})
	mirrorClientRowFields  = fields(mirrorClientRow{})

	mirrorInboundColumns = []string{
		"server_id", "remote_id", "port", "protocol", "transport", "security", "remark", "enable",
		"expiry_time", "up", "down", "total", "settings", "stream_settings", "sniffing",
	}
	mirrorClientColumns = []string{
		"inbound_id", "credential", "email", "total_bytes", "up", "down", "expiry_time", "enable",
		"sub_id", "limit_ip", "flow", "removed_at",
	}
)

type mirrorInboundRow struct {
	ID             int64     `db:"id"`
	ServerID       int64     `db:"server_id"`
	RemoteID       int       `db:"remote_id"`
	Port           int       `db:"port"`
	Protocol       string    `db:"protocol"`
	Transport      string    `db:"transport"`
	Security       string    `db:"security"`
	Remark         string    `db:"remark"`
	Enable         bool      `db:"enable"`
	ExpiryTime     int64     `db:"expiry_time"`
	Up             int64     `db:"up"`
	Down           int64     `db:"down"`
	Total          int64     `db:"total"`
	Settings       string    `db:"settings"`
	StreamSettings string    `db:"stream_settings"`
	Sniffing       string    `db:"sniffing"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r mirrorInboundRow) ToModel() *mirror.Inbound {
	return &mirror.Inbound{
		ID:             r.ID,
		ServerID:       r.ServerID,
		RemoteID:       r.RemoteID,
		Port:           r.Port,
		Protocol:       panel.Protocol(r.Protocol),
		Transport:      r.Transport,
		Security:       r.Security,
		Remark:         r.Remark,
		Enable:         r.Enable,
		ExpiryTime:     r.ExpiryTime,
		Up:             r.Up,
		Down:           r.Down,
		Total:          r.Total,
		Settings:       r.Settings,
		StreamSettings: r.StreamSettings,
		Sniffing:       r.Sniffing,
		UpdatedAt:      r.UpdatedAt,
	}
}

type mirrorClientRow struct {
	ID         int64      `db:"id"`
	InboundID  int64      `db:"inbound_id"`
	Credential string     `db:"credential"`
	Email      string     `db:"email"`
	TotalBytes int64      `db:"total_bytes"`
	Up         int64      `db:"up"`
	Down       int64      `db:"down"`
	ExpiryTime int64      `db:"expiry_time"`
	Enable     bool       `db:"enable"`
	SubID      string     `db:"sub_id"`
	LimitIP    int        `db:"limit_ip"`
	Flow       string     `db:"flow"`
	RemovedAt  *time.Time `db:"removed_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r mirrorClientRow) ToModel() *mirror.Client {
	return &mirror.Client{
		ID:         r.ID,
		InboundID:  r.InboundID,
		Credential: r.Credential,
		Email:      r.Email,
		TotalBytes: r.TotalBytes,
		Up:         r.Up,
		Down:       r.Down,
		ExpiryTime: r.ExpiryTime,
		Enable:     r.Enable,
		SubID:      r.SubID,
		LimitIP:    r.LimitIP,
		Flow:       r.Flow,
		RemovedAt:  r.RemovedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// upsertSuffix builds an ON CONFLICT clause that only rewrites the row when
// one of cols differs, so replaying a snapshot changes nothing.
func upsertSuffix(table string, conflict []string, cols []string) string {
	sets := make([]string, 0, len(cols)+1)
	diffs := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		diffs = append(diffs, fmt.Sprintf("%s.%s IS NOT excluded.%s", table, c, c))
	}
	sets = append(sets, "updated_at = excluded.updated_at")
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s WHERE %s",
		strings.Join(conflict, ", "), strings.Join(sets, ", "), strings.Join(diffs, " OR "))
}

var (
	inboundUpsert = upsertSuffix(mirrorInboundsTable, []string{"server_id", "port"}, mirrorInboundColumns[1:])
	clientUpsert  = upsertSuffix(mirrorClientsTable, []string{"inbound_id", "credential"}, mirrorClientColumns[2:])
)

func (s *storageImpl) UpsertSnapshots(ctx context.Context, serverID int64, snapshots []mirror.Snapshot) (mirror.WriteStats, error) {
	var stats mirror.WriteStats
	now := s.now()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		stats = mirror.WriteStats{}
		for _, snap := range snapshots {
			in := snap.Inbound
			n, err := s.execUpsert(ctx, tx, mirrorInboundsTable, mirrorInboundColumns, inboundUpsert, now,
				serverID, in.RemoteID, in.Port, string(in.Protocol), in.Transport, in.Security, in.Remark, in.Enable,
				in.ExpiryTime, in.Up, in.Down, in.Total, in.Settings, in.StreamSettings, in.Sniffing)
			if err != nil {
				return err
			}
			stats.Inbounds += n

			inboundID, err := s.inboundID(ctx, tx, serverID, in.Port)
			if err != nil {
				return err
			}

			for _, c := range snap.Clients {
				n, err := s.execUpsert(ctx, tx, mirrorClientsTable, mirrorClientColumns, clientUpsert, now,
					inboundID, c.Credential, c.Email, c.TotalBytes, c.Up, c.Down, c.ExpiryTime, c.Enable,
					c.SubID, c.LimitIP, c.Flow, nil)
				if err != nil {
					return err
				}
				stats.Clients += n
			}
		}
		return nil
	})
	if err != nil {
		return mirror.WriteStats{}, err
	}
	return stats, nil
}

func (s *storageImpl) execUpsert(ctx context.Context, tx *sqlx.Tx, table string, cols []string, suffix string, now time.Time, values ...interface{}) (int, error) {
	q, args, err := s.stmpBuilder().
		Insert(table).
		Columns(append(append([]string(nil), cols...), "updated_at")...).
		Values(append(values, now)...).
		Suffix(suffix).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sql query: %w", err)
	}

	result, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("tx.ExecContext: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return int(n), nil
}

func (s *storageImpl) inboundID(ctx context.Context, tx *sqlx.Tx, serverID int64, port int) (int64, error) {
	q, args, err := s.stmpBuilder().
		Select("id").
		From(mirrorInboundsTable).
		Where(sq.Eq{"server_id": serverID, "port": port}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sql query: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("tx.QueryRowContext: %w", err)
	}
	return id, nil
}

func applyInboundCriteria(query sq.SelectBuilder, criteria mirror.InboundCriteria) sq.SelectBuilder {
	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.ServerID != nil {
		query = query.Where(sq.Eq{"server_id": *criteria.ServerID})
	}
	if criteria.Port != nil {
		query = query.Where(sq.Eq{"port": *criteria.Port})
	}
	return query
}

func (s *storageImpl) GetInbound(ctx context.Context, criteria mirror.InboundCriteria) (*mirror.Inbound, error) {
	query := applyInboundCriteria(s.stmpBuilder().Select(mirrorInboundRowFields).From(mirrorInboundsTable).Limit(1), criteria)

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row mirrorInboundRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}
	return row.ToModel(), nil
}

func (s *storageImpl) ListInbounds(ctx context.Context, criteria mirror.InboundCriteria) ([]*mirror.Inbound, error) {
	query := applyInboundCriteria(s.stmpBuilder().Select(mirrorInboundRowFields).From(mirrorInboundsTable), criteria).
		OrderBy("server_id ASC", "port ASC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []mirrorInboundRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*mirror.Inbound, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}

func (s *storageImpl) ListClients(ctx context.Context, criteria mirror.ClientCriteria) ([]*mirror.Client, error) {
	query := s.stmpBuilder().
		Select(mirrorClientRowFields).
		From(mirrorClientsTable).
		OrderBy("id ASC")

	if criteria.InboundID != nil {
		query = query.Where(sq.Eq{"inbound_id": *criteria.InboundID})
	}
	if criteria.ServerID != nil {
		sub := s.stmpBuilder().Select("id").From(mirrorInboundsTable).Where(sq.Eq{"server_id": *criteria.ServerID})
		subQ, subArgs, err := sub.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build sql query: %w", err)
		}
		query = query.Where("inbound_id IN ("+subQ+")", subArgs...)
	}
	if criteria.Credential != nil {
		query = query.Where(sq.Eq{"credential": *criteria.Credential})
	}
	if !criteria.IncludeRemoved {
		query = query.Where(sq.Eq{"removed_at": nil})
	}
	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []mirrorClientRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*mirror.Client, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}
	return result, nil
}

func (s *storageImpl) MarkClientRemoved(ctx context.Context, inboundID int64, credential string, at time.Time) error {
	q, args, err := s.stmpBuilder().
		Update(mirrorClientsTable).
		Set("removed_at", at).
		Set("updated_at", s.now()).
		Where(sq.Eq{"inbound_id": inboundID, "credential": credential, "removed_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}
	return nil
}
