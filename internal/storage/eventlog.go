package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/echotrack/attribution/internal/models"
)

// TouchpointLog streams raw touchpoint events into ClickHouse for offline
// analytics. It is write-only from the service's point of view; reporting
// queries run directly against the warehouse.
type TouchpointLog struct {
	conn driver.Conn
}

// NewTouchpointLog creates an event log over an open ClickHouse connection.
func NewTouchpointLog(conn driver.Conn) *TouchpointLog {
	return &TouchpointLog{conn: conn}
}

// EnsureEventSchema creates the touchpoint_events table when missing.
func EnsureEventSchema(ctx context.Context, conn driver.Conn) error {
	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS touchpoint_events (
			workspace_id String,
			visitor_id   String,
			session_id   String,
			ts           DateTime64(3, 'UTC'),
			source       String,
			medium       String,
			campaign     String,
			term         String,
			content      String,
			source_type  String,
			is_paid      UInt8,
			referrer     String,
			landing_page String,
			geo_country  String,
			geo_city     String
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(ts)
		ORDER BY (workspace_id, ts)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure event schema: %w", err)
	}
	return nil
}

func (l *TouchpointLog) AppendEvent(ctx context.Context, visit *models.RawVisit, tp models.Touchpoint) error {
	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO touchpoint_events
			(workspace_id, visitor_id, session_id, ts, source, medium, campaign,
			 term, content, source_type, is_paid, referrer, landing_page,
			 geo_country, geo_city)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event batch: %w", err)
	}

	isPaid := uint8(0)
	if tp.IsPaid {
		isPaid = 1
	}

	if err := batch.Append(
		visit.WorkspaceID,
		visit.VisitorID,
		visit.SessionID,
		tp.Timestamp,
		tp.Source,
		tp.Medium,
		tp.Campaign,
		tp.Term,
		tp.Content,
		string(tp.SourceType),
		isPaid,
		tp.Referrer,
		tp.LandingPage,
		tp.GeoCountry,
		tp.GeoCity,
	); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send event batch: %w", err)
	}
	return nil
}
