// Package postgres implements store.Store against a PostgreSQL schema
// (events / streams / stream_memberships), using the entgo.io/ent/dialect/sql
// query builder directly — without entc code generation — for statement
// construction, and the standard database/sql Tx/QueryRow/Exec surface for
// execution. Concurrent claims use optimistic (stream_id, state_version)
// compare-and-swap, mirroring the original system's process_ready_streams
// claim loop; AppendEvent's Collecting-stream lookup locks rows with
// FOR UPDATE SKIP LOCKED, after the teacher's claim pattern.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entdialect "entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/stacktach/oahu/pkg/database"
	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/events"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
)

var dialectBuilder = entsql.Dialect(entdialect.Postgres)

// Store is a durable, multi-process-safe store.Store backed by PostgreSQL.
type Store struct {
	db        *sql.DB
	publisher *events.Publisher // optional; nil means no WebSocket fanout
}

// New wraps a *database.Client's connection pool as a store.Store.
func New(client *database.Client) *Store {
	return &Store{db: client.DB()}
}

// SetPublisher attaches a Publisher so every successful state transition
// also broadcasts a stream lifecycle event over PostgreSQL NOTIFY for
// pkg/events.ConnectionManager to fan out to WebSocket clients. Publishing
// is best-effort: a failure is logged, never returned to the caller, since
// stream state itself is already durably committed by the time it fires.
func (s *Store) SetPublisher(p *events.Publisher) {
	s.publisher = p
}

func (s *Store) publish(ctx context.Context, streamID, triggerName, eventType string, state stream.State) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishStreamEvent(ctx, events.StreamLifecyclePayload{
		Type:        eventType,
		StreamID:    streamID,
		TriggerName: triggerName,
		State:       state.String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("failed to publish stream lifecycle event", "stream_id", streamID, "error", err)
	}
}

// eventTypeForState maps a stream state to the lifecycle event type a
// transition into it broadcasts.
func eventTypeForState(s stream.State) string {
	switch s {
	case stream.Collecting:
		return events.EventTypeStreamCreated
	case stream.Ready:
		return events.EventTypeStreamReady
	case stream.Triggered:
		return events.EventTypeStreamTriggered
	case stream.Processed:
		return events.EventTypeStreamProcessed
	case stream.Error:
		return events.EventTypeStreamError
	case stream.CommitError:
		return events.EventTypeStreamCommitError
	default:
		return ""
	}
}

// encodeEvent serializes an event.Event as the payload column's JSON.
// Fields flow through as-is; decodeEvent turns "timestamp", which json
// round-trips as a string, back into a time.Time.
func encodeEvent(e event.Event) ([]byte, error) {
	return json.Marshal(map[string]any(e))
}

func decodeEvent(data []byte) (event.Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	if ts, ok := raw["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			raw["timestamp"] = parsed
		}
	}
	return event.Event(raw), nil
}

func encodeTraits(t stream.IdentifyingTraits) ([]byte, error) {
	return json.Marshal(map[string]string(t))
}

func decodeTraits(data []byte) (stream.IdentifyingTraits, error) {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode identifying traits: %w", err)
	}
	return stream.IdentifyingTraits(m), nil
}

// SaveEvent implements store.Store.
func (s *Store) SaveEvent(ctx context.Context, e event.Event) error {
	id, err := e.UniqueID()
	if err != nil {
		return err
	}
	payload, err := encodeEvent(e)
	if err != nil {
		return err
	}

	query, args := dialectBuilder.
		Insert("events").
		Columns("unique_id", "payload", "event_timestamp").
		Values(id, payload, e.Timestamp()).
		OnConflict(
			entsql.ConflictColumns("unique_id"),
			entsql.ResolveWithIgnore(),
		).
		Query()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if n == 0 {
		return store.ErrDuplicateEvent
	}
	return nil
}

// AppendEvent implements store.Store.
func (s *Store) AppendEvent(ctx context.Context, triggerName string, traits stream.IdentifyingTraits, e event.Event, now time.Time) (*stream.Stream, bool, error) {
	eventID, err := e.UniqueID()
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args := dialectBuilder.
		Select("id", "state_version", "identifying_traits", "created_at", "last_update").
		From(entsql.Table("streams")).
		Where(entsql.And(
			entsql.EQ("trigger_name", triggerName),
			entsql.EQ("state", int(stream.Collecting)),
		)).
		ForUpdate(entsql.WithLockAction(entsql.SkipLocked)).
		Query()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("scan collecting streams: %w", err)
	}

	var target *stream.Stream
	for rows.Next() {
		var (
			id, createdAt, lastUpdate = "", time.Time{}, time.Time{}
			version                   int64
			rawTraits                 []byte
		)
		if err := rows.Scan(&id, &version, &rawTraits, &createdAt, &lastUpdate); err != nil {
			_ = rows.Close()
			return nil, false, fmt.Errorf("scan collecting stream row: %w", err)
		}
		candTraits, err := decodeTraits(rawTraits)
		if err != nil {
			_ = rows.Close()
			return nil, false, err
		}
		cand := &stream.Stream{
			ID: id, TriggerName: triggerName, State: stream.Collecting,
			StateVersion: version, IdentifyingTraits: candTraits,
			CreatedAt: createdAt, LastUpdate: lastUpdate,
		}
		if cand.Matches(traits) {
			target = cand
			break
		}
	}
	if err := rows.Close(); err != nil {
		return nil, false, fmt.Errorf("close collecting stream rows: %w", err)
	}

	created := false
	if target == nil {
		target = stream.New(triggerName, traits, now)
		rawTraits, err := encodeTraits(traits)
		if err != nil {
			return nil, false, err
		}
		q, a := dialectBuilder.
			Insert("streams").
			Columns("id", "trigger_name", "state", "state_version", "identifying_traits", "created_at", "last_update").
			Values(target.ID, triggerName, int(stream.Collecting), int64(0), rawTraits, now, now).
			Query()
		if _, err := tx.ExecContext(ctx, q, a...); err != nil {
			return nil, false, fmt.Errorf("insert stream: %w", err)
		}
		created = true
	} else {
		target.LastUpdate = now
		q, a := dialectBuilder.
			Update("streams").
			Set("last_update", now).
			Where(entsql.EQ("id", target.ID)).
			Query()
		if _, err := tx.ExecContext(ctx, q, a...); err != nil {
			return nil, false, fmt.Errorf("touch stream: %w", err)
		}
	}

	var seq int64
	seqQuery, seqArgs := dialectBuilder.
		Select("count(*)").
		From(entsql.Table("stream_memberships")).
		Where(entsql.EQ("stream_id", target.ID)).
		Query()
	if err := tx.QueryRowContext(ctx, seqQuery, seqArgs...).Scan(&seq); err != nil {
		return nil, false, fmt.Errorf("count memberships: %w", err)
	}

	mq, ma := dialectBuilder.
		Insert("stream_memberships").
		Columns("stream_id", "event_id", "sequence", "added_at").
		Values(target.ID, eventID, seq, now).
		Query()
	if _, err := tx.ExecContext(ctx, mq, ma...); err != nil {
		return nil, false, fmt.Errorf("insert membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit append: %w", err)
	}

	if created {
		s.publish(ctx, target.ID, triggerName, events.EventTypeStreamCreated, stream.Collecting)
	}

	cp := *target
	return &cp, created, nil
}

// LoadEvents implements store.Store.
func (s *Store) LoadEvents(ctx context.Context, streamID string) ([]event.Event, error) {
	query, args := dialectBuilder.
		Select("e.unique_id", "e.payload", "e.event_timestamp").
		From(entsql.Table("stream_memberships").As("m")).
		Join(entsql.Table("events").As("e")).
		On("m.event_id", "e.unique_id").
		Where(entsql.EQ("m.stream_id", streamID)).
		OrderBy("m.sequence").
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var id string
		var payload []byte
		var ts time.Time
		if err := rows.Scan(&id, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e, err := decodeEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanStream(row interface {
	Scan(dest ...any) error
}) (*stream.Stream, error) {
	var (
		id, triggerName string
		state           int
		version         int64
		rawTraits       []byte
		createdAt       time.Time
		lastUpdate      time.Time
		lastError       sql.NullString
		commitErrors    int
	)
	if err := row.Scan(&id, &triggerName, &state, &version, &rawTraits, &createdAt, &lastUpdate, &lastError, &commitErrors); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan stream: %w", err)
	}
	traits, err := decodeTraits(rawTraits)
	if err != nil {
		return nil, err
	}
	return &stream.Stream{
		ID: id, TriggerName: triggerName, State: stream.State(state),
		StateVersion: version, IdentifyingTraits: traits,
		CreatedAt: createdAt, LastUpdate: lastUpdate,
		LastError: lastError.String, CommitErrors: commitErrors,
	}, nil
}

var streamColumns = []string{"id", "trigger_name", "state", "state_version", "identifying_traits", "created_at", "last_update", "last_error", "commit_errors"}

// GetStream implements store.Store.
func (s *Store) GetStream(ctx context.Context, streamID string) (*stream.Stream, error) {
	query, args := dialectBuilder.
		Select(streamColumns...).
		From(entsql.Table("streams")).
		Where(entsql.EQ("id", streamID)).
		Query()
	return scanStream(s.db.QueryRowContext(ctx, query, args...))
}

func scanStreamRows(rows *sql.Rows) ([]*stream.Stream, error) {
	defer rows.Close()
	var out []*stream.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// FindStreams implements store.Store.
func (s *Store) FindStreams(ctx context.Context, triggerName string, state stream.State, limit int) ([]*stream.Stream, error) {
	sel := dialectBuilder.
		Select(streamColumns...).
		From(entsql.Table("streams")).
		Where(entsql.And(
			entsql.EQ("trigger_name", triggerName),
			entsql.EQ("state", int(state)),
		))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	query, args := sel.Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find streams: %w", err)
	}
	return scanStreamRows(rows)
}

// CollectingStreams implements store.Store using a (last_update, id) keyset
// cursor — avoiding numeric-offset wraparound across repeated periodic
// sweeps entirely, rather than trying to detect it.
func (s *Store) CollectingStreams(ctx context.Context, triggerName string, cursor *store.Cursor, chunkSize int) ([]*stream.Stream, *store.Cursor, error) {
	pred := entsql.And(
		entsql.EQ("trigger_name", triggerName),
		entsql.EQ("state", int(stream.Collecting)),
	)
	if cursor != nil {
		pred = entsql.And(pred, entsql.Or(
			entsql.GT("last_update", cursor.UpdatedAt),
			entsql.And(entsql.EQ("last_update", cursor.UpdatedAt), entsql.GT("id", cursor.ID)),
		))
	}

	sel := dialectBuilder.
		Select(streamColumns...).
		From(entsql.Table("streams")).
		Where(pred).
		OrderBy("last_update", "id")
	if chunkSize > 0 {
		sel = sel.Limit(chunkSize)
	}
	query, args := sel.Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("collecting streams: %w", err)
	}
	streams, err := scanStreamRows(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *store.Cursor
	if chunkSize > 0 && len(streams) == chunkSize {
		last := streams[len(streams)-1]
		next = &store.Cursor{UpdatedAt: last.LastUpdate, ID: last.ID}
	}
	return streams, next, nil
}

// transition performs a CAS state transition, folding the legal-source-state
// check into the WHERE clause alongside the state_version compare-and-swap.
func (s *Store) transition(ctx context.Context, streamID string, expectedVersion int64, from, to stream.State) error {
	return s.transitionWithError(ctx, streamID, expectedVersion, from, to, "", false)
}

// transitionWithError performs the same CAS transition as transition, and
// additionally persists msg as last_error (when non-empty) and bumps
// commit_errors when bumpCommitErrors is set — used by MarkError and
// MarkCommitError.
func (s *Store) transitionWithError(ctx context.Context, streamID string, expectedVersion int64, from, to stream.State, msg string, bumpCommitErrors bool) error {
	upd := dialectBuilder.
		Update("streams").
		Set("state", int(to)).
		Set("state_version", expectedVersion+1).
		Set("last_update", time.Now().UTC())
	if msg != "" {
		upd = upd.Set("last_error", msg)
	}
	if bumpCommitErrors {
		upd = upd.Set("commit_errors", entsql.Raw("commit_errors + 1"))
	}
	query, args := upd.
		Where(entsql.And(
			entsql.EQ("id", streamID),
			entsql.EQ("state", int(from)),
			entsql.EQ("state_version", expectedVersion),
		)).
		Query()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition stream: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: distinguish "doesn't exist" from "lost the race".
	if _, err := s.GetStream(ctx, streamID); err != nil {
		return err
	}
	return store.ErrConflict
}

// publishTransition looks up the stream's trigger name and broadcasts the
// lifecycle event for a transition that just committed. Best-effort and
// skipped entirely when no Publisher is attached, so the common
// no-WebSocket-fanout path never pays for the extra lookup.
func (s *Store) publishTransition(ctx context.Context, streamID string, to stream.State) {
	if s.publisher == nil {
		return
	}
	st, err := s.GetStream(ctx, streamID)
	if err != nil {
		slog.Warn("failed to load stream for lifecycle publish", "stream_id", streamID, "error", err)
		return
	}
	s.publish(ctx, streamID, st.TriggerName, eventTypeForState(to), to)
}

// MarkReady implements store.Store.
func (s *Store) MarkReady(ctx context.Context, streamID string, expectedVersion int64) error {
	if err := s.transition(ctx, streamID, expectedVersion, stream.Collecting, stream.Ready); err != nil {
		return err
	}
	s.publishTransition(ctx, streamID, stream.Ready)
	return nil
}

// ClaimReady implements store.Store.
func (s *Store) ClaimReady(ctx context.Context, streamID string, expectedVersion int64) error {
	if err := s.transition(ctx, streamID, expectedVersion, stream.Ready, stream.Triggered); err != nil {
		return err
	}
	s.publishTransition(ctx, streamID, stream.Triggered)
	return nil
}

// ReadyStreams implements store.Store.
func (s *Store) ReadyStreams(ctx context.Context, chunkSize int) ([]*stream.Stream, error) {
	sel := dialectBuilder.
		Select(streamColumns...).
		From(entsql.Table("streams")).
		Where(entsql.EQ("state", int(stream.Ready)))
	if chunkSize > 0 {
		sel = sel.Limit(chunkSize)
	}
	query, args := sel.Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ready streams: %w", err)
	}
	return scanStreamRows(rows)
}

// MarkProcessed implements store.Store.
func (s *Store) MarkProcessed(ctx context.Context, streamID string, expectedVersion int64) error {
	if err := s.transition(ctx, streamID, expectedVersion, stream.Triggered, stream.Processed); err != nil {
		return err
	}
	s.publishTransition(ctx, streamID, stream.Processed)
	return nil
}

// MarkError implements store.Store.
func (s *Store) MarkError(ctx context.Context, streamID string, expectedVersion int64, msg string) error {
	if err := s.transitionWithError(ctx, streamID, expectedVersion, stream.Triggered, stream.Error, msg, false); err != nil {
		return err
	}
	s.publishTransition(ctx, streamID, stream.Error)
	return nil
}

// MarkCommitError implements store.Store.
func (s *Store) MarkCommitError(ctx context.Context, streamID string, expectedVersion int64, msg string) error {
	if err := s.transitionWithError(ctx, streamID, expectedVersion, stream.Triggered, stream.CommitError, msg, true); err != nil {
		return err
	}
	s.publishTransition(ctx, streamID, stream.CommitError)
	return nil
}

// PurgeProcessed implements store.Store. Membership rows cascade-delete via
// the streams(id) foreign key; events are never touched (invariant I4).
func (s *Store) PurgeProcessed(ctx context.Context, chunkSize int) (int, error) {
	sub := dialectBuilder.
		Select("id").
		From(entsql.Table("streams")).
		Where(entsql.EQ("state", int(stream.Processed)))
	if chunkSize > 0 {
		sub = sub.Limit(chunkSize)
	}
	subQuery, subArgs := sub.Query()

	query := fmt.Sprintf(`DELETE FROM streams WHERE id IN (%s)`, subQuery)
	res, err := s.db.ExecContext(ctx, query, subArgs...)
	if err != nil {
		return 0, fmt.Errorf("purge processed streams: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge processed streams: %w", err)
	}
	return int(n), nil
}

// NumActiveStreams implements store.Store.
func (s *Store) NumActiveStreams(ctx context.Context, triggerName string) (int, error) {
	query, args := dialectBuilder.
		Select("count(*)").
		From(entsql.Table("streams")).
		Where(entsql.And(
			entsql.EQ("trigger_name", triggerName),
			entsql.NEQ("state", int(stream.Processed)),
		)).
		Query()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active streams: %w", err)
	}
	return n, nil
}

// FlushAll implements store.Store.
func (s *Store) FlushAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE stream_memberships, streams, events CASCADE`)
	if err != nil {
		return fmt.Errorf("flush all: %w", err)
	}
	return nil
}
