package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryService turns SurrealDB LIVE SELECT notifications into store.Feed
// deltas.
type LiveQueryService struct {
	db     DBConnection
	logger *slog.Logger

	subscriptions sync.Map // map[string]*subscriptionState
}

type subscriptionState struct {
	id          string
	topic       store.Topic
	filter      store.Filter
	handler     store.Handler
	cancel      context.CancelFunc
	liveQueryID string
	done        chan struct{}
}

// NewLiveQueryService creates a new live query service
func NewLiveQueryService(db DBConnection, logger *slog.Logger) *LiveQueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveQueryService{db: db, logger: logger.With("component", "live_query")}
}

// Subscribe implements store.Feed. A room filter is pushed down into the
// LIVE SELECT so other rooms never cross the wire.
func (s *LiveQueryService) Subscribe(ctx context.Context, topic store.Topic, filter store.Filter, handler store.Handler) (store.Subscription, error) {
	if handler == nil {
		return store.Subscription{}, fmt.Errorf("handler cannot be nil")
	}
	query, params := liveQuery(topic, filter)

	subID := uuid.New().String()
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &subscriptionState{
		id:      subID,
		topic:   topic,
		filter:  filter,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	err := s.db.WithConnection(ctx, func(dbConn *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, dbConn, query, params)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return fmt.Errorf("live query returned no results")
		}
		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}
		state.liveQueryID = liveQueryID(result.Result)
		if state.liveQueryID == "" {
			return fmt.Errorf("unexpected live query result type: %T", result.Result)
		}

		notifications, err := dbConn.LiveNotifications(state.liveQueryID)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		go s.listen(subCtx, state, notifications)
		go s.killOnCancel(subCtx, dbConn, state)
		return nil
	})
	if err != nil {
		cancel()
		return store.Subscription{}, store.NewError(store.CodeUnavailable, "subscribe:"+string(topic), err)
	}

	s.subscriptions.Store(subID, state)
	s.logger.DebugContext(ctx, "Live query established", "sub_id", subID, "topic", topic, "live_query_id", state.liveQueryID)
	return store.Subscription{ID: subID, Topic: topic, Filter: filter}, nil
}

// Unsubscribe implements store.Feed. The KILL is issued in the background.
func (s *LiveQueryService) Unsubscribe(sub store.Subscription) error {
	if state, ok := s.subscriptions.LoadAndDelete(sub.ID); ok {
		state.(*subscriptionState).cancel()
		s.logger.Debug("Live query subscription removed", "sub_id", sub.ID)
	}
	return nil
}

// Close cancels every subscription.
func (s *LiveQueryService) Close() {
	s.subscriptions.Range(func(key, value any) bool {
		value.(*subscriptionState).cancel()
		s.subscriptions.Delete(key)
		return true
	})
}

func (s *LiveQueryService) killOnCancel(ctx context.Context, dbConn *surrealdb.DB, state *subscriptionState) {
	<-ctx.Done()
	<-state.done

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dbConn.CloseLiveNotifications(state.liveQueryID); err != nil {
		s.logger.Warn("Failed to close live notifications", "error", err, "live_query_id", state.liveQueryID)
	}
	if err := Execute(cleanupCtx, dbConn, "KILL $live_query_id", map[string]any{"live_query_id": state.liveQueryID}); err != nil {
		s.logger.Warn("Failed to kill live query", "error", err, "live_query_id", state.liveQueryID)
	}
}

// listen delivers notifications in arrival order. The handler runs inline so
// per-topic ordering is preserved.
func (s *LiveQueryService) listen(ctx context.Context, state *subscriptionState, notifications <-chan connection.Notification) {
	defer close(state.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				s.logger.Debug("Live query notification channel closed", "sub_id", state.id)
				return
			}
			change, ok := changeFromNotification(state.topic, n)
			if !ok {
				s.logger.Warn("Ignoring live notification", "sub_id", state.id, "action", n.Action)
				continue
			}
			if !state.filter.Matches(change) {
				continue
			}
			s.deliver(ctx, state, change)
		}
	}
}

func (s *LiveQueryService) deliver(ctx context.Context, state *subscriptionState, change store.Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in live query handler", "sub_id", state.id, "panic", r)
		}
	}()
	state.handler(ctx, change)
}

// liveQueryID extracts the UUID LIVE SELECT returns. Depending on the
// server version it arrives bare or wrapped in a map.
func liveQueryID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case models.UUID:
		return id.String()
	case map[string]any:
		return liveQueryID(id["id"])
	default:
		return ""
	}
}

// liveQuery builds the LIVE SELECT for topic.
func liveQuery(topic store.Topic, filter store.Filter) (string, map[string]any) {
	query := fmt.Sprintf("LIVE SELECT * FROM %s", topic)
	params := map[string]any{}
	if filter.RoomID != "" {
		query += " WHERE room_id = $room_id"
		params["room_id"] = filter.RoomID
	}
	return query, params
}

func changeFromNotification(topic store.Topic, n connection.Notification) (store.Change, bool) {
	var op store.Op
	switch n.Action {
	case connection.CreateAction:
		op = store.OpInsert
	case connection.UpdateAction:
		op = store.OpUpdate
	case connection.DeleteAction:
		op = store.OpDelete
	default:
		return store.Change{}, false
	}

	row, ok := n.Result.(map[string]any)
	if !ok {
		return store.Change{}, false
	}
	id := recordKey(row["id"])
	if id == "" {
		return store.Change{}, false
	}
	change := store.Change{Topic: topic, Op: op, ID: id}
	if roomID, ok := row["room_id"].(string); ok {
		change.RoomID = roomID
	}
	if raw, err := json.Marshal(row); err == nil {
		change.Row = raw
	}
	return change, true
}

// recordKey renders the key part of a record id. Composite keys are joined
// with "/".
func recordKey(v any) string {
	switch id := v.(type) {
	case models.RecordID:
		return keyString(id.ID)
	case *models.RecordID:
		if id == nil {
			return ""
		}
		return keyString(id.ID)
	case string:
		return id
	default:
		return ""
	}
}

func keyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case []any:
		parts := make([]string, len(k))
		for i, p := range k {
			parts[i] = fmt.Sprint(p)
		}
		return compositeKey(parts...)
	default:
		return fmt.Sprint(k)
	}
}
