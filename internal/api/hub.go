package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaiso/meshflow/internal/domain"
)

// EventSnapshot — первое сообщение потока: текущий снимок run.
const EventSnapshot domain.EventType = "run.snapshot"

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

// Subscriber — подписка на события одного run.
type Subscriber struct {
	runID  uuid.UUID
	events chan domain.Event
}

// Events возвращает канал событий.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.events
}

// Hub раздаёт события оркестратора подписчикам WebSocket.
//
// Hub — EventSink: HandleEvent не ждёт клиентов, чтобы медленный
// подписчик не задерживал доставку остальным sink'ам. Если буфер
// подписчика заполнен, событие для него отбрасывается.
type Hub struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]map[*Subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub создаёт Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[uuid.UUID]map[*Subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "hub"),
	}
}

// Subscribe подписывается на события run.
func (h *Hub) Subscribe(runID uuid.UUID) *Subscriber {
	sub := &Subscriber{runID: runID, events: make(chan domain.Event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*Subscriber]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	return sub
}

// Unsubscribe отменяет подписку. Повторный вызов ничего не делает.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[sub.runID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subs, sub.runID)
	}
}

// Subscribers возвращает количество подписчиков run.
func (h *Hub) Subscribers(runID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}

// HandleEvent рассылает событие подписчикам run.
func (h *Hub) HandleEvent(ctx context.Context, ev domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.RunID] {
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("subscriber is slow, event dropped", "run_id", ev.RunID, "type", ev.Type)
		}
	}
	return nil
}

// Serve переводит соединение в WebSocket и пишет события до завершения run.
//
// Первое сообщение — снимок run (тип run.snapshot). Поток закрывается
// после run.finished или если run уже был завершён на момент снимка.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sub *Subscriber, snap *domain.RunSnapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "run_id", sub.runID, "error", err)
		return
	}
	defer conn.Close()

	// клиент ничего не присылает; чтение нужно, чтобы заметить закрытие
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := domain.Event{
		Type:      EventSnapshot,
		RunID:     snap.RunID,
		RunStatus: snap.Status,
		Snapshot:  snap,
		Timestamp: time.Now().UTC(),
	}
	if err := h.write(conn, initial); err != nil {
		return
	}
	if snap.IsFinished() {
		h.close(conn)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev := <-sub.events:
			if err := h.write(conn, ev); err != nil {
				return
			}
			if ev.Type == domain.EventRunFinished {
				h.close(conn)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, ev domain.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("websocket write failed", "run_id", ev.RunID, "error", err)
		return err
	}
	return nil
}

func (h *Hub) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
