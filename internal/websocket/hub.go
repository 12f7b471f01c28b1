package websocket

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"motochefe-engagement/internal/middleware"
	"motochefe-engagement/internal/services"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub streams persisted engagement events of a course to admin monitors. One
// Redis subscription is held per course while at least one monitor watches it.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
	writeMu     map[*websocket.Conn]*sync.Mutex
	redisClient *redis.Client
	auth        *middleware.JWTAuth
	cancelFuncs map[string]context.CancelFunc
}

func NewHub(redisClient *redis.Client, auth *middleware.JWTAuth) *Hub {
	return &Hub{
		connections: make(map[string][]*websocket.Conn),
		writeMu:     make(map[*websocket.Conn]*sync.Mutex),
		redisClient: redisClient,
		auth:        auth,
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a websocket handshake, so the token rides in the query.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if claims.Role != middleware.RoleAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	courseID := strings.TrimSpace(r.URL.Query().Get("course_id"))
	if courseID == "" {
		http.Error(w, "course_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.registerConnection(courseID, conn)
	log.Printf("WebSocket connected: admin %s watching course %s", claims.UserID, courseID)

	go func() {
		defer h.unregisterConnection(courseID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(courseID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[courseID] = append(h.connections[courseID], conn)
	h.writeMu[conn] = &sync.Mutex{}

	if len(h.connections[courseID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[courseID] = cancel
		go h.subscribeToPubSub(ctx, courseID)
	}
}

func (h *Hub) unregisterConnection(courseID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	delete(h.writeMu, conn)

	conns := h.connections[courseID]
	for i, c := range conns {
		if c == conn {
			h.connections[courseID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[courseID]) == 0 {
		delete(h.connections, courseID)
		if cancel, ok := h.cancelFuncs[courseID]; ok {
			cancel()
			delete(h.cancelFuncs, courseID)
		}
	}

	log.Printf("WebSocket disconnected from course %s", courseID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, courseID string) {
	pubsub := h.redisClient.Subscribe(ctx, services.CourseChannel(courseID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(courseID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(courseID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[courseID] {
		mu := h.writeMu[conn]
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("WebSocket write to course %s monitor failed: %v", courseID, err)
		}
		mu.Unlock()
	}
}

// Watchers reports how many monitors are attached to a course.
func (h *Hub) Watchers(courseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[courseID])
}

// Close drops every monitor and subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for courseID, conns := range h.connections {
		for _, conn := range conns {
			conn.Close()
		}
		if cancel, ok := h.cancelFuncs[courseID]; ok {
			cancel()
		}
	}
	h.connections = make(map[string][]*websocket.Conn)
	h.writeMu = make(map[*websocket.Conn]*sync.Mutex)
	h.cancelFuncs = make(map[string]context.CancelFunc)
}
