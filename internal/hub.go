package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把入站消息分派到房間生命週期操作，並把結果扇出給正確的成員子集？
//
// 核心挑戰：
//   1. 連接身份：傳輸層在升級時分配，生命週期與單條連接一致
//   2. 群組同步：房間成員關係與廣播群組必須同進同退，不能漂移
//   3. 投遞模式：全房間 / 房間內除發送者 / 僅發送者，按事件選擇
//   4. 心跳機制：檢測死連接（Ping/Pong，54s/60s）
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有連接與房間群組
//   ✅ 群組操作與註冊表變更在同一方法內完成（防止漂移）
//   ✅ 緩衝 channel - 異步發送，慢客戶端不拖累整個房間
//   ✅ 延遲重同步 - 閉包只捕獲 ID，觸發時重查註冊表，安全無操作

// 心跳與發送參數
const (
	pongWait       = 60 * time.Second // 讀取超時（收到 Pong 即重置）
	pingPeriod     = 54 * time.Second // Ping 間隔（避開常見的 60s 代理超時）
	writeWait      = 10 * time.Second // 寫入超時
	sendBufferSize = 256              // 單連接發送緩衝
)

// DefaultStateResyncDelay 動作廣播後的狀態重同步延遲
const DefaultStateResyncDelay = 100 * time.Millisecond

// Hub WebSocket 連接中心
//
// 同時承擔兩個角色：
//   - 連接網關：升級連接、分配身份、分派入站消息、斷線清理
//   - 廣播中繼：按房間群組扇出事件
//
// groups 是傳輸層的「頻道群組」：roomID -> playerID -> Connection。
// 加入/離開群組總是與註冊表的成員變更寫在同一個處理方法中，
// 兩者不會各自為政。
type Hub struct {
	registry    *Registry
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	conns       map[string]*Connection            // playerID -> Connection
	groups      map[string]map[string]*Connection // roomID -> playerID -> Connection
	mu          sync.RWMutex
	resyncDelay time.Duration
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	RoomID    string // 當前群組；由 hub.mu 保護
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewHub 創建連接中心
func NewHub(registry *Registry, logger *slog.Logger, resyncDelay time.Duration) *Hub {
	if resyncDelay <= 0 {
		resyncDelay = DefaultStateResyncDelay
	}
	return &Hub{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:       make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
		resyncDelay: resyncDelay,
	}
}

// ServeWS 處理 WebSocket 連接
//
// 連接身份在升級時分配，對客戶端唯一且穩定，直到斷線為止。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
	}

	hub.mu.Lock()
	hub.conns[connection.ID] = connection
	hub.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立", "player_id", connection.ID)
}

// joinGroup 加入廣播群組
func (hub *Hub) joinGroup(roomID string, c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.groups[roomID] == nil {
		hub.groups[roomID] = make(map[string]*Connection)
	}
	hub.groups[roomID][c.ID] = c
	c.RoomID = roomID
}

// leaveGroup 離開廣播群組
func (hub *Hub) leaveGroup(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.leaveGroupLocked(c)
}

func (hub *Hub) leaveGroupLocked(c *Connection) {
	if c.RoomID == "" {
		return
	}
	if groupConns, exists := hub.groups[c.RoomID]; exists {
		delete(groupConns, c.ID)
		if len(groupConns) == 0 {
			delete(hub.groups, c.RoomID)
		}
	}
	c.RoomID = ""
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.conns[c.ID]; exists && actual == c {
		delete(hub.conns, c.ID)
	}
	hub.leaveGroupLocked(c)

	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// broadcast 廣播到房間群組的所有成員
func (hub *Hub) broadcast(roomID string, message []byte) {
	hub.broadcastExcept(roomID, "", message)
}

// broadcastExcept 廣播到房間群組，跳過指定發送者
func (hub *Hub) broadcastExcept(roomID, exceptID string, message []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if groupConns, exists := hub.groups[roomID]; exists {
		for id, conn := range groupConns {
			if id == exceptID {
				continue
			}
			select {
			case conn.Send <- message:
			default:
				// 連接緩衝區滿，丟棄該成員的這一幀
				hub.logger.Warn("連接緩衝區滿",
					"room_id", roomID,
					"player_id", id)
			}
		}
	}
}

// broadcastEvent 序列化並廣播事件
func (hub *Hub) broadcastEvent(roomID, kind string, payload any) {
	message, err := encodeMessage(kind, payload)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "type", kind)
		return
	}
	hub.broadcast(roomID, message)
}

// broadcastEventExcept 序列化並廣播事件，跳過發送者
func (hub *Hub) broadcastEventExcept(roomID, exceptID, kind string, payload any) {
	message, err := encodeMessage(kind, payload)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "type", kind)
		return
	}
	hub.broadcastExcept(roomID, exceptID, message)
}

// sendEvent 發送事件給單一連接（確認、錯誤、本人通知）
func (c *Connection) sendEvent(kind string, payload any) {
	message, err := encodeMessage(kind, payload)
	if err != nil {
		c.Hub.logger.Error("序列化事件失敗", "error", err, "type", kind)
		return
	}
	select {
	case c.Send <- message:
	default:
		c.Hub.logger.Warn("連接緩衝區滿", "player_id", c.ID)
	}
}

// dispatch 分派入站消息
func (hub *Hub) dispatch(c *Connection, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		hub.logger.Debug("解析消息失敗",
			"error", err,
			"player_id", c.ID)
		return
	}

	switch env.Type {
	case KindCreateRoom:
		hub.handleCreateRoom(c, env.Data)
	case KindJoinRoom:
		hub.handleJoinRoom(c, env.Data)
	case KindLeaveRoom:
		hub.handleLeaveRoom(c, env.Data)
	case KindStartGame:
		hub.handleStartGame(c, env.Data)
	case KindGetRoomState:
		hub.handleGetRoomState(c, env.Data)
	case KindGameReady:
		hub.handleGameReady(c, env.Data)
	case KindGameStateUpdate:
		hub.handleGameStateUpdate(c, env.Data)
	case KindPlayerAction:
		hub.handlePlayerAction(c, env.Data)
	case KindRequestTurnInfo:
		hub.handleRequestTurnInfo(c, env.Data)
	default:
		hub.logger.Debug("收到未知消息類型",
			"type", env.Type,
			"player_id", c.ID)
	}
}

// handleCreateRoom 創建房間
func (hub *Hub) handleCreateRoom(c *Connection, data json.RawMessage) {
	var overrides map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &overrides); err != nil {
			hub.logger.Debug("解析設置失敗", "error", err, "player_id", c.ID)
			return
		}
	}

	// 會話綁定為零或一個房間：先退出目前房間
	hub.leaveCurrentRoom(c)

	room, host := hub.registry.CreateRoom(c.ID, "", overrides)
	hub.joinGroup(room.ID, c)

	c.sendEvent(KindCreateRoomResult, CreateRoomResult{Success: true, RoomID: room.ID})
	c.sendEvent(KindRoomCreated, RoomCreated{RoomID: room.ID, Seat: host.Seat, IsHost: host.IsHost})
	hub.broadcastEvent(room.ID, KindRoomState, room.Snapshot())
}

// handleJoinRoom 加入房間
func (hub *Hub) handleJoinRoom(c *Connection, data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	hub.leaveCurrentRoom(c)

	player, state, err := hub.registry.JoinRoom(p.RoomID, c.ID, p.PlayerName)
	if err != nil {
		c.sendEvent(KindJoinRoomResult, JoinRoomResult{Success: false, Error: err.Error()})
		return
	}

	hub.joinGroup(p.RoomID, c)

	seat := player.Seat
	c.sendEvent(KindJoinRoomResult, JoinRoomResult{
		Success: true,
		RoomID:  p.RoomID,
		Seat:    &seat,
		Player:  &player,
	})
	c.sendEvent(KindRoomJoined, RoomJoined{RoomID: p.RoomID, Seat: player.Seat, Player: player})
	hub.broadcastEvent(p.RoomID, KindRoomState, state)
}

// handleLeaveRoom 離開房間
func (hub *Hub) handleLeaveRoom(c *Connection, data json.RawMessage) {
	var p roomIDPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	result, ok := hub.registry.LeaveRoom(p.RoomID, c.ID)
	if !ok {
		return
	}
	hub.leaveGroup(c)

	if result.State != nil {
		hub.broadcastEvent(p.RoomID, KindRoomState, result.State)
	}
}

// handleStartGame 開始遊戲
func (hub *Hub) handleStartGame(c *Connection, data json.RawMessage) {
	var p roomIDPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	state, err := hub.registry.StartGame(p.RoomID, c.ID)
	if err != nil {
		c.sendEvent(KindError, ErrorNotice{Message: err.Error()})
		return
	}

	hub.broadcastEvent(p.RoomID, KindGameStarted, GameStarted{
		Players:  state.Players,
		Settings: state.Settings,
		Status:   state.Status,
		HostID:   state.HostID,
	})
}

// handleGetRoomState 查詢房間狀態
func (hub *Hub) handleGetRoomState(c *Connection, data json.RawMessage) {
	var p roomIDPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	room, err := hub.registry.GetRoom(p.RoomID)
	if err != nil {
		c.sendEvent(KindRoomStateResult, RoomStateResult{Success: false, Error: err.Error()})
		return
	}

	state := room.Snapshot()
	c.sendEvent(KindRoomStateResult, RoomStateResult{
		Success:   true,
		Room:      &state,
		HostID:    state.HostID,
		GameReady: state.GameReady,
	})
}

// handleGameReady 標記遊戲就緒（非房主直接忽略）
func (hub *Hub) handleGameReady(c *Connection, data json.RawMessage) {
	var p roomIDPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	gameState, ok := hub.registry.SetGameReady(p.RoomID, c.ID)
	if !ok {
		return
	}

	hub.broadcastEvent(p.RoomID, KindGameReadyNotify, GameReadyNotify{GameState: gameState})
}

// handleGameStateUpdate 狀態同步（非成員直接忽略）
//
// 提交者本地已是權威狀態，同步只發給其他成員。
func (hub *Hub) handleGameStateUpdate(c *Connection, data json.RawMessage) {
	var p gameStateUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	player, ok := hub.registry.UpdateGameState(p.RoomID, c.ID, p.GameState)
	if !ok {
		return
	}

	hub.broadcastEventExcept(p.RoomID, c.ID, KindGameStateSync, GameStateSync{
		GameState:  p.GameState,
		FromPlayer: player.Seat,
		IsHost:     player.IsHost,
	})
}

// handlePlayerAction 動作中繼
//
// 動作與參數原樣廣播給全房間。廣播後安排一次延遲的狀態重同步，
// 補償動作與狀態提交之間的時間差。
func (hub *Hub) handlePlayerAction(c *Connection, data json.RawMessage) {
	var p playerActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	player, ok := hub.registry.ResolveAction(p.RoomID, c.ID)
	if !ok {
		return
	}

	hub.broadcastEvent(p.RoomID, KindActionBroadcast, ActionBroadcast{
		Action:     p.Action,
		Params:     p.Params,
		PlayerSeat: player.Seat,
		PlayerName: player.Name,
		IsHost:     player.IsHost,
	})

	// 延遲重同步：閉包只捕獲 ID，不持有房間引用。
	// 觸發時重新查註冊表，房間或狀態已不存在則靜默返回。
	roomID, senderID := p.RoomID, c.ID
	time.AfterFunc(hub.resyncDelay, func() {
		room, err := hub.registry.GetRoom(roomID)
		if err != nil {
			return
		}
		gameState, exists := room.GameStateCopy()
		if !exists {
			return
		}
		hub.broadcastEventExcept(roomID, senderID, KindGameStateSync, GameStateSync{
			GameState:  gameState,
			FromPlayer: player.Seat,
			IsHost:     player.IsHost,
		})
	})
}

// handleRequestTurnInfo 查詢回合資訊
//
// 從存儲的不透明 gameState 中探取 turn 與 phase，不解釋其含義。
func (hub *Hub) handleRequestTurnInfo(c *Connection, data json.RawMessage) {
	var p roomIDPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.logger.Debug("解析消息失敗", "error", err, "player_id", c.ID)
		return
	}

	room, err := hub.registry.GetRoom(p.RoomID)
	if err != nil {
		c.sendEvent(KindTurnInfoResult, TurnInfoResult{Success: false, Error: err.Error()})
		return
	}

	gameState, exists := room.GameStateCopy()
	if !exists {
		c.sendEvent(KindTurnInfoResult, TurnInfoResult{Success: false, Error: "尚無遊戲狀態"})
		return
	}

	var probe turnInfoProbe
	// 狀態格式不受服務器約束，探取失敗時回傳空欄位
	_ = json.Unmarshal(gameState, &probe)

	c.sendEvent(KindTurnInfoResult, TurnInfoResult{
		Success: true,
		Turn:    probe.Turn,
		Phase:   probe.Phase,
		HostID:  room.Snapshot().HostID,
	})
}

// leaveCurrentRoom 退出目前綁定的房間（若有）
//
// createRoom/joinRoom 前調用，確保會話綁定最多一個房間。
func (hub *Hub) leaveCurrentRoom(c *Connection) {
	roomID, bound := hub.registry.RoomFor(c.ID)
	if !bound {
		return
	}

	result, ok := hub.registry.LeaveRoom(roomID, c.ID)
	hub.leaveGroup(c)

	if ok && result.State != nil {
		hub.broadcastEvent(roomID, KindRoomState, result.State)
	}
}

// handleDisconnect 斷線清理
//
// 透過會話綁定重建成員關係，執行離開流程並廣播更新後的房間狀態；
// 若該房間正在遊戲中，額外通知斷線者與（可能更新的）房主身份。
func (hub *Hub) handleDisconnect(c *Connection) {
	roomID, bound := hub.registry.RoomFor(c.ID)
	hub.unregister(c)

	if !bound {
		return
	}

	result, ok := hub.registry.LeaveRoom(roomID, c.ID)
	if !ok || result.State == nil {
		return
	}

	hub.broadcastEvent(roomID, KindRoomState, result.State)

	if result.WasPlaying {
		hub.broadcastEvent(roomID, KindPlayerDisconnected, PlayerDisconnected{
			PlayerID:  c.ID,
			NewHostID: result.NewHostID,
		})
	}
}

// Stop 停止連接中心
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.conns {
		// 先關閉 Send channel，再關閉連接
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.conns = make(map[string]*Connection)
	hub.groups = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("連接中心已停止")
}

// ConnectionCount 獲取當前連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：60 秒內沒有收到任何消息（包括 Pong）即關閉連接；
// 收到 Pong 重置超時。配合 writePump 的 54 秒 Ping（留 6 秒余量）。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.handleDisconnect(c)
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"player_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.Hub.dispatch(c, message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：每 54 秒發送一次 Ping，避開常見的 60 秒代理超時。
// 發送走緩衝 channel，業務邏輯不被慢客戶端阻塞。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				deadline := time.Now().Add(time.Second)
				if err := c.Conn.SetWriteDeadline(deadline); err == nil {
					_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
