package internal

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Registry 房間註冊表
//
// 系統設計考量：
//
//  1. 顯式持有而非全局狀態：
//     註冊表以服務物件注入，不使用包級變量，
//     便於測試隔離與運行多個獨立實例。
//
//  2. 會話綁定（playerRoom）：
//     連接身份 → 房間 ID 的映射（零或一個房間）。
//     斷線時由此重建成員關係，無需客戶端補發任何消息。
//
//  3. 即時回收：
//     房間存在於註冊表中，當且僅當至少有一名玩家。
//     最後一名玩家離開的瞬間刪除條目，不設閒置超時。
type Registry struct {
	rooms      map[string]*Room  // roomID -> Room
	playerRoom map[string]string // playerID -> roomID
	mu         sync.RWMutex
	logger     *slog.Logger
}

// LeaveResult 離開房間的結果
//
// State 為離開後的房間快照；房間因清空而刪除時為 nil。
type LeaveResult struct {
	Removed    Player
	NewHostID  string
	WasPlaying bool
	Deleted    bool
	State      *RoomState
}

// NewRegistry 創建房間註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
		logger:     logger,
	}
}

// CreateRoom 創建房間
//
// 總是成功。創建者以座位 0 入座並成為房主。
// 調用方設置與預設值合併後不再變更。
func (reg *Registry) CreateRoom(hostID, hostName string, overrides map[string]any) (*Room, Player) {
	roomID := generateRoomID()

	room := NewRoom(roomID, NewSettings(overrides))
	host, _ := room.AddPlayer(hostID, hostName)

	reg.mu.Lock()
	reg.rooms[roomID] = room
	reg.playerRoom[hostID] = roomID
	reg.mu.Unlock()

	reg.logger.Info("房間已創建",
		"room_id", roomID,
		"host_id", hostID)

	return room, host
}

// GetRoom 獲取房間
func (reg *Registry) GetRoom(roomID string) (*Room, error) {
	reg.mu.RLock()
	room, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// JoinRoom 加入房間
func (reg *Registry) JoinRoom(roomID, playerID, playerName string) (Player, RoomState, error) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return Player{}, RoomState{}, err
	}

	player, err := room.AddPlayer(playerID, playerName)
	if err != nil {
		return Player{}, RoomState{}, err
	}

	reg.mu.Lock()
	reg.playerRoom[playerID] = roomID
	reg.mu.Unlock()

	reg.logger.Info("玩家加入房間",
		"room_id", roomID,
		"player_id", playerID,
		"seat", player.Seat)

	return player, room.Snapshot(), nil
}

// LeaveRoom 離開房間
//
// 房間或玩家不存在時為無操作（ok 為 false）。
// 房間清空時立即從註冊表刪除。
func (reg *Registry) LeaveRoom(roomID, playerID string) (*LeaveResult, bool) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return nil, false
	}

	removed, newHostID, remaining, ok := room.RemovePlayer(playerID)
	if !ok {
		return nil, false
	}

	reg.mu.Lock()
	delete(reg.playerRoom, playerID)
	if remaining == 0 {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()

	result := &LeaveResult{
		Removed:   removed,
		NewHostID: newHostID,
		Deleted:   remaining == 0,
	}

	if remaining == 0 {
		reg.logger.Info("房間已清空並移除",
			"room_id", roomID,
			"player_id", playerID)
		return result, true
	}

	state := room.Snapshot()
	result.State = &state
	result.WasPlaying = state.Status == StatusPlaying

	reg.logger.Info("玩家離開房間",
		"room_id", roomID,
		"player_id", playerID,
		"new_host", newHostID)

	return result, true
}

// StartGame 開始遊戲
func (reg *Registry) StartGame(roomID, playerID string) (RoomState, error) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return RoomState{}, err
	}

	if err := room.Start(playerID); err != nil {
		return RoomState{}, err
	}

	reg.logger.Info("遊戲開始",
		"room_id", roomID,
		"host_id", playerID)

	return room.Snapshot(), nil
}

// SetGameReady 標記遊戲就緒
//
// 非房主或房間不存在時直接忽略。成功時回傳最後一份遊戲狀態
// （可能尚未有提交）供通知使用。
func (reg *Registry) SetGameReady(roomID, playerID string) (json.RawMessage, bool) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return nil, false
	}

	if !room.SetGameReady(playerID) {
		return nil, false
	}

	state, _ := room.GameStateCopy()
	return state, true
}

// UpdateGameState 替換遊戲狀態（後寫者勝）
//
// 非成員的提交直接忽略。
func (reg *Registry) UpdateGameState(roomID, playerID string, state json.RawMessage) (Player, bool) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return Player{}, false
	}
	return room.SetGameState(playerID, state)
}

// ResolveAction 解析動作發起者
//
// 服務器不解釋動作內容，只確認發起者是成員並回傳其座位、
// 名稱與房主標記供中繼使用。
func (reg *Registry) ResolveAction(roomID, playerID string) (Player, bool) {
	room, err := reg.GetRoom(roomID)
	if err != nil {
		return Player{}, false
	}
	return room.Member(playerID)
}

// RoomFor 查詢連接所在的房間（會話綁定）
func (reg *Registry) RoomFor(playerID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, exists := reg.playerRoom[playerID]
	return roomID, exists
}

// Stats 獲取統計資訊
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0
	for _, room := range reg.rooms {
		state := room.Snapshot()
		statusCount[state.Status]++
		totalPlayers += len(state.Players)
	}

	return map[string]any{
		"total_rooms":   len(reg.rooms),
		"total_players": totalPlayers,
		"by_status":     statusCount,
		"timestamp":     time.Now().Unix(),
	}
}

// generateRoomID 生成簡短的房間 ID
//
// 6 位英數 token。已知限制：不做唯一性重試，
// 依 36^6 的 token 空間接受碰撞概率。
func generateRoomID() string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	for i := range b {
		b[i] = chars[randInt(len(chars))]
	}
	return string(b)
}

// randInt 生成隨機數
func randInt(max int) int {
	b := make([]byte, 1)
	if _, err := rand.Read(b); err != nil {
		// 隨機讀取失敗時退回時間作為隨機源
		return int(time.Now().UnixNano()) % max
	}
	return int(b[0]) % max
}
