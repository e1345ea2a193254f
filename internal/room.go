package internal

import (
	"encoding/json"
	"fmt"
	"sync"
)

// 系統設計問題：
//   如何讓最多四個客戶端共享一個「房間」，交換不透明的遊戲狀態與動作消息？
//
// 核心挑戰：
//   1. 生命週期管理：房間的創建、加入、離開、房主轉移、銷毀
//   2. 權限控制：只有房主可以開始遊戲、標記準備
//   3. 狀態中繼：服務器不理解遊戲規則，只存儲並轉發最後一份狀態
//   4. 併發安全：多個連接同時操作同一房間
//
// 設計方案：
//   ✅ 有序玩家序列 - 座位順序 = 加入順序，房主轉移選最早入座者
//   ✅ RWMutex - 讀多寫少優化（快照廣播頻繁，成員變更少）
//   ✅ 不透明狀態 - gameState 以 json.RawMessage 原樣保存，整塊替換
//   ✅ 即時回收 - 最後一名玩家離開的瞬間，房間從註冊表移除

// RoomStatus 房間狀態
//
// 有限狀態機：
//
//	waiting --StartGame--> playing --（房間清空）--> 已刪除
//
// playing 沒有回到 waiting 的轉換；一個房間條目最多進行一局遊戲。
// 「結束」不是存儲狀態，而是以註冊表移除來建模。
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting" // 等待玩家加入
	StatusPlaying RoomStatus = "playing" // 遊戲進行中
)

// 容量規劃（依遊戲設計固定，不提供配置）
const (
	MaxPlayers        = 4 // 單房間最大玩家數
	MinPlayersToStart = 2 // 開始遊戲所需最少玩家數
)

// 計分設置預設值
const (
	DefaultBasePoints    = 2000   // 底分
	DefaultPerFanPoints  = 1000   // 每番分
	DefaultInitialPoints = 100000 // 初始持分
)

// Player 玩家資訊
//
// 座位在加入時分配為當時的玩家數量，之後不會因他人離開而重新編號，
// 因此座位序列在中途離開後可能不連續（如 {0,2,3}）。
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Seat   int    `json:"seat"`
	IsHost bool   `json:"isHost"`
}

// Settings 房間設置
//
// 創建後不可變。除了三個計分鍵以外，調用方提供的任意鍵值原樣透傳，
// 調用方的值覆蓋預設值。
type Settings map[string]any

// NewSettings 合併調用方設置與預設值
func NewSettings(overrides map[string]any) Settings {
	s := Settings{
		"basePoints":    DefaultBasePoints,
		"perFanPoints":  DefaultPerFanPoints,
		"initialPoints": DefaultInitialPoints,
	}
	for k, v := range overrides {
		s[k] = v
	}
	return s
}

// Room 遊戲房間
//
// 服務器對遊戲規則一無所知：GameState 是客戶端提交的快照，
// 整塊替換（後寫者勝），不做版本檢查與衝突偵測。
type Room struct {
	ID        string
	Status    RoomStatus
	HostID    string
	GameReady bool
	Settings  Settings
	GameState json.RawMessage

	players []*Player // 座位順序 = 加入順序

	mu sync.RWMutex
}

// RoomState 房間狀態快照（用於廣播與序列化）
//
// 每次成員或狀態變更後都會整份發送。
type RoomState struct {
	RoomID    string     `json:"roomId"`
	Players   []Player   `json:"players"`
	Status    RoomStatus `json:"status"`
	Settings  Settings   `json:"settings"`
	HostID    string     `json:"hostId"`
	GameReady bool       `json:"gameReady"`
}

// NewRoom 創建新房間
func NewRoom(id string, settings Settings) *Room {
	return &Room{
		ID:       id,
		Status:   StatusWaiting,
		Settings: settings,
		players:  make([]*Player, 0, MaxPlayers),
	}
}

// AddPlayer 加入玩家
//
// 座位 = 加入當下的玩家數量。第一個加入的玩家自動成為房主。
// 名稱未提供時預設為 "Player{座位+1}"。
func (r *Room) AddPlayer(playerID, name string) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 狀態機驗證：遊戲開始後不允許加入
	if r.Status != StatusWaiting {
		return Player{}, ErrGameAlreadyStarted
	}

	// 容量檢查
	if len(r.players) >= MaxPlayers {
		return Player{}, ErrRoomFull
	}

	seat := len(r.players)
	if name == "" {
		name = fmt.Sprintf("Player%d", seat+1)
	}

	player := &Player{
		ID:     playerID,
		Name:   name,
		Seat:   seat,
		IsHost: seat == 0,
	}

	r.players = append(r.players, player)
	if player.IsHost {
		r.HostID = playerID
	}

	return *player, nil
}

// RemovePlayer 移除玩家
//
// 玩家不在房間內時為無操作。房主離開時，剩餘序列中最早入座的玩家
// （索引 0）晉升為房主。回傳被移除的玩家、新房主 ID（未轉移則為空）
// 與剩餘人數。
func (r *Room) RemovePlayer(playerID string) (removed Player, newHostID string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, p := range r.players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Player{}, "", len(r.players), false
	}

	removed = *r.players[idx]
	r.players = append(r.players[:idx], r.players[idx+1:]...)

	// 座位不重新編號，只轉移房主
	if removed.IsHost && len(r.players) > 0 {
		r.players[0].IsHost = true
		r.HostID = r.players[0].ID
		newHostID = r.HostID
	}

	return removed, newHostID, len(r.players), true
}

// Start 開始遊戲（只有房主可以）
func (r *Room) Start(playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.players) < MinPlayersToStart {
		return ErrInsufficientPlayers
	}
	if r.HostID != playerID {
		return ErrNotHost
	}

	r.Status = StatusPlaying
	r.GameReady = false

	return nil
}

// SetGameReady 標記遊戲就緒（只有房主可以）
//
// 非房主的請求直接忽略，不回傳錯誤。
func (r *Room) SetGameReady(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.HostID != playerID {
		return false
	}
	r.GameReady = true
	return true
}

// SetGameState 替換遊戲狀態（後寫者勝）
//
// 非成員的提交直接忽略。成功時回傳提交者資訊供中繼使用。
func (r *Room) SetGameState(playerID string, state json.RawMessage) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(playerID)
	if p == nil {
		return Player{}, false
	}
	r.GameState = state
	return *p, true
}

// Member 查詢成員資訊
func (r *Room) Member(playerID string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.findLocked(playerID); p != nil {
		return *p, true
	}
	return Player{}, false
}

// findLocked 在持有鎖的情況下查找玩家
func (r *Room) findLocked(playerID string) *Player {
	for _, p := range r.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// Snapshot 獲取房間狀態快照
func (r *Room) Snapshot() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}

	return RoomState{
		RoomID:    r.ID,
		Players:   players,
		Status:    r.Status,
		Settings:  r.Settings,
		HostID:    r.HostID,
		GameReady: r.GameReady,
	}
}

// GameStateCopy 獲取最後一份遊戲狀態
//
// 尚未有任何提交時回傳 false。
func (r *Room) GameStateCopy() (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.GameState == nil {
		return nil, false
	}
	return r.GameState, true
}

// PlayerCount 獲取玩家數量
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
