package internal

import "encoding/json"

// 協議設計：
//   每個 WebSocket 幀是一個 JSON 信封 {type, data}。
//   入站消息由網關解析 type 後分派；出站消息分三種投遞模式：
//   全房間、房間內除發送者、僅發送者（確認與錯誤）。
//   gameState 與動作參數對服務器是不透明的，原樣轉發。

// Envelope 消息信封
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// 入站消息類型
const (
	KindCreateRoom      = "createRoom"
	KindJoinRoom        = "joinRoom"
	KindLeaveRoom       = "leaveRoom"
	KindStartGame       = "startGame"
	KindGetRoomState    = "getRoomState"
	KindGameReady       = "gameReady"
	KindGameStateUpdate = "gameStateUpdate"
	KindPlayerAction    = "playerAction"
	KindRequestTurnInfo = "requestTurnInfo"
)

// 出站消息類型
const (
	KindCreateRoomResult = "createRoomResult"
	KindJoinRoomResult   = "joinRoomResult"
	KindRoomStateResult  = "roomStateResult"
	KindTurnInfoResult   = "turnInfoResult"

	KindRoomCreated        = "roomCreated"
	KindRoomJoined         = "roomJoined"
	KindRoomState          = "roomState"
	KindGameStarted        = "gameStarted"
	KindGameReadyNotify    = "gameReadyNotify"
	KindGameStateSync      = "gameStateSync"
	KindActionBroadcast    = "actionBroadcast"
	KindPlayerDisconnected = "playerDisconnected"
	KindError              = "error"
)

// 入站載荷

type joinRoomPayload struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type roomIDPayload struct {
	RoomID string `json:"roomId"`
}

type gameStateUpdatePayload struct {
	RoomID    string          `json:"roomId"`
	GameState json.RawMessage `json:"gameState"`
}

type playerActionPayload struct {
	RoomID string          `json:"roomId"`
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// 出站載荷

// CreateRoomResult 創建房間的確認
type CreateRoomResult struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId"`
}

// JoinRoomResult 加入房間的確認
type JoinRoomResult struct {
	Success bool    `json:"success"`
	RoomID  string  `json:"roomId,omitempty"`
	Seat    *int    `json:"seat,omitempty"`
	Player  *Player `json:"player,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// RoomStateResult 查詢房間狀態的確認
type RoomStateResult struct {
	Success   bool       `json:"success"`
	Room      *RoomState `json:"room,omitempty"`
	HostID    string     `json:"hostId,omitempty"`
	GameReady bool       `json:"gameReady,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// TurnInfoResult 查詢回合資訊的確認
//
// turn 與 phase 從存儲的不透明 gameState 中探取，服務器不保證其含義。
type TurnInfoResult struct {
	Success bool            `json:"success"`
	Turn    json.RawMessage `json:"turn,omitempty"`
	Phase   json.RawMessage `json:"phase,omitempty"`
	HostID  string          `json:"hostId,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RoomCreated 通知創建者本人
type RoomCreated struct {
	RoomID string `json:"roomId"`
	Seat   int    `json:"seat"`
	IsHost bool   `json:"isHost"`
}

// RoomJoined 通知加入者本人
type RoomJoined struct {
	RoomID string `json:"roomId"`
	Seat   int    `json:"seat"`
	Player Player `json:"player"`
}

// GameStarted 開局通知（全房間）
type GameStarted struct {
	Players  []Player   `json:"players"`
	Settings Settings   `json:"settings"`
	Status   RoomStatus `json:"status"`
	HostID   string     `json:"hostId"`
}

// GameReadyNotify 就緒通知（全房間）
type GameReadyNotify struct {
	GameState json.RawMessage `json:"gameState"`
}

// GameStateSync 狀態同步（房間內除發送者；提交者本地已是權威狀態）
type GameStateSync struct {
	GameState  json.RawMessage `json:"gameState"`
	FromPlayer int             `json:"fromPlayer"`
	IsHost     bool            `json:"isHost"`
}

// ActionBroadcast 動作廣播（全房間，含發起者）
type ActionBroadcast struct {
	Action     string          `json:"action"`
	Params     json.RawMessage `json:"params"`
	PlayerSeat int             `json:"playerSeat"`
	PlayerName string          `json:"playerName"`
	IsHost     bool            `json:"isHost"`
}

// PlayerDisconnected 斷線通知（僅在遊戲進行中廣播）
type PlayerDisconnected struct {
	PlayerID  string `json:"playerId"`
	NewHostID string `json:"newHostId"`
}

// ErrorNotice 錯誤通知（僅發送者）
type ErrorNotice struct {
	Message string `json:"message"`
}

// turnInfoProbe 從不透明狀態中探取 turn 與 phase
type turnInfoProbe struct {
	Turn  json.RawMessage `json:"turn"`
	Phase json.RawMessage `json:"phase"`
}

// encodeMessage 將載荷封裝為出站幀
func encodeMessage(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}
