package internal_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/koopa0/mahjong-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *internal.Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return internal.NewRegistry(logger)
}

// TestRegistry_CreateRoom 測試創建房間
func TestRegistry_CreateRoom(t *testing.T) {
	reg := newTestRegistry()

	room, host := reg.CreateRoom("conn_host", "", nil)

	require.NotNil(t, room)
	assert.Len(t, room.ID, 6)
	assert.Equal(t, 0, host.Seat)
	assert.True(t, host.IsHost)
	assert.Equal(t, "Player1", host.Name)

	state := room.Snapshot()
	assert.Equal(t, internal.StatusWaiting, state.Status)
	assert.False(t, state.GameReady)
	assert.Equal(t, "conn_host", state.HostID)
	assert.Equal(t, internal.DefaultBasePoints, state.Settings["basePoints"])
	assert.Equal(t, internal.DefaultPerFanPoints, state.Settings["perFanPoints"])
	assert.Equal(t, internal.DefaultInitialPoints, state.Settings["initialPoints"])

	// 會話綁定
	roomID, bound := reg.RoomFor("conn_host")
	require.True(t, bound)
	assert.Equal(t, room.ID, roomID)

	// 註冊表可查
	got, err := reg.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Same(t, room, got)
}

// TestRegistry_JoinRoom 測試加入房間
func TestRegistry_JoinRoom(t *testing.T) {
	t.Run("unknown room id", func(t *testing.T) {
		reg := newTestRegistry()

		_, _, err := reg.JoinRoom("NOROOM", "conn_1", "小明")
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)
	})

	t.Run("seats strictly increasing across joins", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)

		for i := 1; i < internal.MaxPlayers; i++ {
			player, state, err := reg.JoinRoom(room.ID, fmt.Sprintf("conn_%d", i), "")
			require.NoError(t, err)
			assert.Equal(t, i, player.Seat)
			assert.False(t, player.IsHost)
			assert.Len(t, state.Players, i+1)
		}

		// 第五人被拒
		_, _, err := reg.JoinRoom(room.ID, "conn_5", "")
		assert.ErrorIs(t, err, internal.ErrRoomFull)
	})

	t.Run("playing room rejects join", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)
		_, _, err := reg.JoinRoom(room.ID, "conn_2", "")
		require.NoError(t, err)
		_, err = reg.StartGame(room.ID, "conn_host")
		require.NoError(t, err)

		_, _, err = reg.JoinRoom(room.ID, "conn_3", "")
		assert.ErrorIs(t, err, internal.ErrGameAlreadyStarted)
	})
}

// TestRegistry_LeaveRoom 測試離開房間與即時回收
func TestRegistry_LeaveRoom(t *testing.T) {
	t.Run("empty room removed from registry", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)

		result, ok := reg.LeaveRoom(room.ID, "conn_host")
		require.True(t, ok)
		assert.True(t, result.Deleted)
		assert.Nil(t, result.State)

		_, err := reg.GetRoom(room.ID)
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)

		_, bound := reg.RoomFor("conn_host")
		assert.False(t, bound)
	})

	t.Run("absent room or player is a no-op", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)

		_, ok := reg.LeaveRoom("NOROOM", "conn_host")
		assert.False(t, ok)

		_, ok = reg.LeaveRoom(room.ID, "conn_ghost")
		assert.False(t, ok)
		assert.Equal(t, 1, room.PlayerCount())
	})

	t.Run("playing flag carried for disconnect notification", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)
		_, _, err := reg.JoinRoom(room.ID, "conn_2", "")
		require.NoError(t, err)
		_, _, err = reg.JoinRoom(room.ID, "conn_3", "")
		require.NoError(t, err)
		_, err = reg.StartGame(room.ID, "conn_host")
		require.NoError(t, err)

		result, ok := reg.LeaveRoom(room.ID, "conn_host")
		require.True(t, ok)
		assert.True(t, result.WasPlaying)
		assert.Equal(t, "conn_2", result.NewHostID)
	})
}

// TestRegistry_HostTransferScenario 情境測試：預設設置、房主轉移、即時回收
func TestRegistry_HostTransferScenario(t *testing.T) {
	reg := newTestRegistry()

	// 以預設設置創建房間
	room, host := reg.CreateRoom("conn_alice", "", nil)
	state := room.Snapshot()
	assert.Equal(t, internal.DefaultBasePoints, state.Settings["basePoints"])
	assert.Equal(t, internal.DefaultPerFanPoints, state.Settings["perFanPoints"])
	assert.Equal(t, internal.DefaultInitialPoints, state.Settings["initialPoints"])
	assert.True(t, host.IsHost)

	// Bob 加入：座位 1，非房主
	bob, _, err := reg.JoinRoom(room.ID, "conn_bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bob.Seat)
	assert.False(t, bob.IsHost)

	// 房主離開：Bob 晉升，房間仍在
	result, ok := reg.LeaveRoom(room.ID, "conn_alice")
	require.True(t, ok)
	assert.False(t, result.Deleted)
	assert.Equal(t, "conn_bob", result.NewHostID)
	require.NotNil(t, result.State)
	assert.Equal(t, "conn_bob", result.State.HostID)
	require.Len(t, result.State.Players, 1)
	assert.True(t, result.State.Players[0].IsHost)

	// Bob 離開：房間從註冊表消失
	result, ok = reg.LeaveRoom(room.ID, "conn_bob")
	require.True(t, ok)
	assert.True(t, result.Deleted)
	_, err = reg.GetRoom(room.ID)
	assert.ErrorIs(t, err, internal.ErrRoomNotFound)
}

// TestRegistry_StartGame 測試開始遊戲
func TestRegistry_StartGame(t *testing.T) {
	t.Run("room not found", func(t *testing.T) {
		reg := newTestRegistry()
		_, err := reg.StartGame("NOROOM", "conn_1")
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)
	})

	t.Run("single player insufficient", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)

		_, err := reg.StartGame(room.ID, "conn_host")
		assert.ErrorIs(t, err, internal.ErrInsufficientPlayers)
	})

	t.Run("non-host rejected, host succeeds", func(t *testing.T) {
		reg := newTestRegistry()
		room, _ := reg.CreateRoom("conn_host", "", nil)
		_, _, err := reg.JoinRoom(room.ID, "conn_2", "")
		require.NoError(t, err)

		_, err = reg.StartGame(room.ID, "conn_2")
		assert.ErrorIs(t, err, internal.ErrNotHost)

		state, err := reg.StartGame(room.ID, "conn_host")
		require.NoError(t, err)
		assert.Equal(t, internal.StatusPlaying, state.Status)
	})
}

// TestRegistry_GameReadyAndState 測試就緒標記與狀態同步
func TestRegistry_GameReadyAndState(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("conn_host", "", nil)
	_, _, err := reg.JoinRoom(room.ID, "conn_2", "")
	require.NoError(t, err)

	// 非房主的就緒標記直接忽略
	_, ok := reg.SetGameReady(room.ID, "conn_2")
	assert.False(t, ok)

	// 非成員的狀態提交是無操作
	_, ok = reg.UpdateGameState(room.ID, "conn_ghost", json.RawMessage(`{"turn":5}`))
	assert.False(t, ok)
	_, exists := room.GameStateCopy()
	assert.False(t, exists)

	// 成員提交後，就緒通知帶出最後一份狀態
	player, ok := reg.UpdateGameState(room.ID, "conn_2", json.RawMessage(`{"turn":5}`))
	require.True(t, ok)
	assert.Equal(t, 1, player.Seat)

	gameState, ok := reg.SetGameReady(room.ID, "conn_host")
	require.True(t, ok)
	assert.JSONEq(t, `{"turn":5}`, string(gameState))
}

// TestRegistry_ResolveAction 測試動作發起者解析
func TestRegistry_ResolveAction(t *testing.T) {
	reg := newTestRegistry()
	room, _ := reg.CreateRoom("conn_host", "", nil)
	_, _, err := reg.JoinRoom(room.ID, "conn_2", "小華")
	require.NoError(t, err)

	player, ok := reg.ResolveAction(room.ID, "conn_2")
	require.True(t, ok)
	assert.Equal(t, 1, player.Seat)
	assert.Equal(t, "小華", player.Name)
	assert.False(t, player.IsHost)

	_, ok = reg.ResolveAction(room.ID, "conn_ghost")
	assert.False(t, ok)

	_, ok = reg.ResolveAction("NOROOM", "conn_2")
	assert.False(t, ok)
}

// TestRegistry_Stats 測試統計資訊
func TestRegistry_Stats(t *testing.T) {
	reg := newTestRegistry()

	roomA, _ := reg.CreateRoom("conn_a", "", nil)
	_, _, err := reg.JoinRoom(roomA.ID, "conn_b", "")
	require.NoError(t, err)
	_, err = reg.StartGame(roomA.ID, "conn_a")
	require.NoError(t, err)

	reg.CreateRoom("conn_c", "", nil)

	stats := reg.Stats()
	assert.Equal(t, 2, stats["total_rooms"])
	assert.Equal(t, 3, stats["total_players"])

	byStatus, ok := stats["by_status"].(map[internal.RoomStatus]int)
	require.True(t, ok)
	assert.Equal(t, 1, byStatus[internal.StatusPlaying])
	assert.Equal(t, 1, byStatus[internal.StatusWaiting])
}
