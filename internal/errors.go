package internal

import "errors"

// 房間操作錯誤分類
//
// 所有錯誤都是可恢復的，只回傳給發起請求的連接，不會廣播。
// 未授權的請求（如非成員提交遊戲狀態）不回傳錯誤，直接忽略，
// 以可用性優先於嚴格的協議檢查。
var (
	ErrRoomNotFound        = errors.New("房間不存在")
	ErrRoomFull            = errors.New("房間已滿")
	ErrGameAlreadyStarted  = errors.New("遊戲已開始")
	ErrInsufficientPlayers = errors.New("玩家人數不足")
	ErrNotHost             = errors.New("只有房主可以執行此操作")
)
