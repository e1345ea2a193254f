// Package mahjongrelay 提供一個麻將類遊戲的即時中繼服務器。
//
// 最多四個客戶端加入同一個「房間」，透過服務器交換不透明的
// 遊戲狀態與動作消息。遊戲規則（牌型合法性、計分、回合邏輯）
// 完全在客戶端；服務器只負責兩件事：
//
// 房間生命週期
//
// 提供完整的房間生命週期管理：
//   - 房間創建與即時銷毀（最後一人離開即刪除）
//   - 玩家加入與離開（座位 = 加入順序，離開不重新編號）
//   - 房主轉移（最早入座的剩餘玩家晉升）
//   - 開局與就緒標記（房主專屬）
//
// 消息扇出
//
// 按事件選擇三種投遞模式：
//   - 全房間：房間狀態快照、開局通知、就緒通知、動作廣播
//   - 房間內除發送者：遊戲狀態同步（提交者本地已是權威狀態）
//   - 僅發送者：確認、錯誤、創建/加入通知
//
// 架構設計
//
// 系統採用分層架構：
//   - Handler 層：健康檢查與統計的 HTTP 面
//   - Hub 層：WebSocket 網關與廣播中繼
//   - Registry 層：房間註冊表與會話綁定
//   - Room 層：封裝單一房間的不變式
//
// 狀態全部在內存中，重啟即丟失；不做跨房間匹配，
// 不驗證遊戲狀態內容（後寫者勝）。
//
// 配置選項
//
// 支援配置文件（config.yaml）與命令行覆蓋：
//   - -port：服務監聽端口（預設 3000）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//   - -config：配置文件路徑
package mahjongrelay
