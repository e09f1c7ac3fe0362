package server

import "net/http"

// setupRoutes binds every named RPC of spec.md §6.1 to an HTTP path, plus
// the WebSocket upgrade endpoint for the Event Bus. Grounded on the
// teacher's internal/server/routes.go: one ServeMux, one HandleFunc per
// procedure, no router library.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.ws.ServeHTTP)

	mux.HandleFunc("/rpc/generate_qrcode", s.handleGenerateQRCode)
	mux.HandleFunc("/rpc/poll_login_status", s.handlePollLoginStatus)
	mux.HandleFunc("/rpc/cancel_login", s.handleCancelLogin)

	mux.HandleFunc("/rpc/save_cookies", s.handleSaveCookies)
	mux.HandleFunc("/rpc/query_cookies", s.handleQueryCookies)
	mux.HandleFunc("/rpc/delete_cookies", s.handleDeleteCookies)
	mux.HandleFunc("/rpc/list_all_uids", s.handleListAllUIDs)

	mux.HandleFunc("/rpc/create_crawl_task", s.handleCreateCrawlTask)
	mux.HandleFunc("/rpc/start_crawl", s.handleStartCrawl)
	mux.HandleFunc("/rpc/pause_crawl", s.handlePauseCrawl)
	mux.HandleFunc("/rpc/cancel_crawl", s.handleCancelCrawl)
	mux.HandleFunc("/rpc/get_crawl_task", s.handleGetCrawlTask)
	mux.HandleFunc("/rpc/get_crawl_checkpoint", s.handleGetCrawlCheckpoint)
	mux.HandleFunc("/rpc/list_crawl_tasks", s.handleListCrawlTasks)
	mux.HandleFunc("/rpc/export_crawl_data", s.handleExportCrawlData)

	mux.HandleFunc("/rpc/start_playwright_server", s.handleStartPlaywrightServer)
	mux.HandleFunc("/rpc/stop_playwright_server", s.handleStopPlaywrightServer)
	mux.HandleFunc("/rpc/check_playwright_server", s.handleCheckPlaywrightServer)
	mux.HandleFunc("/rpc/get_playwright_logs", s.handleGetPlaywrightLogs)

	return mux
}
