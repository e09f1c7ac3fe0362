package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Target page layout for the upstream microblogging service's QR login
// and search surfaces. The sidecar is the one component the spec treats as
// an opaque capability over the upstream's own protocol (spec.md §4.1); the
// selectors below describe the page structure the sidecar drives, not a
// contract spec.md asks us to get byte-for-byte right.
const (
	loginURL      = "https://passport.example-weibo.com/sso/signin"
	qrImageSel    = "img.qrcode"
	qrScannedSel  = ".qrcode-scanned"
	qrConfirmSel  = ".qrcode-confirmed"
	qrExpiredSel  = ".qrcode-expired"
	profileURL    = "https://weibo.example.com/ajax/profile/info"
	profileUIDSel = "[data-uid]"
	profileNameSel = ".profile-display-name"
	searchURLFmt  = "https://s.weibo.example.com/weibo?q=%s&timescope=custom:%s:%s&page=%d"
	captchaSel    = ".verify-captcha"
	rateLimitSel  = ".rate-limited-notice"
	postItemSel   = ".search-result-item"
	pagerNextSel  = ".pagination-next:not(.disabled)"
	pagerLastSel  = ".pagination-last"

	qrPollInterval = 2 * time.Second
	qrExpiresInS   = 180
)

// statusPusher is how a session reports async status_update frames back to
// whichever control connection is currently attached. Implemented by *hub.
type statusPusher interface {
	pushStatusUpdate(sessionID string, payload statusUpdatePayload)
}

// browserSession tracks one in-flight QR login attempt: its own chromedp
// tab, independent of any other session's.
type browserSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// sessionManager owns the shared chromedp allocator (one real browser
// process) and the set of live login-session tabs carved out of it.
// Grounded on the teacher's test/ui/page_layout_test.go allocator setup,
// adapted from a one-shot test fixture into a long-lived server component.
type sessionManager struct {
	logger   arbor.ILogger
	headless bool

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*browserSession
}

func newSessionManager(logger arbor.ILogger, headless bool) *sessionManager {
	return &sessionManager{
		logger:   logger,
		headless: headless,
		sessions: make(map[string]*browserSession),
	}
}

// start launches the shared browser process. Call once before serving.
func (sm *sessionManager) start() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", sm.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1280, 720),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	sm.allocCtx = allocCtx
	sm.allocCancel = allocCancel
	return nil
}

// stop tears down every live session tab and the shared browser process.
func (sm *sessionManager) stop() {
	sm.mu.Lock()
	for id, s := range sm.sessions {
		s.cancel()
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if sm.allocCancel != nil {
		sm.allocCancel()
	}
}

// openSession starts a fresh QR login attempt: a new tab navigates to the
// login page and screenshots the QR image (spec.md §4.1, "open_session()").
func (sm *sessionManager) openSession(sessionID string) (qrGeneratedPayload, error) {
	tabCtx, tabCancel := chromedp.NewContext(sm.allocCtx)

	var qrPNG []byte
	runCtx, runCancel := context.WithTimeout(tabCtx, 20*time.Second)
	defer runCancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(qrImageSel, chromedp.ByQuery),
		chromedp.Screenshot(qrImageSel, &qrPNG, chromedp.ByQuery),
	)
	if err != nil {
		tabCancel()
		return qrGeneratedPayload{}, fmt.Errorf("loading qr login page: %w", err)
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = &browserSession{id: sessionID, ctx: tabCtx, cancel: tabCancel}
	sm.mu.Unlock()

	return qrGeneratedPayload{
		QrImage:   base64.StdEncoding.EncodeToString(qrPNG),
		ExpiresIn: qrExpiresInS,
	}, nil
}

// watch polls the QR tab for scan/confirm/expiry and reports each
// transition through push, until a terminal state is reached or the tab's
// context is cancelled (spec.md §4.1, "listen(session_id)").
func (sm *sessionManager) watch(sessionID string, push statusPusher) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return
	}

	// Status strings mirror interfaces.SidecarStatus's exact casing
	// ("Pending", "Scanned", ...); the Bridge casts payload.Status
	// directly into that type with no normalization (connection.go's
	// dispatch for status_update), so any mismatch here would silently
	// desync the Orchestrator's state machine.
	deadline := time.Now().Add(qrExpiresInS * time.Second)
	lastStatus := "Pending"
	ticker := time.NewTicker(qrPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				push.pushStatusUpdate(sessionID, statusUpdatePayload{Status: "Expired"})
				sm.closeSession(sessionID)
				return
			}

			status, cookies, err := sm.pollQRState(sess.ctx)
			if err != nil {
				sm.logger.Warn().Err(err).Str("session_id", sessionID).Msg("qr poll failed")
				continue
			}
			if status == lastStatus {
				continue
			}
			lastStatus = status

			push.pushStatusUpdate(sessionID, statusUpdatePayload{Status: status, Cookies: cookies})

			if status == "Confirmed" || status == "Rejected" {
				sm.closeSession(sessionID)
				return
			}
		}
	}
}

// pollQRState inspects the QR page's DOM for the marker classes the login
// page toggles as the phone app scans and confirms, and on confirmation
// reads the session cookies off the tab.
func (sm *sessionManager) pollQRState(ctx context.Context) (string, map[string]string, error) {
	var confirmed, scanned, expired bool
	err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, qrConfirmSel), &confirmed),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, qrScannedSel), &scanned),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, qrExpiredSel), &expired),
	)
	if err != nil {
		return "", nil, err
	}

	switch {
	case confirmed:
		cookies, err := readCookies(ctx)
		if err != nil {
			return "", nil, err
		}
		return "Confirmed", cookies, nil
	case expired:
		return "Expired", nil, nil
	case scanned:
		return "Scanned", nil, nil
	default:
		return "Pending", nil, nil
	}
}

func (sm *sessionManager) closeSession(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[sessionID]; ok {
		s.cancel()
		delete(sm.sessions, sessionID)
	}
}

// readCookies extracts the active tab's cookies via CDP's Network domain.
func readCookies(ctx context.Context) (map[string]string, error) {
	var cdpCookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cdpCookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(cdpCookies))
	for _, c := range cdpCookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

// validate drives a throwaway tab to the profile probe with the supplied
// cookies and reports whether they yield a live session (spec.md §4.3).
func (sm *sessionManager) validate(cookies map[string]string) validationResultPayload {
	tabCtx, tabCancel := chromedp.NewContext(sm.allocCtx)
	defer tabCancel()

	runCtx, runCancel := context.WithTimeout(tabCtx, 10*time.Second)
	defer runCancel()

	if err := setCookies(runCtx, cookies, profileURL); err != nil {
		return validationResultPayload{Valid: false, Error: fmt.Sprintf("setting cookies: %v", err)}
	}

	var uid, displayName string
	var uidPresent bool
	err := chromedp.Run(runCtx,
		chromedp.Navigate(profileURL),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, profileUIDSel), &uidPresent),
	)
	if err != nil {
		return validationResultPayload{Valid: false, Error: fmt.Sprintf("loading profile probe: %v", err)}
	}
	if !uidPresent {
		return validationResultPayload{Valid: false, Error: "no-uid"}
	}

	_ = chromedp.Run(runCtx,
		chromedp.AttributeValue(profileUIDSel, "data-uid", &uid, nil, chromedp.ByQuery),
		chromedp.Text(profileNameSel, &displayName, chromedp.ByQuery, chromedp.NodeVisible),
	)

	return validationResultPayload{Valid: true, UID: uid, DisplayName: displayName}
}

// search drives a throwaway tab through one page of a keyword search over
// the supplied time range and scrapes the result list (spec.md §4.1,
// "search(cookies, keyword, range, page)").
func (sm *sessionManager) search(cookies map[string]string, keyword string, r timeRangeWire, page int) (searchResultPayload, error) {
	tabCtx, tabCancel := chromedp.NewContext(sm.allocCtx)
	defer tabCancel()

	runCtx, runCancel := context.WithTimeout(tabCtx, 15*time.Second)
	defer runCancel()

	url := fmt.Sprintf(searchURLFmt, keyword, r.Start, r.End, page)

	if err := setCookies(runCtx, cookies, url); err != nil {
		return searchResultPayload{}, fmt.Errorf("setting cookies: %w", err)
	}

	var captcha, rateLimited, hasNext bool
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(1*time.Second),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, captchaSel), &captcha),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, rateLimitSel), &rateLimited),
	)
	if err != nil {
		return searchResultPayload{}, fmt.Errorf("loading search results: %w", err)
	}
	if captcha {
		return searchResultPayload{CaptchaDetected: true}, nil
	}
	if rateLimited {
		return searchResultPayload{RateLimited: true}, nil
	}

	posts, err := scrapePosts(runCtx)
	if err != nil {
		return searchResultPayload{}, fmt.Errorf("scraping posts: %w", err)
	}

	_ = chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, pagerNextSel), &hasNext),
	)

	totalPages, _ := readTotalPages(runCtx)

	return searchResultPayload{
		Posts:       posts,
		HasNextPage: hasNext,
		TotalPages:  totalPages,
	}, nil
}

// scrapePosts extracts every result card on the current search-results
// page into the wire post shape the Bridge expects.
func scrapePosts(ctx context.Context) ([]wirePost, error) {
	var raw []map[string]string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(el => ({
		id: el.getAttribute('mid') || '',
		published_at: (el.querySelector('.time') || {}).getAttribute ? el.querySelector('.time').getAttribute('title') : '',
		content: (el.querySelector('.content') || {}).textContent || '',
		author: (el.querySelector('.author') || {}).textContent || ''
	}))`, postItemSel)

	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}

	posts := make([]wirePost, 0, len(raw))
	for _, m := range raw {
		if m["id"] == "" {
			continue
		}
		posts = append(posts, wirePost{
			ID:          m["id"],
			PublishedAt: m["published_at"],
			Content:     m["content"],
			Author:      m["author"],
		})
	}
	return posts, nil
}

// readTotalPages reads the upstream's own page-count indicator, used by
// the Time Sharder's page-1 probe (spec.md §4.5).
func readTotalPages(ctx context.Context) (int, error) {
	var total int
	var present bool
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, pagerLastSel), &present),
	); err != nil {
		return 0, err
	}
	if !present {
		return 1, nil
	}
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`parseInt((document.querySelector(%q) || {}).textContent || '1', 10)`, pagerLastSel), &total),
	); err != nil {
		return 1, nil
	}
	if total <= 0 {
		total = 1
	}
	return total, nil
}

// setCookies loads a cookie set into the tab's Network domain before
// navigation, so the subsequent page load is already authenticated.
func setCookies(ctx context.Context, cookies map[string]string, targetURL string) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for name, value := range cookies {
		params = append(params, &network.CookieParam{
			Name:  name,
			Value: value,
			URL:   targetURL,
		})
	}

	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := network.Enable().Do(c); err != nil {
			return err
		}
		return network.SetCookies(params).Do(c)
	}))
}
