package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// stealthScript hides the usual automation tells before any page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = { runtime: {} };
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications'
    ? Promise.resolve({ state: Notification.permission })
    : originalQuery(parameters)
);
`

// consentSelectors are clicked in order; most cookie walls on the target news
// sites use one of these.
var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	".onetrust-accept-btn-handler",
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"#CybotCookiebotDialogBodyButtonAccept",
	".sp_choice_type_11",
	".sp_choice_type_ACCEPT_ALL",
	".evidon-banner-acceptbutton",
	"#truste-consent-button",
	".qc-cmp2-summary-buttons button:first-child",
	".cc-accept",
	"#accept-cookies",
	"button[data-action='accept']",
	"[aria-label='Accept all']",
	"[aria-label*='Accept']",
}

// overlayCloseSelectors dismiss ad popups and newsletter modals.
var overlayCloseSelectors = []string{
	".pum-close",
	".popmake-close",
	".modal-close",
	".popup-close",
	".overlay-close",
	"[aria-label='Close']",
	".newsletter-close",
	".ad-close",
}

var blockIndicators = []string{
	"access denied",
	"bot detected",
	"captcha",
	"please verify",
	"checking your browser",
	"just a moment",
	"ddos protection",
}

var viewportSizes = [][2]int{
	{1920, 1080},
	{1440, 900},
	{1366, 768},
	{1536, 864},
	{2560, 1440},
}

// Browser drives a stealth-configured Chrome instance for pages that block
// plain HTTP clients or render content client-side.
type Browser struct {
	pageTimeout time.Duration
	logger      zerolog.Logger
	rng         *rand.Rand
}

// NewBrowser creates a browser fallback with the given page-load timeout.
func NewBrowser(pageTimeout time.Duration, logger zerolog.Logger) *Browser {
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}
	return &Browser{
		pageTimeout: pageTimeout,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetHTML fetches a fully rendered page. Three attempts: headless, headless
// with a longer wait, then a visible window for the stubborn targets.
func (b *Browser) GetHTML(ctx context.Context, url string) (string, error) {
	attempts := []struct {
		headless bool
		wait     time.Duration
	}{
		{true, b.pageTimeout},
		{true, b.pageTimeout + 10*time.Second},
		{false, b.pageTimeout + 15*time.Second},
	}

	var lastErr error
	for i, attempt := range attempts {
		b.logger.Debug().Str("url", url).Int("attempt", i+1).Bool("headless", attempt.headless).
			Msg("browser fetch attempt")

		html, err := b.fetchOnce(ctx, url, attempt.headless, attempt.wait)
		if err == nil {
			return html, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
	}

	return "", fmt.Errorf("%w: all browser attempts failed for %s: %v", ErrBotWall, url, lastErr)
}

// GetDocument fetches a rendered page as a parsed document.
func (b *Browser) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	html, err := b.GetHTML(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered html: %w", err)
	}
	return doc, nil
}

func (b *Browser) fetchOnce(ctx context.Context, url string, headless bool, wait time.Duration) (string, error) {
	viewport := viewportSizes[b.rng.Intn(len(viewportSizes))]
	ua := defaultUserAgents[b.rng.Intn(len(defaultUserAgents))]

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.WindowSize(viewport[0], viewport[1]),
		chromedp.UserAgent(ua),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, wait+30*time.Second)
	defer cancelRun()

	scrollAmount := 100 + b.rng.Intn(400)

	var html string
	tasks := chromedp.Tasks{
		chromedp.Evaluate(stealthScript, nil),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(b.randomDelay(2, 4)),
		b.clickFirstVisible(consentSelectors),
		chromedp.Sleep(b.randomDelay(1, 2)),
		b.clickFirstVisible(overlayCloseSelectors),
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", scrollAmount), nil),
		chromedp.Sleep(b.randomDelay(1, 2)),
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, -%d)", scrollAmount/2), nil),
		b.clickFirstVisible(overlayCloseSelectors),
		chromedp.OuterHTML("html", &html),
	}

	if err := chromedp.Run(runCtx, tasks); err != nil {
		return "", fmt.Errorf("browser navigation failed: %w", err)
	}

	lower := strings.ToLower(html)
	for _, indicator := range blockIndicators {
		if strings.Contains(lower, indicator) {
			return "", fmt.Errorf("block indicator %q on %s", indicator, url)
		}
	}

	return html, nil
}

// clickFirstVisible tries each selector and clicks the first present element.
// Absent selectors are normal and never fail the run.
func (b *Browser) clickFirstVisible(selectors []string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, sel := range selectors {
			clickCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			err := chromedp.Click(sel, chromedp.NodeVisible).Do(clickCtx)
			cancel()
			if err == nil {
				b.logger.Debug().Str("selector", sel).Msg("dismissed overlay")
				return nil
			}
		}
		return nil
	})
}

func (b *Browser) randomDelay(minSec, maxSec int) time.Duration {
	span := maxSec - minSec
	return time.Duration(minSec)*time.Second + time.Duration(b.rng.Intn(span*1000))*time.Millisecond
}
