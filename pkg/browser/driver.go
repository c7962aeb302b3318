package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// DefaultActionTimeout bounds a single browser action.
const DefaultActionTimeout = 30 * time.Second

// Driver is the set of page operations the computer tool needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Click(ctx context.Context, x, y int) error
	ClickSelector(ctx context.Context, selector string) error
	Type(ctx context.Context, text string) error
	Key(ctx context.Context, key string) error
	Scroll(ctx context.Context, dx, dy int) error
	Text(ctx context.Context) (string, error)
	Info(ctx context.Context) (PageInfo, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

var keys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"up":         input.ArrowUp,
	"down":       input.ArrowDown,
	"left":       input.ArrowLeft,
	"right":      input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"page_up":    input.PageUp,
	"pagedown":   input.PageDown,
	"page_down":  input.PageDown,
}

// lookupKey resolves a key name case-insensitively.
func lookupKey(name string) (input.Key, bool) {
	k, ok := keys[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// RodDriver drives a single Chrome page through go-rod. The browser is
// launched on first use.
type RodDriver struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewRodDriver creates a driver; no process is started until the first action.
func NewRodDriver(cfg Config) *RodDriver {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	return &RodDriver{cfg: cfg, logger: cfg.Logger}
}

// ensurePage launches Chrome and opens the working page if needed.
func (d *RodDriver) ensurePage() (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		return d.page, nil
	}

	l := launcher.New().Headless(d.cfg.Headless)
	if d.cfg.BinPath != "" {
		l = l.Bin(d.cfg.BinPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("failed to launch Chrome: %v", err),
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("failed to connect to Chrome: %v", err),
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("failed to open page: %v", err),
		}
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.Width,
		Height:            d.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to set viewport")
	}

	d.launcher = l
	d.browser = browser
	d.page = page
	d.logger.Info().Bool("headless", d.cfg.Headless).Int("width", d.cfg.Width).Int("height", d.cfg.Height).Msg("Browser started")

	if d.cfg.StartURL != "" {
		if err := d.navigate(context.Background(), page, d.cfg.StartURL); err != nil {
			d.logger.Warn().Err(err).Str("url", d.cfg.StartURL).Msg("Failed to open start URL")
		}
	}
	return page, nil
}

func (d *RodDriver) scoped(ctx context.Context) (*rod.Page, error) {
	page, err := d.ensurePage()
	if err != nil {
		return nil, err
	}
	return page.Context(ctx).Timeout(d.cfg.ActionTimeout), nil
}

func (d *RodDriver) navigate(ctx context.Context, page *rod.Page, url string) error {
	p := page.Context(ctx).Timeout(d.cfg.ActionTimeout)
	if err := p.Navigate(url); err != nil {
		return &BrowserError{
			Code:    ErrCodeNavigation,
			Message: fmt.Sprintf("failed to navigate to %s: %v", url, err),
		}
	}
	if err := p.WaitLoad(); err != nil {
		return &BrowserError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("page load timeout: %v", err),
		}
	}
	return nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	return d.navigate(ctx, page, url)
}

func (d *RodDriver) Back(ctx context.Context) error {
	p, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	if err := p.NavigateBack(); err != nil {
		return &BrowserError{Code: ErrCodeNavigation, Message: fmt.Sprintf("failed to go back: %v", err)}
	}
	return nil
}

func (d *RodDriver) Click(ctx context.Context, x, y int) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	if err := page.Mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to move mouse: %v", err)}
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to click: %v", err)}
	}
	return nil
}

func (d *RodDriver) ClickSelector(ctx context.Context, selector string) error {
	p, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	elem, err := p.Element(selector)
	if err != nil {
		return &BrowserError{
			Code:    ErrCodeElementNotFound,
			Message: fmt.Sprintf("element not found: %s", selector),
			Details: map[string]interface{}{"selector": selector},
		}
	}
	if err := elem.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to click element: %v", err)}
	}
	return nil
}

func (d *RodDriver) Type(ctx context.Context, text string) error {
	p, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	if err := p.InsertText(text); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to type: %v", err)}
	}
	return nil
}

func (d *RodDriver) Key(ctx context.Context, key string) error {
	k, ok := lookupKey(key)
	if !ok {
		return &BrowserError{Code: ErrCodeValidation, Message: fmt.Sprintf("unsupported key: %s", key)}
	}
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	if err := page.Keyboard.Type(k); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to press %s: %v", key, err)}
	}
	return nil
}

func (d *RodDriver) Scroll(ctx context.Context, dx, dy int) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	if err := page.Mouse.Scroll(float64(dx), float64(dy), 1); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to scroll: %v", err)}
	}
	return nil
}

func (d *RodDriver) Text(ctx context.Context) (string, error) {
	p, err := d.scoped(ctx)
	if err != nil {
		return "", err
	}
	res, err := p.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to extract text: %v", err)}
	}
	return res.Value.String(), nil
}

func (d *RodDriver) Info(ctx context.Context) (PageInfo, error) {
	p, err := d.scoped(ctx)
	if err != nil {
		return PageInfo{}, err
	}
	info, err := p.Info()
	if err != nil {
		return PageInfo{}, &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to read page info: %v", err)}
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	p, err := d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	data, err := p.Screenshot(false, nil)
	if err != nil {
		return nil, &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("failed to capture screenshot: %v", err)}
	}
	return data, nil
}

// ReadText opens url and returns the visible page text.
func (d *RodDriver) ReadText(ctx context.Context, url string) (string, error) {
	if err := d.Navigate(ctx, url); err != nil {
		return "", err
	}
	return d.Text(ctx)
}

// Close shuts the browser down. It is safe to call more than once.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.browser != nil {
		err = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Kill()
	}
	d.browser, d.page, d.launcher = nil, nil, nil
	return err
}
