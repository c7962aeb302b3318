// Package browser provides the screenshot-returning computer tool the
// worker uses to operate a web browser, plus page reading for context
// pre-loading.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/triad/pkg/toolexecutor"
)

// ComputerToolName is the tool name exposed to the model.
const ComputerToolName = "computer"

// DefaultScrollAmount is the scroll distance in pixels when none is given.
const DefaultScrollAmount = 500

// Actions accepted by the computer tool.
const (
	ActionScreenshot = "screenshot"
	ActionNavigate   = "navigate"
	ActionClick      = "click"
	ActionType       = "type"
	ActionKey        = "key"
	ActionScroll     = "scroll"
	ActionBack       = "back"
	ActionReadText   = "read_text"
)

// Computer executes browser actions and reports the resulting screen.
type Computer struct {
	driver    Driver
	validator *SecurityValidator
}

// NewComputer creates a computer tool over driver.
func NewComputer(driver Driver, validator *SecurityValidator) *Computer {
	return &Computer{driver: driver, validator: validator}
}

// RegisterComputerTool registers the computer tool with the executor.
func RegisterComputerTool(executor *toolexecutor.ToolExecutor, computer *Computer) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if err := executor.RegisterTool(computer.Definition()); err != nil {
		return fmt.Errorf("failed to register tool %s: %w", ComputerToolName, err)
	}
	return nil
}

// Definition returns the gateway definition of the tool.
func (c *Computer) Definition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ComputerToolName,
		Description: "Use a web browser. Every action except read_text returns a screenshot of the page afterwards. " +
			"Coordinates are viewport pixels measured on the latest screenshot.",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "action",
				Type:        "string",
				Description: "The action to perform",
				Required:    true,
				Enum: []interface{}{
					ActionScreenshot, ActionNavigate, ActionClick, ActionType,
					ActionKey, ActionScroll, ActionBack, ActionReadText,
				},
			},
			{Name: "url", Type: "string", Description: "URL for navigate", Required: false},
			{Name: "x", Type: "integer", Description: "X coordinate for click", Required: false},
			{Name: "y", Type: "integer", Description: "Y coordinate for click", Required: false},
			{Name: "selector", Type: "string", Description: "CSS selector to click instead of coordinates", Required: false},
			{Name: "text", Type: "string", Description: "Text to type", Required: false},
			{Name: "key", Type: "string", Description: "Key to press, e.g. Enter, Tab, Escape, ArrowDown, PageDown", Required: false},
			{
				Name:        "direction",
				Type:        "string",
				Description: "Scroll direction",
				Required:    false,
				Enum:        []interface{}{"up", "down", "left", "right"},
			},
			{Name: "amount", Type: "integer", Description: "Scroll distance in pixels (default 500)", Required: false},
		},
		Handler: c.handle,
	}
}

func (c *Computer) handle(ctx context.Context, params map[string]interface{}) (toolexecutor.Result, error) {
	action, _ := params["action"].(string)

	var output string
	switch action {
	case ActionScreenshot:
		return c.capture(ctx, "")

	case ActionReadText:
		text, err := c.driver.Text(ctx)
		if err != nil {
			return toolexecutor.Result{}, err
		}
		return toolexecutor.Result{Output: strings.TrimSpace(text)}, nil

	case ActionNavigate:
		url, _ := params["url"].(string)
		if url == "" {
			return toolexecutor.Result{}, toolexecutor.NewToolError("url is required for navigate")
		}
		if c.validator != nil {
			if err := c.validator.ValidateURL(url); err != nil {
				return toolexecutor.Result{}, err
			}
		}
		if err := c.driver.Navigate(ctx, url); err != nil {
			return toolexecutor.Result{}, err
		}
		output = "navigated to " + url

	case ActionClick:
		if selector, _ := params["selector"].(string); selector != "" {
			if err := c.driver.ClickSelector(ctx, selector); err != nil {
				return toolexecutor.Result{}, err
			}
			output = "clicked " + selector
			break
		}
		x, okX := intParam(params, "x")
		y, okY := intParam(params, "y")
		if !okX || !okY {
			return toolexecutor.Result{}, toolexecutor.NewToolError("x and y, or selector, are required for click")
		}
		if x < 0 || y < 0 {
			return toolexecutor.Result{}, toolexecutor.NewToolError("coordinates must be non-negative, got (%d, %d)", x, y)
		}
		if err := c.driver.Click(ctx, x, y); err != nil {
			return toolexecutor.Result{}, err
		}
		output = fmt.Sprintf("clicked at (%d, %d)", x, y)

	case ActionType:
		text, _ := params["text"].(string)
		if text == "" {
			return toolexecutor.Result{}, toolexecutor.NewToolError("text is required for type")
		}
		if err := c.driver.Type(ctx, text); err != nil {
			return toolexecutor.Result{}, err
		}
		output = fmt.Sprintf("typed %d characters", len([]rune(text)))

	case ActionKey:
		key, _ := params["key"].(string)
		if key == "" {
			return toolexecutor.Result{}, toolexecutor.NewToolError("key is required for key")
		}
		if err := c.driver.Key(ctx, key); err != nil {
			return toolexecutor.Result{}, err
		}
		output = "pressed " + key

	case ActionScroll:
		direction, _ := params["direction"].(string)
		amount, ok := intParam(params, "amount")
		if !ok || amount <= 0 {
			amount = DefaultScrollAmount
		}
		dx, dy, err := scrollDelta(direction, amount)
		if err != nil {
			return toolexecutor.Result{}, err
		}
		if err := c.driver.Scroll(ctx, dx, dy); err != nil {
			return toolexecutor.Result{}, err
		}
		output = fmt.Sprintf("scrolled %s by %d", direction, amount)

	case ActionBack:
		if err := c.driver.Back(ctx); err != nil {
			return toolexecutor.Result{}, err
		}
		output = "went back"

	default:
		return toolexecutor.Result{}, toolexecutor.NewToolError("unsupported action %q", action)
	}

	return c.capture(ctx, output)
}

// capture appends the page location and a screenshot to output. A failed
// screenshot does not fail an action that already happened.
func (c *Computer) capture(ctx context.Context, output string) (toolexecutor.Result, error) {
	res := toolexecutor.Result{Output: output}

	if info, err := c.driver.Info(ctx); err == nil && info.URL != "" {
		location := fmt.Sprintf("current page: %s", info.URL)
		if info.Title != "" {
			location += fmt.Sprintf(" (%s)", info.Title)
		}
		if res.Output != "" {
			res.Output += "\n"
		}
		res.Output += location
	}

	data, err := c.driver.Screenshot(ctx)
	if err != nil {
		if output == "" {
			return toolexecutor.Result{}, err
		}
		res.System = "screenshot unavailable: " + err.Error()
		return res, nil
	}
	res.Image = base64.StdEncoding.EncodeToString(data)
	return res, nil
}

func scrollDelta(direction string, amount int) (int, int, error) {
	switch direction {
	case "down":
		return 0, amount, nil
	case "up":
		return 0, -amount, nil
	case "right":
		return amount, 0, nil
	case "left":
		return -amount, 0, nil
	default:
		return 0, 0, toolexecutor.NewToolError("direction must be one of up, down, left, right")
	}
}

func intParam(params map[string]interface{}, name string) (int, bool) {
	switch v := params[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
