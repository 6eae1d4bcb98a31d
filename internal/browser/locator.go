package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// Locator finds one element on a rendered page, either by ARIA role and
// accessible name or by a plain CSS selector.
type Locator struct {
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
	CSS  string `json:"css,omitempty"`
}

// ByRole locates an element by role whose text contains name, ignoring case.
func ByRole(role, name string) Locator {
	return Locator{Role: role, Name: name}
}

// ByCSS locates the first element matching selector.
func ByCSS(selector string) Locator {
	return Locator{CSS: selector}
}

var roleSelectors = map[string]string{
	"button": `button, [role="button"], input[type="button"], input[type="submit"]`,
	"link":   `a[href], [role="link"]`,
	"tab":    `[role="tab"]`,
}

// Selector returns the CSS selector list the locator queries.
func (l Locator) Selector() (string, error) {
	if l.CSS != "" {
		return l.CSS, nil
	}
	if l.Role == "" {
		return "", fmt.Errorf("locator has neither role nor css")
	}
	sel, ok := roleSelectors[strings.ToLower(l.Role)]
	if !ok {
		return fmt.Sprintf(`[role=%q]`, l.Role), nil
	}
	return sel, nil
}

// TextPattern returns the JS regex, in rod's /pattern/flags form, matched
// against element text. Empty when the locator has no name.
func (l Locator) TextPattern() string {
	if l.Name == "" {
		return ""
	}
	return "/" + regexp.QuoteMeta(l.Name) + "/i"
}

func (l Locator) String() string {
	if l.CSS != "" {
		return l.CSS
	}
	return fmt.Sprintf("role=%s[name=%q]", l.Role, l.Name)
}
