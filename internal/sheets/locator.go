package sheets

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// spreadsheetPathRe matches the id segment of a Google Sheets document URL
	spreadsheetPathRe = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
	// bareIDRe matches a spreadsheet id given without a URL
	bareIDRe = regexp.MustCompile(`^[a-zA-Z0-9-_]{20,}$`)
)

// ParseLocator resolves a sheet URL or a bare spreadsheet id into the spreadsheet id.
func ParseLocator(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: locator is empty", ErrInvalidLocator)
	}

	if bareIDRe.MatchString(locator) {
		return locator, nil
	}

	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q is neither a spreadsheet URL nor an id", ErrInvalidLocator, locator)
	}

	m := spreadsheetPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("%w: no spreadsheet id in %q", ErrInvalidLocator, locator)
	}
	return m[1], nil
}
