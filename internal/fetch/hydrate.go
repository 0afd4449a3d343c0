package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Body fetches a notice's HTML page and extracts its plain text so the
// index can search inside the full notice, not just the title. Best
// effort: callers treat an error here as "no body", never as a run failure.
func (c *Client) Body(ctx context.Context, urlHTML string) (string, error) {
	if strings.TrimSpace(urlHTML) == "" {
		return "", nil
	}
	if err := c.limiter.WaitURL(ctx, urlHTML); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlHTML, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("notice page status %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return "", fmt.Errorf("parse notice html: %w", err)
	}

	// The gazette renders the notice text inside #textoxslt; older pages
	// only have plain paragraphs.
	sel := doc.Find("#textoxslt p")
	if sel.Length() == 0 {
		sel = doc.Find("#textoxslt")
	}
	if sel.Length() == 0 {
		sel = doc.Find("p")
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := cleanHTMLText(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n"), nil
}

func cleanHTMLText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}
