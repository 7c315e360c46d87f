package extract

import (
	"context"

	"github.com/leilaodata/harvester/pkg/headless"
)

// headlessBrowser adapts a headless session to the engine's Browser
// interface.
type headlessBrowser struct {
	session *headless.Session
}

// NewHeadlessBrowser wraps a headless session for load_more pagination.
func NewHeadlessBrowser(session *headless.Session) Browser {
	return &headlessBrowser{session: session}
}

func (b *headlessBrowser) Open(ctx context.Context, url string) (BrowserTab, error) {
	tab, err := b.session.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return tab, nil
}
