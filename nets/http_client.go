package nets

import (
	"net/http"
	"time"
)

// HTTPClient fetches archives given as urls.
type HTTPClient = *http.Client

func (Module) HTTPClient(
	dialer Dialer,
) HTTPClient {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 30 * time.Second,
		},
	}
}
