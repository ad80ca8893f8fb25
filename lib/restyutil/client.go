package restyutil

import (
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type ClientOptions struct {
	UserAgent string
	Timeout   time.Duration
	// Output receives full request/response dumps when debug logging is on,
	// it may be nil.
	Output InstrumentOutput
}

// NewClient builds a resty client with a cookie jar and the cloudflare
// bypass transport, the same way every portal-facing client in this repo
// is set up.
func NewClient(opts ClientOptions) (*resty.Client, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	client.SetHeader("user-agent", ua)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	InstrumentClient(client, nil, opts.Output)
	return client, nil
}
