package notify

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TwilioOptions configures the Twilio REST adapter.
type TwilioOptions struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromChat   string
	FromPhone  string
	ToChat     string
	ToPhone    string
	RatePerSec float64
	Timeout    time.Duration
}

// Twilio sends WhatsApp messages and places voice calls through the Twilio REST API.
type Twilio struct {
	opts    TwilioOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewTwilio(opts TwilioOptions, logger *slog.Logger) *Twilio {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.twilio.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Twilio{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "twilio"),
	}
}

func (t *Twilio) Notify(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("From", whatsappAddress(t.opts.FromChat))
	form.Set("To", whatsappAddress(t.opts.ToChat))
	form.Set("Body", text)
	sid, err := t.post(ctx, "Messages.json", form)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	t.logger.InfoContext(ctx, "message sent", "sid", sid)
	return nil
}

func (t *Twilio) PlaceCall(ctx context.Context, spoken string) error {
	twiml, err := CallScript(spoken)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("From", t.opts.FromPhone)
	form.Set("To", t.opts.ToPhone)
	form.Set("Twiml", twiml)
	sid, err := t.post(ctx, "Calls.json", form)
	if err != nil {
		return fmt.Errorf("place call: %w", err)
	}
	t.logger.InfoContext(ctx, "call placed", "sid", sid)
	return nil
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Twilio) post(ctx context.Context, resource string, form url.Values) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", strings.TrimRight(t.opts.BaseURL, "/"), t.opts.AccountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.opts.AccountSID, t.opts.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var out twilioResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 {
		if out.Message != "" {
			return "", fmt.Errorf("twilio %d (code %d): %s", resp.StatusCode, out.Code, out.Message)
		}
		return "", fmt.Errorf("twilio status %d", resp.StatusCode)
	}
	return out.SID, nil
}

func whatsappAddress(number string) string {
	if number == "" || strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr"`
	Language string   `xml:"language,attr"`
	Text     string   `xml:",chardata"`
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

func say(text string) twimlSay {
	return twimlSay{Voice: "alice", Language: "en-US", Text: text}
}

// CallScript renders the TwiML spoken on an escalation call: the reminder twice, then goodbye.
func CallScript(title string) (string, error) {
	doc := twimlResponse{Verbs: []any{
		twimlPause{Length: 1},
		say(fmt.Sprintf("This is your reminder assistant. You have a reminder: %s. Please check your messages for more details.", title)),
		twimlPause{Length: 2},
		say(fmt.Sprintf("Again, your reminder is: %s. Please check your messages.", title)),
		twimlPause{Length: 1},
		say("Goodbye."),
	}}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render call script: %w", err)
	}
	return xml.Header + string(out), nil
}
