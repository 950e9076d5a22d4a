// Package imapsession implements the IMAP Session (C9) component: a
// deadline-guarded go-imap/v2 client narrowed to the ingest contract
// (ordered UID search, RFC822 fetch, transient-error retry) plus a
// per-collector connection pool. UID ordering against the persisted cache
// (C10) lives in internal/imaporder.
package imapsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/collectorerr"
	"github.com/chrispatten/haven-collector/internal/logging"
)

// deadlineConn wraps a net.Conn to set read/write deadlines before each
// operation, preventing indefinite blocking on a slow or dead connection.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// SecurityType selects the connection security method.
type SecurityType string

const (
	SecurityNone     SecurityType = "none"
	SecurityTLS      SecurityType = "tls"
	SecurityStartTLS SecurityType = "starttls"
)

// AuthType selects how Login authenticates.
type AuthType string

const (
	AuthTypePassword AuthType = "password"
	AuthTypeOAuth2   AuthType = "oauth2"
)

// ClientConfig holds everything needed to connect and log in to one
// mailbox account. Username/Password/AccessToken are resolved once at
// session start via the Secret Resolver (C3), per §4.8.
type ClientConfig struct {
	Host     string
	Port     int
	Security SecurityType
	Username string
	Password string

	AuthType    AuthType
	AccessToken string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	TLSConfig *tls.Config
}

// DefaultConfig returns sensible connection timeouts.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Port:           993,
		Security:       SecurityTLS,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// Client wraps an imapclient.Client with reconnect-relevant state.
type Client struct {
	config ClientConfig
	client *imapclient.Client
	caps   imap.CapSet
	log    zerolog.Logger
}

// NewClient builds a Client but does not connect.
func NewClient(config ClientConfig) *Client {
	return &Client{config: config, log: logging.WithComponent("imap-session")}
}

// Connect dials the server per the configured SecurityType and waits for
// the greeting.
func (c *Client) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	options := &imapclient.Options{}

	var err error
	switch c.config.Security {
	case SecurityTLS:
		tlsConfig := c.config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: c.config.Host}
		}
		rawConn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if dialErr != nil {
			return collectorerr.TransientRemote("connect with tls: %v", dialErr)
		}
		wrapped := &deadlineConn{Conn: rawConn, readTimeout: c.config.ReadTimeout, writeTimeout: c.config.WriteTimeout}
		c.client = imapclient.New(wrapped, options)

	case SecurityStartTLS:
		if c.config.TLSConfig != nil {
			options.TLSConfig = c.config.TLSConfig
		}
		c.client, err = imapclient.DialStartTLS(addr, options)
		if err != nil {
			return collectorerr.TransientRemote("connect with starttls: %v", err)
		}

	case SecurityNone:
		rawConn, dialErr := dialer.Dial("tcp", addr)
		if dialErr != nil {
			return collectorerr.TransientRemote("connect: %v", dialErr)
		}
		wrapped := &deadlineConn{Conn: rawConn, readTimeout: c.config.ReadTimeout, writeTimeout: c.config.WriteTimeout}
		c.client = imapclient.New(wrapped, options)

	default:
		return collectorerr.Input("unknown security type %q", c.config.Security)
	}

	if err := c.client.WaitGreeting(); err != nil {
		c.client.Close()
		return collectorerr.TransientRemote("receive greeting: %v", err)
	}
	c.caps = c.client.Caps()
	return nil
}

// Login authenticates using password (LOGIN, or AUTHENTICATE PLAIN when
// LOGINDISABLED is advertised) or XOAUTH2 for oauth2 auth type.
func (c *Client) Login() error {
	if c.client == nil {
		return collectorerr.Fatal("imap login: not connected")
	}

	authType := c.config.AuthType
	if authType == "" {
		authType = AuthTypePassword
	}

	var err error
	switch authType {
	case AuthTypeOAuth2:
		err = c.loginOAuth2()
	default:
		err = c.loginPassword()
	}
	if err != nil {
		return err
	}

	c.caps = c.client.Caps()
	return nil
}

func (c *Client) loginPassword() error {
	if c.caps.Has(imap.CapLoginDisabled) {
		saslClient := sasl.NewPlainClient("", c.config.Username, c.config.Password)
		if err := c.client.Authenticate(saslClient); err != nil {
			return collectorerr.Remote(401, "authenticate plain failed: %v", err)
		}
		return nil
	}
	if err := c.client.Login(c.config.Username, c.config.Password).Wait(); err != nil {
		return collectorerr.Remote(401, "login failed: %v", err)
	}
	return nil
}

func (c *Client) loginOAuth2() error {
	if c.config.AccessToken == "" {
		return collectorerr.Input("oauth2 login requires an access token")
	}
	saslClient := newXOAuth2Client(c.config.Username, c.config.AccessToken)
	if err := c.client.Authenticate(saslClient); err != nil {
		return collectorerr.Remote(401, "xoauth2 authenticate failed: %v", err)
	}
	return nil
}

// xoauth2Client implements sasl.Client for the XOAUTH2 mechanism.
type xoauth2Client struct {
	username, token string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (a *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token))
	return "XOAUTH2", ir, nil
}

func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("xoauth2: unexpected server challenge: %s", challenge)
}

// Close logs out and closes the connection, tolerating a failed logout.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Logout().Wait(); err != nil {
		c.log.Warn().Err(err).Msg("logout failed, closing anyway")
	}
	return c.client.Close()
}

// ForceClose closes the underlying connection without a graceful logout,
// for use when the connection is known dead (pool Discard path).
func (c *Client) ForceClose() {
	if c.client == nil {
		return
	}
	c.client.Close()
}

// HasCap reports whether the server advertised the given capability.
func (c *Client) HasCap(cap imap.Cap) bool {
	return c.caps.Has(cap)
}

// SelectMailbox selects name, cancellable via ctx since Wait() otherwise
// blocks indefinitely.
func (c *Client) SelectMailbox(ctx context.Context, name string) (*imap.SelectData, error) {
	if c.client == nil {
		return nil, collectorerr.Fatal("select: not connected")
	}

	type result struct {
		data *imap.SelectData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.client.Select(name, nil).Wait()
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, collectorerr.TransientRemote("select %s: %v", name, r.err)
		}
		return r.data, nil
	}
}

// Search returns UIDs matching the given folder/since/before window,
// sorted descending, per the C9 contract `search(folder, since?, before?)
// → [UID]`.
func (c *Client) Search(ctx context.Context, folder string, since, before time.Time) ([]imap.UID, error) {
	if _, err := c.SelectMailbox(ctx, folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}
	if !before.IsZero() {
		criteria.Before = before
	}

	type result struct {
		data *imap.SearchData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.client.UIDSearch(criteria, nil).Wait()
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, collectorerr.TransientRemote("uid search %s: %v", folder, r.err)
		}
		uids := r.data.AllUIDs()
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
		return uids, nil
	}
}

// FetchRFC822 retrieves the full message body for uid in folder, per the
// C9 contract `fetchRFC822(folder, uid) → bytes`.
func (c *Client) FetchRFC822(ctx context.Context, folder string, uid imap.UID) ([]byte, error) {
	if _, err := c.SelectMailbox(ctx, folder); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	fetchOptions := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{}},
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		cmd := c.client.Fetch(uidSet, fetchOptions)
		defer cmd.Close()

		msg := cmd.Next()
		if msg == nil {
			ch <- result{nil, fmt.Errorf("message uid %d not found in %s", uid, folder)}
			return
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			if body, ok := item.(imapclient.FetchItemDataBodySection); ok {
				buf := make([]byte, 0)
				tmp := make([]byte, 32*1024)
				for {
					n, err := body.Literal.Read(tmp)
					if n > 0 {
						buf = append(buf, tmp[:n]...)
					}
					if err != nil {
						break
					}
				}
				ch <- result{buf, nil}
				return
			}
		}
		ch <- result{nil, fmt.Errorf("message uid %d had no body section", uid)}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, collectorerr.TransientRemote("fetch uid %d from %s: %v", uid, folder, r.err)
		}
		return r.data, nil
	}
}

// IsTransient reports whether err indicates a dead/broken connection that
// warrants a retry with fresh state, per §4.8's error policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if collectorerr.IsRetryable(err) {
		return true
	}
	errStr := err.Error()
	for _, substr := range []string{
		"use of closed network connection",
		"connection reset",
		"broken pipe",
		"EOF",
		"i/o timeout",
		"connection refused",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

// WithRetry runs op up to minAttempts times in total, retrying only while
// its error is transient, with exponential backoff between attempts
// (500ms, 1s, 2s, ...).
func WithRetry(ctx context.Context, minAttempts int, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < minAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < minAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 500 * time.Millisecond):
			}
		}
	}
	return lastErr
}
