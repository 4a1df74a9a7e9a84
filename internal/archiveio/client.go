package archiveio

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("dsarchive/archiveio")

// Response is a completed exchange with a 2xx status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client talks to the archive services. Every call runs the HTTP exchange
// on its own goroutine and waits at most timeout plus the grace period for
// it; a zero timeout uses the client default.
type Client interface {
	Get(ctx context.Context, url string, timeout time.Duration) (*Response, error)
	Head(ctx context.Context, url string, timeout time.Duration) (*Response, error)
	PostJSON(ctx context.Context, url string, body any, timeout time.Duration) (*Response, error)
	Put(ctx context.Context, url string, body io.Reader, size int64, timeout time.Duration) (*Response, error)
	PostStream(ctx context.Context, url string, body io.Reader, size int64, timeout time.Duration) (*Response, error)

	Download(ctx context.Context, url string, sink io.Writer, timeout time.Duration) (int64, error)
}

type Options struct {
	Credentials Credentials
	Timeout     time.Duration
	Grace       time.Duration

	// replaces the network transport in tests
	transport http.RoundTripper
}

type client struct {
	http    *http.Client
	creds   Credentials
	timeout time.Duration
	grace   time.Duration

	// resolved on first use and only read afterwards
	certOnce sync.Once
	cert     *tls.Certificate
	certErr  error

	passOnce sync.Once
	password string
	passErr  error
}

func NewClient(opts Options) (Client, error) {
	pool, err := loadCAPool(opts.Credentials.CAFile)
	if err != nil {
		return nil, err
	}

	cl := &client{
		creds:   opts.Credentials,
		timeout: opts.Timeout,
		grace:   opts.Grace,
	}
	if cl.timeout <= 0 {
		cl.timeout = 60 * time.Second
	}
	if cl.grace <= 0 {
		cl.grace = 5 * time.Second
	}

	tlsConfig := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if cl.creds.HasCertificate() {
		tlsConfig.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return cl.certificate()
		}
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	if opts.transport != nil {
		transport = opts.transport
	}

	cl.http = &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}

	return cl, nil
}

func (cl *client) certificate() (*tls.Certificate, error) {
	cl.certOnce.Do(func() {
		cert, err := LoadCertificate(cl.creds)
		if err != nil {
			cl.certErr = fmt.Errorf("failed to load client certificate: %w", err)
			return
		}
		cl.cert = &cert
	})
	return cl.cert, cl.certErr
}

func (cl *client) basicPassword() (string, error) {
	cl.passOnce.Do(func() {
		cl.password, cl.passErr = LoadPassword(cl.creds)
	})
	return cl.password, cl.passErr
}

func (cl *client) Get(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	return cl.do(ctx, request{method: http.MethodGet, url: url}, timeout)
}

func (cl *client) Head(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	return cl.do(ctx, request{method: http.MethodHead, url: url}, timeout)
}

func (cl *client) PostJSON(ctx context.Context, url string, body any, timeout time.Duration) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return cl.do(ctx, request{
		method:      http.MethodPost,
		url:         url,
		body:        bytes.NewReader(data),
		size:        int64(len(data)),
		contentType: "application/json",
	}, timeout)
}

func (cl *client) Put(ctx context.Context, url string, body io.Reader, size int64, timeout time.Duration) (*Response, error) {
	return cl.do(ctx, request{
		method:      http.MethodPut,
		url:         url,
		body:        body,
		size:        size,
		contentType: "application/octet-stream",
	}, timeout)
}

func (cl *client) PostStream(ctx context.Context, url string, body io.Reader, size int64, timeout time.Duration) (*Response, error) {
	return cl.do(ctx, request{
		method:      http.MethodPost,
		url:         url,
		body:        body,
		size:        size,
		contentType: "application/octet-stream",
	}, timeout)
}

// Download streams a successful response body into sink.
func (cl *client) Download(ctx context.Context, url string, sink io.Writer, timeout time.Duration) (int64, error) {
	wc := NewWriteCounter(sink)
	_, err := cl.do(ctx, request{method: http.MethodGet, url: url, sink: wc}, timeout)
	return wc.TotalBytes(), err
}

type request struct {
	method      string
	url         string
	body        io.Reader
	size        int64
	contentType string

	// successful response bodies are copied here instead of buffered
	sink io.Writer
}

type result struct {
	resp *Response
	err  error
}

func (cl *client) do(ctx context.Context, req request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = cl.timeout
	}

	ctx, span := tracer.Start(ctx, req.method+" "+req.url)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		resp, err := cl.exchange(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// the exchange has been asked to stop; give it the grace period
		grace := time.NewTimer(cl.grace)
		defer grace.Stop()

		select {
		case res = <-done:
		case <-grace.C:
			// the goroutine is left running; done is buffered so it can
			// still finish and exit on its own
			res.err = &ErrTimeout{msg: fmt.Sprintf("no response from %s after %s", req.url, timeout+cl.grace)}
		}
	}

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		return nil, res.err
	}
	span.SetAttributes(attribute.Int("http.status_code", res.resp.Status))

	return res.resp, nil
}

func (cl *client) exchange(ctx context.Context, req request) (*Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.method, req.url, req.body)
	if err != nil {
		return nil, err
	}
	if req.body != nil {
		hreq.ContentLength = req.size
		hreq.Header.Set("Content-Type", req.contentType)
	}
	hreq.Header.Set("X-Request-ID", uuid.NewString())

	if !cl.creds.HasCertificate() && cl.creds.Username != "" {
		password, err := cl.basicPassword()
		if err != nil {
			return nil, err
		}
		hreq.SetBasicAuth(cl.creds.Username, password)
	}

	hresp, err := cl.http.Do(hreq)
	if err != nil {
		return nil, classify(req.url, err)
	}
	defer hresp.Body.Close()

	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(hresp.Body, ExcerptLimit))
		return nil, statusError(hresp.StatusCode, excerpt)
	}

	resp := &Response{
		Status: hresp.StatusCode,
		Header: hresp.Header,
	}
	if req.sink != nil {
		if _, err := io.Copy(req.sink, hresp.Body); err != nil {
			return nil, classify(req.url, err)
		}
		return resp, nil
	}

	resp.Body, err = io.ReadAll(hresp.Body)
	if err != nil {
		return nil, classify(req.url, err)
	}
	return resp, nil
}
