package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log" // Standard log package for goproxy.Logger config
	"math/big"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"capturekit/logger"
	"capturekit/models"

	"github.com/elazarl/goproxy"
)

// CaptureRuleHeader carries the capture rule name the browser extension
// matched. It is stripped before the request goes upstream.
const CaptureRuleHeader = "X-Capture-Rule"

// Bodies are captured up to this size. Larger ones still pass through to
// the client whole but are not processed.
const maxCapturedBody = 16 << 20

// captureContext holds data passed between request and response handlers via ctx.UserData
type captureContext struct {
	start     time.Time
	ruleLabel string
	reqBody   []byte
}

// CaptureProxy is a MITM proxy that hands JSON responses from matching hosts
// to the pipeline.
type CaptureProxy struct {
	pipeline  *Pipeline
	hosts     *regexp.Regexp
	ca        tls.Certificate
	bodyLimit int64
}

func NewCaptureProxy(pipeline *Pipeline, hostPattern string) (*CaptureProxy, error) {
	re, err := regexp.Compile(hostPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy host pattern %q: %w", hostPattern, err)
	}
	return &CaptureProxy{pipeline: pipeline, hosts: re, ca: goproxy.GoproxyCa, bodyLimit: maxCapturedBody}, nil
}

// UseCA loads the CA that signs intercepted connections. Without it the
// proxy falls back to goproxy's built-in CA.
func (cp *CaptureProxy) UseCA(certPath, keyPath string) error {
	cert, key, err := loadCA(certPath, keyPath)
	if err != nil {
		return err
	}
	cp.ca = tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
	logger.CaptureInfo("CA certificate and key loaded from %s", certPath)
	return nil
}

func (cp *CaptureProxy) hostMatches(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return cp.hosts.MatchString(strings.ToLower(host))
}

// Handler builds the goproxy server. Only matching hosts are intercepted;
// every other CONNECT is tunnelled untouched.
func (cp *CaptureProxy) Handler() http.Handler {
	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = log.New(io.Discard, "", 0)
	tlsConfig := goproxy.TLSConfigFromCA(&cp.ca)

	proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if !cp.hostMatches(host) {
			return goproxy.OkConnect, host
		}
		logger.CaptureDebug("CONNECT %s intercepted (session %d)", host, ctx.Session)
		return &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: tlsConfig}, host
	}))

	proxy.OnRequest().DoFunc(
		func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
			label := r.Header.Get(CaptureRuleHeader)
			r.Header.Del(CaptureRuleHeader)
			if !cp.hostMatches(r.URL.Host) && !cp.hostMatches(r.Host) {
				return r, nil
			}

			var reqBody []byte
			if r.Body != nil {
				b, body, _, err := captureBody(r.Body, cp.bodyLimit)
				if err != nil {
					logger.CaptureError("REQ: Error reading request body for %s %s: %v", r.Method, r.URL, err)
				}
				r.Body = body
				reqBody = b
			}
			ctx.UserData = &captureContext{start: time.Now(), ruleLabel: label, reqBody: reqBody}
			logger.CaptureDebug("REQ: %s %s", r.Method, r.URL)
			return r, nil
		})

	proxy.OnResponse().DoFunc(
		func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
			cc, ok := ctx.UserData.(*captureContext)
			if !ok || cc == nil || resp == nil {
				return resp
			}
			if !isJSONResponse(resp) {
				logger.CaptureDebug("RESP: %s %s skipped (content type %q)", ctx.Req.Method, ctx.Req.URL, resp.Header.Get("Content-Type"))
				return resp
			}

			respBody, body, truncated, err := captureBody(resp.Body, cp.bodyLimit)
			resp.Body = body
			if err != nil {
				logger.CaptureError("RESP: Error reading response body for %s %s: %v", ctx.Req.Method, ctx.Req.URL, err)
				return resp
			}
			if truncated {
				logger.CaptureError("RESP: %s %s body exceeds %d bytes, passed through without capture", ctx.Req.Method, ctx.Req.URL, cp.bodyLimit)
				return resp
			}

			ex, err := buildExchange(ctx.Req, cc, resp, respBody)
			if err != nil {
				logger.CaptureError("RESP: %s %s: %v", ctx.Req.Method, ctx.Req.URL, err)
				return resp
			}
			summary := cp.pipeline.Process(context.WithoutCancel(ctx.Req.Context()), ex)
			logger.CaptureInfo("RESP: %d %s %s kind=%s saved=%d success=%t duplicate=%t (%s)",
				resp.StatusCode, ctx.Req.Method, ctx.Req.URL, summary.DataKind, summary.ItemsSaved,
				summary.Success, summary.Duplicate, time.Since(cc.start))
			if summary.ErrorMessage != "" {
				logger.CaptureDebug("RESP: %s: %s", summary.RequestID, summary.ErrorMessage)
			}
			return resp
		})

	return proxy
}

type replayBody struct {
	io.Reader
	io.Closer
}

// captureBody reads up to limit bytes of body and returns them with a
// replacement body that still yields every byte of the original.
func captureBody(body io.ReadCloser, limit int64) ([]byte, io.ReadCloser, bool, error) {
	head, err := io.ReadAll(io.LimitReader(body, limit+1))
	truncated := int64(len(head)) > limit
	replay := &replayBody{Reader: io.MultiReader(bytes.NewReader(head), body), Closer: body}
	if truncated {
		head = head[:limit]
	}
	return head, replay, truncated, err
}

// ListenAndServe runs the proxy until ctx is cancelled.
func (cp *CaptureProxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: cp.Handler(), ReadHeaderTimeout: 30 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.CaptureInfo("Capture proxy listening on %s (hosts %s)", addr, cp.hosts)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func isJSONResponse(resp *http.Response) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json") || strings.Contains(ct, "text/json")
}

// buildExchange turns an intercepted pair into a CapturedExchange with the
// response body already decoded.
func buildExchange(req *http.Request, cc *captureContext, resp *http.Response, respBody []byte) (models.CapturedExchange, error) {
	body, err := DecodeBody(respBody, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return models.CapturedExchange{}, err
	}
	respHeaders := flattenHeader(resp.Header)
	for k := range respHeaders {
		if strings.EqualFold(k, "Content-Encoding") {
			delete(respHeaders, k)
		}
	}
	capturedAt := cc.start.UTC()
	return models.CapturedExchange{
		RuleLabel:       cc.ruleLabel,
		URL:             req.URL.String(),
		Method:          req.Method,
		RequestHeaders:  flattenHeader(req.Header),
		RequestBody:     string(cc.reqBody),
		ResponseHeaders: respHeaders,
		ResponseBody:    string(body),
		StatusCode:      resp.StatusCode,
		CapturedAt:      &capturedAt,
	}, nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func GenerateAndSaveCA(certPath, keyPath string) error {
	localCaCert, localCaKey, err := generateCA("capturekit Capture Proxy CA")
	if err != nil {
		logger.Error("Failed to generate CA: %v", err)
		return fmt.Errorf("failed to generate CA: %w", err)
	}

	certOut, err := os.Create(certPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", certPath, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: localCaCert.Raw}); err != nil {
		return fmt.Errorf("failed to write CA certificate to %s: %w", certPath, err)
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", keyPath, err)
	}
	defer keyOut.Close()

	privBytes, err := x509.MarshalPKCS8PrivateKey(localCaKey)
	if err != nil {
		return fmt.Errorf("failed to marshal CA private key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}); err != nil {
		return fmt.Errorf("failed to write CA private key to %s: %w", keyPath, err)
	}
	logger.Info("CA certificate saved to %s, key to %s", certPath, keyPath)
	return nil
}

func loadCA(certPath, keyPath string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEMBlock, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA certificate file %s: %w", certPath, err)
	}
	certDERBlock, _ := pem.Decode(certPEMBlock)
	if certDERBlock == nil || certDERBlock.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("failed to decode CA certificate PEM block from %s", certPath)
	}
	cert, err := x509.ParseCertificate(certDERBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate from %s: %w", certPath, err)
	}

	keyPEMBlock, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key file %s: %w", keyPath, err)
	}
	keyDERBlock, _ := pem.Decode(keyPEMBlock)
	if keyDERBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode CA key PEM block from %s", keyPath)
	}

	var parsedKey any
	switch keyDERBlock.Type {
	case "PRIVATE KEY":
		parsedKey, err = x509.ParsePKCS8PrivateKey(keyDERBlock.Bytes)
	case "RSA PRIVATE KEY":
		parsedKey, err = x509.ParsePKCS1PrivateKey(keyDERBlock.Bytes)
	default:
		return nil, nil, fmt.Errorf("unknown CA key PEM block type '%s' from %s", keyDERBlock.Type, keyPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA private key from %s (type %s): %w", keyPath, keyDERBlock.Type, err)
	}
	key, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("CA key from %s is not an RSA private key", keyPath)
	}
	return cert, key, nil
}

func generateCA(commonName string) (*x509.Certificate, *rsa.PrivateKey, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"capturekit"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse generated CA certificate: %w", err)
	}
	return cert, privKey, nil
}
