// Command tracelight-probe sends synthetic error envelopes at a running
// tracelight instance. Useful as a smoke test after deploys and as a small
// load generator for the grouping pipeline.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/tracelight/tracelight/internal/envelope"
)

var backoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

func main() {
	_ = godotenv.Load()

	var (
		dsnFlag  = flag.String("dsn", os.Getenv("PROBE_DSN"), "project DSN (or PROBE_DSN)")
		count    = flag.Int("count", 1, "number of envelopes to send")
		interval = flag.Duration("interval", time.Second, "pause between envelopes")
		useGzip  = flag.Bool("gzip", false, "gzip-compress envelope bodies")
		message  = flag.String("message", "synthetic failure from tracelight-probe", "exception message")
	)
	flag.Parse()

	if *dsnFlag == "" {
		log.Fatal("a DSN is required: pass -dsn or set PROBE_DSN")
	}
	dsn, err := envelope.ParseDSN(*dsnFlag)
	if err != nil {
		log.WithError(err).Fatal("invalid DSN")
	}

	endpoint := fmt.Sprintf("%s://%s/api/%s/envelope", dsn.Scheme, dsn.Host, dsn.ProjectID)
	client := &http.Client{Timeout: 30 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sent := 0
	for i := 0; i < *count && ctx.Err() == nil; i++ {
		body, err := buildEnvelope(*message)
		if err != nil {
			log.WithError(err).Fatal("build envelope")
		}
		id, err := send(ctx, client, endpoint, dsn.PublicKey, body, *useGzip)
		if err != nil {
			log.WithError(err).WithField("n", i+1).Warn("send failed")
		} else {
			sent++
			log.WithFields(log.Fields{"n": i + 1, "event_id": id}).Info("accepted")
		}
		if i+1 < *count {
			sleepCtx(ctx, *interval)
		}
	}
	log.WithFields(log.Fields{"sent": sent, "total": *count}).Info("done")
	if sent < *count {
		os.Exit(1)
	}
}

// buildEnvelope renders one envelope holding one synthetic exception event.
// The embedded request id varies per event, so the server's message
// normalization is what groups them.
func buildEnvelope(message string) ([]byte, error) {
	payload := map[string]any{
		"level":       "error",
		"platform":    "go",
		"environment": "probe",
		"tags":        map[string]string{"origin": "tracelight-probe"},
		"user":        map[string]string{"id": "probe-" + randomHex(4)},
		"exception": map[string]any{
			"values": []any{
				map[string]any{
					"type":  "ProbeError",
					"value": fmt.Sprintf("%s (request %s)", message, randomHex(16)),
					"stacktrace": map[string]any{
						"frames": []any{
							map[string]any{
								"filename": "probe/main.go",
								"function": "emit",
								"lineno":   42,
								"in_app":   true,
							},
						},
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	for _, line := range []any{
		map[string]any{},
		map[string]any{"type": "event"},
		payload,
	} {
		b, err := json.Marshal(line)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// send POSTs one envelope, retrying connection errors and 5xx responses
// with a short backoff.
func send(ctx context.Context, client *http.Client, endpoint, key string, body []byte, useGzip bool) (string, error) {
	payload := body
	if useGzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return "", err
		}
		if err := zw.Close(); err != nil {
			return "", err
		}
		payload = buf.Bytes()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		id, retry, err := post(ctx, client, endpoint, key, payload, useGzip)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !retry || attempt >= len(backoff) {
			return "", lastErr
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("retrying")
		if !sleepCtx(ctx, backoff[attempt]) {
			return "", lastErr
		}
	}
}

func post(ctx context.Context, client *http.Client, endpoint, key string, payload []byte, useGzip bool) (id string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	req.Header.Set("X-Sentry-Auth",
		fmt.Sprintf("Sentry sentry_version=7, sentry_client=tracelight-probe/1.0, sentry_key=%s", key))
	if useGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", true, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode >= 500, fmt.Errorf("server said %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false, fmt.Errorf("unexpected response body: %w", err)
	}
	return out.ID, false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
