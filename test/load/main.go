package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var wamidPattern = regexp.MustCompile(`^wamid\.HBgL[0-9A-F]{32}$`)

var lifecycle = []string{"sent", "delivered", "read"}

type settings struct {
	target       string
	rate         int
	duration     time.Duration
	workers      int
	recipient    string
	template     string
	callbackAddr string
	appSecret    string
	settle       time.Duration
}

func loadSettings() settings {
	return settings{
		target:       env("TARGET_URL", "http://localhost:3000/api/v1/simulation/106540352242922/messages"),
		rate:         envInt("REQUESTS_PER_SECOND", 200),
		duration:     time.Duration(envInt("DURATION_SECONDS", 10)) * time.Second,
		workers:      envInt("CONCURRENT_WORKERS", 50),
		recipient:    env("RECIPIENT", "4915123456789"),
		template:     env("TEMPLATE_NAME", "hello_world"),
		callbackAddr: os.Getenv("CALLBACK_ADDR"),
		appSecret:    os.Getenv("APP_SECRET"),
		settle:       time.Duration(envInt("SETTLE_SECONDS", 15)) * time.Second,
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

type ack struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// sendResults collects one row per template send.
type sendResults struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  map[string]int
	wamids    map[string]int
	malformed int
}

func newSendResults() *sendResults {
	return &sendResults{failures: map[string]int{}, wamids: map[string]int{}}
}

func (r *sendResults) record(latency time.Duration, wamid string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, latency)
	switch {
	case err != nil:
		r.failures[err.Error()]++
	case !wamidPattern.MatchString(wamid):
		r.malformed++
	default:
		r.wamids[wamid]++
	}
}

func send(client *http.Client, s settings, body []byte) (string, error) {
	resp, err := client.Post(s.target, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", errors.New("transport error")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.New("short body")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var a ack
	if err := json.Unmarshal(raw, &a); err != nil || len(a.Messages) != 1 {
		return "", errors.New("bad ack")
	}
	return a.Messages[0].ID, nil
}

// callbackLog counts status callbacks per wamid when the tool doubles as the
// client webhook receiver.
type callbackLog struct {
	secret string

	mu           sync.Mutex
	statuses     map[string][]string
	badSignature int
	badBody      int
}

type statusCallback struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (c *callbackLog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secret != "" && !validSignature(c.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		c.badSignature++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var cb statusCallback
	if err := json.Unmarshal(body, &cb); err != nil || len(cb.Entry) == 0 || len(cb.Entry[0].Changes) == 0 || len(cb.Entry[0].Changes[0].Value.Statuses) == 0 {
		c.badBody++
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	st := cb.Entry[0].Changes[0].Value.Statuses[0]
	c.statuses[st.ID] = append(c.statuses[st.ID], st.Status)
	w.WriteHeader(http.StatusOK)
}

func validSignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}

type lifecycleReport struct {
	complete   int
	partial    int
	missing    int
	outOfOrder int
	unknown    int
	perStatus  map[string]int

	badSignature int
	badBody      int
}

func (c *callbackLog) report(sent map[string]int) lifecycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	rep := lifecycleReport{perStatus: map[string]int{}, badSignature: c.badSignature, badBody: c.badBody}
	for wamid := range sent {
		got, ok := c.statuses[wamid]
		switch {
		case !ok:
			rep.missing++
		case slices.Equal(got, lifecycle):
			rep.complete++
		case len(got) < len(lifecycle) && slices.Equal(got, lifecycle[:len(got)]):
			rep.partial++
		default:
			rep.outOfOrder++
		}
		for _, st := range got {
			rep.perStatus[st]++
		}
	}
	for wamid := range c.statuses {
		if _, ok := sent[wamid]; !ok {
			rep.unknown++
		}
	}
	return rep
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	return sorted[min(i, len(sorted)-1)]
}

func main() {
	s := loadSettings()

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                s.recipient,
		"type":              "template",
		"template": map[string]any{
			"name":     s.template,
			"language": map[string]string{"code": "en_US"},
		},
	})
	if err != nil {
		panic(err)
	}

	var callbacks *callbackLog
	if s.callbackAddr != "" {
		callbacks = &callbackLog{secret: s.appSecret, statuses: map[string][]string{}}
		srv := &http.Server{Addr: s.callbackAddr, Handler: callbacks}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintln(os.Stderr, "callback listener:", err)
				os.Exit(1)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	fmt.Printf("target=%s rate=%d/s duration=%s workers=%d callbacks=%q\n", s.target, s.rate, s.duration, s.workers, s.callbackAddr)

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        s.workers,
			MaxIdleConnsPerHost: s.workers,
		},
	}
	results := newSendResults()

	jobs := make(chan struct{}, s.rate)
	var wg sync.WaitGroup
	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				start := time.Now()
				wamid, err := send(client, s, body)
				results.record(time.Since(start), wamid, err)
			}
		}()
	}

	started := time.Now()
	tick := time.NewTicker(time.Second / time.Duration(s.rate))
	deadline := time.After(s.duration)
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-tick.C:
			select {
			case jobs <- struct{}{}:
			default:
				// workers saturated, the request is not issued
			}
		}
	}
	tick.Stop()
	close(jobs)
	wg.Wait()
	elapsed := time.Since(started)

	results.mu.Lock()
	latencies := slices.Clone(results.latencies)
	wamids := results.wamids
	failures := results.failures
	malformed := results.malformed
	results.mu.Unlock()
	slices.Sort(latencies)

	duplicates := 0
	for _, n := range wamids {
		duplicates += n - 1
	}

	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("sends: %d in %s (%.1f/s)\n", len(latencies), elapsed.Round(time.Millisecond), float64(len(latencies))/elapsed.Seconds())
	fmt.Printf("acks: %d unique wamids, %d duplicates, %d malformed\n", len(wamids), duplicates, malformed)
	for reason, n := range failures {
		fmt.Printf("failed (%s): %d\n", reason, n)
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		percentile(latencies, 0.50), percentile(latencies, 0.95), percentile(latencies, 0.99), percentile(latencies, 1))

	if callbacks == nil {
		return
	}

	fmt.Printf("waiting %s for status callbacks...\n", s.settle)
	time.Sleep(s.settle)

	rep := callbacks.report(wamids)
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("callbacks: sent=%d delivered=%d read=%d\n", rep.perStatus["sent"], rep.perStatus["delivered"], rep.perStatus["read"])
	fmt.Printf("lifecycles: complete=%d partial=%d missing=%d out-of-order=%d\n", rep.complete, rep.partial, rep.missing, rep.outOfOrder)
	fmt.Printf("rejected: bad signature=%d bad body=%d unknown wamid=%d\n", rep.badSignature, rep.badBody, rep.unknown)

	if duplicates > 0 || malformed > 0 || rep.outOfOrder > 0 || rep.badSignature > 0 {
		os.Exit(1)
	}
}
