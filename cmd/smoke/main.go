package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type testResp struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Secret    string  `json:"secret"`
	API       *string `json:"api"`
	PushURL   string  `json:"pushUrl"`
	Validator string  `json:"validator"`
	Complete  bool    `json:"complete"`
	State     string  `json:"state"`
}

type ingestResp struct {
	State        string `json:"state"`
	Observations int    `json:"observations"`
}

type client struct {
	http     *http.Client
	base     string
	user     string
	password string
}

func main() {
	baseFlag := flag.String("base", envOr("API_BASE_URL", "http://localhost:4567"), "API base URL")
	userFlag := flag.String("user", os.Getenv("CMX_ADMIN_USER"), "admin username")
	passFlag := flag.String("password", os.Getenv("CMX_ADMIN_PASSWORD"), "admin password")
	flag.Parse()

	c := &client{
		http:     &http.Client{Timeout: 12 * time.Second},
		base:     strings.TrimRight(*baseFlag, "/"),
		user:     *userFlag,
		password: *passFlag,
	}

	// 1) Create test
	var created testResp
	body := map[string]any{"name": "smoke", "case": "devices-seen", "secret": "smoke-secret", "validator": "smoke-validator"}
	if code, err := c.do(http.MethodPost, "/tests", "application/json", mustJSON(body), true, &created); err != nil || code != http.StatusCreated {
		fatalf("create test: %d %v", code, err)
	}
	fmt.Printf("✅ Created test: id=%s push_url=%s\n", created.ID, created.PushURL)

	// 2) Validator read path
	validator, err := c.text("/data/" + created.ID)
	if err != nil || validator != created.Validator {
		fatalf("validator: got %q: %v", validator, err)
	}
	fmt.Println("✅ Validator served")

	// 3) Bad secret
	expectPost(c, created.ID, "application/json", `{"secret":"wrong","version":"2.0"}`, "bad_secret")

	// 4) Unknown version
	expectPost(c, created.ID, "application/json", `{"secret":"smoke-secret","version":"9.9"}`, "bad_api")

	// 5) v1 probing post sent as a form, the way older controllers post
	v1 := url.Values{"data": {`{"secret":"smoke-secret","version":"1.0","probing":[{"client_mac":"00:11:22:33:44:55","rssi":-60}]}`}}
	expectPost(c, created.ID, "application/x-www-form-urlencoded", v1.Encode(), "complete")

	// 6) v2 DevicesSeen post
	v2 := map[string]any{
		"secret":  "smoke-secret",
		"version": "2.0",
		"type":    "DevicesSeen",
		"data": map[string]any{
			"apMac":    "00:aa:bb:cc:dd:ee",
			"apFloors": []string{"HQ>Floor 1"},
			"observations": []map[string]any{
				{
					"clientMac":    "00:11:22:33:44:55",
					"location":     map[string]any{"lat": 37.4, "lng": -122.1, "unc": 4.2},
					"unc":          4.2,
					"seenTime":     time.Now().UTC().Format(time.RFC3339),
					"seenEpoch":    time.Now().Unix(),
					"manufacturer": "Smoke",
					"os":           "Linux",
					"ssid":         "smoke-net",
				},
				{"clientMac": "00:11:22:33:44:66"},
			},
		},
	}
	ack := expectPost(c, created.ID, "application/json", string(mustJSON(v2)), "complete")
	if ack.Observations != 1 {
		fatalf("expected 1 stored observation, got %d", ack.Observations)
	}

	// 7) Read back
	var got testResp
	if code, err := c.do(http.MethodGet, "/tests/"+created.ID, "", nil, true, &got); err != nil || code != http.StatusOK {
		fatalf("get test: %d %v", code, err)
	}
	if got.State != "complete" || !got.Complete || got.API == nil || *got.API != "2.0" {
		fatalf("unexpected final test: %s", prettyJSON(got))
	}
	var clients []map[string]any
	if code, err := c.do(http.MethodGet, "/tests/"+created.ID+"/clients", "", nil, true, &clients); err != nil || code != http.StatusOK {
		fatalf("list clients: %d %v", code, err)
	}
	fmt.Printf("✅ Final test state:\n%s\n", prettyJSON(got))
	fmt.Printf("✅ Clients: %d\n", len(clients))

	fmt.Printf("🎉 Smoke run OK. TestID=%s\n", created.ID)
}

// --- helpers ---

func expectPost(c *client, id, contentType, body, want string) ingestResp {
	var ack ingestResp
	if _, err := c.do(http.MethodPost, "/data/"+id, contentType, []byte(body), false, &ack); err != nil {
		fatalf("post data: %v", err)
	}
	if ack.State != want {
		fatalf("post data: state %q, want %q", ack.State, want)
	}
	fmt.Printf("✅ Post answered %s (observations=%d)\n", ack.State, ack.Observations)
	return ack
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// do sends a request and decodes any JSON answer into out. Non-2xx answers
// still decode, since ingestion reports its state on failure codes too.
func (c *client) do(method, path, contentType string, body []byte, admin bool, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin && c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return res.StatusCode, fmt.Errorf("%s %s -> %d: %s", method, path, res.StatusCode, string(b))
		}
	}
	return res.StatusCode, nil
}

func (c *client) text(path string) (string, error) {
	res, err := c.http.Get(c.base + path)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s -> %d: %s", path, res.StatusCode, string(b))
	}
	return string(b), err
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("encode: %v", err)
	}
	return b
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatalf(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}
