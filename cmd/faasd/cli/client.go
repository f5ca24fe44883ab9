// Package cli implements the "faasd reload" and "faasd list" subcommands,
// thin JSON-over-HTTP clients for the running host's management surface.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"faasd/internal/home"

	"github.com/spf13/cobra"
)

// client talks to a running faasd host's management endpoints.
type client struct {
	http    *http.Client
	baseURL string
	token   string
}

// clientFromCmd builds a client from the --addr/--token/--home persistent
// flags. It prefers the home directory's unix socket (no token needed)
// unless --addr was explicitly set.
func clientFromCmd(cmd *cobra.Command) (*client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	homeFlag, _ := cmd.Flags().GetString("home")

	addrChanged := cmd.Flags().Changed("addr")
	if !addrChanged {
		if c, ok := tryUnixSocket(homeFlag); ok {
			return c, nil
		}
	}

	if token == "" {
		token = os.Getenv("FAASD_TOKEN")
	}
	if token == "" {
		token = readTokenFile(homeFlag)
	}

	if addr == "" {
		addr = "http://localhost:8080"
	}
	return &client{http: &http.Client{Timeout: 10 * time.Second}, baseURL: addr, token: token}, nil
}

// readTokenFile reads the token the host persisted to hd.TokenPath() at
// startup, the fallback source when neither --token nor FAASD_TOKEN is set.
func readTokenFile(homeFlag string) string {
	var hd home.Dir
	if homeFlag != "" {
		hd = home.New(homeFlag)
	} else {
		var err error
		hd, err = home.Default()
		if err != nil {
			return ""
		}
	}
	data, err := os.ReadFile(hd.TokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// tryUnixSocket attempts to build a client that dials the home directory's
// unix socket directly, bypassing bearer-token auth entirely.
func tryUnixSocket(homeFlag string) (*client, bool) {
	var hd home.Dir
	if homeFlag != "" {
		hd = home.New(homeFlag)
	} else {
		var err error
		hd, err = home.Default()
		if err != nil {
			return nil, false
		}
	}
	sockPath := hd.SocketPath()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, false
	}
	_ = conn.Close()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
	}
	return &client{http: httpClient, baseURL: "http://localhost"}, true
}

func (c *client) post(path string, reqBody, respBody any) error {
	return c.do(http.MethodPost, path, reqBody, respBody)
}

func (c *client) get(path string, respBody any) error {
	return c.do(http.MethodGet, path, nil, respBody)
}

func (c *client) do(method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// addPersistentFlags registers the flags every subcommand shares.
func addPersistentFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "management address, e.g. http://localhost:8080 (default: home directory unix socket)")
	cmd.Flags().String("token", "", "management bearer token (or FAASD_TOKEN env)")
}
