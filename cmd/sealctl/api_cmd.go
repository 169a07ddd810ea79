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
	"strconv"
	"strings"
	"time"
)

const (
	defaultServer  = "http://localhost:8080"
	requestTimeout = 30 * time.Second
	maxReplyBytes  = 1 << 20
)

var httpDo = (&http.Client{Timeout: requestTimeout}).Do

func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("SEALREG_SERVER")
	if def == "" {
		def = defaultServer
	}
	return fs.String("server", def, "registry base url (env SEALREG_SERVER)")
}

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := serverFlag(fs)
	hash := fs.String("hash", "", "sha256 hex of the artifact")
	envelopeID := fs.String("envelope-id", "", "envelope id")
	recordID := fs.String("record-id", "", "ledger record id")
	lane := fs.String("lane", "", "rot or sandbox")
	expiresIn := fs.Int("expires-in", 0, "signed url lifetime in seconds")
	recompute := fs.Bool("recompute", false, "recompute the artifact hash server side")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *hash == "" && *envelopeID == "" && *recordID == "" {
		fmt.Fprintln(stderr, "resolve requires --hash, --envelope-id or --record-id")
		return 1
	}

	body := map[string]any{
		"hash":        *hash,
		"envelope_id": *envelopeID,
		"record_id":   *recordID,
		"lane":        *lane,
		"expires_in":  *expiresIn,
		"recompute":   *recompute,
	}
	reply, status, err := call(http.MethodPost, *server, "/v1/resolve", nil, body)
	if err != nil {
		fmt.Fprintf(stderr, "resolve: %v\n", err)
		return 1
	}
	printJSON(reply)
	if status != http.StatusOK || !okField(reply, "ok") {
		return 1
	}
	return 0
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := serverFlag(fs)
	envelopeID := fs.String("envelope-id", "", "envelope id")
	recompute := fs.Bool("recompute", false, "recompute the signed document hash server side")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *envelopeID == "" {
		fmt.Fprintln(stderr, "verify requires --envelope-id")
		return 1
	}

	q := url.Values{}
	q.Set("envelope_id", *envelopeID)
	if *recompute {
		q.Set("recompute", strconv.FormatBool(true))
	}
	reply, status, err := call(http.MethodGet, *server, "/v1/verify", q, nil)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	printJSON(reply)
	if status != http.StatusOK {
		return 1
	}
	if !okField(reply, "valid") {
		return 2
	}
	return 0
}

func runSeal(args []string) int {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := serverFlag(fs)
	recordID := fs.String("record-id", "", "ledger record id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *recordID == "" {
		fmt.Fprintln(stderr, "seal requires --record-id")
		return 1
	}
	reply, status, err := call(http.MethodPost, *server, "/v1/envelopes/seal", nil, map[string]string{"record_id": *recordID})
	if err != nil {
		fmt.Fprintf(stderr, "seal: %v\n", err)
		return 1
	}
	printJSON(reply)
	if status != http.StatusOK {
		return 1
	}
	return 0
}

func call(method, server, path string, query url.Values, body any) ([]byte, int, error) {
	endpoint := strings.TrimRight(server, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpDo(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return reply, resp.StatusCode, nil
}

func okField(reply []byte, field string) bool {
	var out map[string]any
	if err := json.Unmarshal(reply, &out); err != nil {
		return false
	}
	v, _ := out[field].(bool)
	return v
}

func printJSON(reply []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, reply, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(reply))
		return
	}
	fmt.Fprintln(stdout, pretty.String())
}
