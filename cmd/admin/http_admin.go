package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// stateCmd prints the running session as the server reports it.
func stateCmd(args []string) { callAdmin("state", http.MethodGet, "/admin/v1/state", 5*time.Second, args) }

// snapshotCmd asks the server to write a snapshot file and prints its path.
func snapshotCmd(args []string) {
	callAdmin("snapshot", http.MethodPost, "/admin/v1/snapshot", 10*time.Second, args)
}

// callAdmin hits a loopback admin endpoint; the server refuses other peers,
// so the default URL is the local listener.
func callAdmin(name, method, path string, timeout time.Duration, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3000", "server base url")
	_ = fs.Parse(args)

	req, err := http.NewRequest(method, strings.TrimRight(strings.TrimSpace(*baseURL), "/")+path, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
