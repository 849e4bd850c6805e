package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/internal/config"

	"github.com/stretchr/testify/require"
)

// syncBuffer is written by the client loop while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for range retries {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}

type client struct {
	in   *io.PipeWriter
	out  *syncBuffer
	done chan error
}

func startClient(t *testing.T, ctx context.Context, cfg *config.Config) *client {
	t.Helper()
	r, w := io.Pipe()
	c := &client{in: w, out: &syncBuffer{}, done: make(chan error, 1)}
	go func() { c.done <- runJoin(ctx, cfg, r, c.out) }()
	return c
}

func (c *client) say(t *testing.T, line string) {
	t.Helper()
	_, err := fmt.Fprintln(c.in, line)
	require.NoError(t, err)
}

func (c *client) waitFor(t *testing.T, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(c.out.String(), text)
	}, 5*time.Second, 20*time.Millisecond, "waiting for %q in:\n%s", text, c.out.String())
}

func (c *client) quit(t *testing.T) {
	t.Helper()
	c.say(t, "/quit")
	select {
	case err := <-c.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not quit")
	}
	_ = c.in.Close()
}

func TestIntegration(t *testing.T) {
	dir := t.TempDir()
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- runRelay(ctx, &config.Config{RelayAddr: addr, RelayUploads: filepath.Join(dir, "uploads")})
	}()
	waitForServer(t, "http://"+addr+"/healthz", 50)

	clientConfig := func(user string) *config.Config {
		return &config.Config{
			ChatURL:      "ws://" + addr + "/ws/{room}",
			FilesURL:     "http://" + addr,
			Room:         "lobby",
			UserName:     user,
			DBFile:       filepath.Join(dir, user+".db"),
			Store:        config.StoreBbolt,
			Playback:     true,
			ReconnectMin: 20 * time.Millisecond,
			ReconnectMax: 200 * time.Millisecond,
		}
	}

	// Step 1: alice joins and talks
	alice := startClient(t, ctx, clientConfig("alice"))
	alice.waitFor(t, "#lobby connected")
	alice.say(t, "hello from alice")
	alice.waitFor(t, "hello from alice")

	// Step 2: bob joins later and sees the history
	bob := startClient(t, ctx, clientConfig("bob"))
	bob.waitFor(t, "#lobby connected")
	bob.waitFor(t, "hello from alice")

	// Step 3: files are announced to everyone
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("agenda"), 0644))
	bob.say(t, "/upload "+notes)
	bob.waitFor(t, "uploaded ")
	alice.waitFor(t, "notes.txt")

	// Step 4: unknown commands and bad deletes are reported, not fatal
	bob.say(t, "/dance")
	bob.waitFor(t, "unknown command")
	bob.say(t, "/delete nothing-here")
	bob.waitFor(t, "message not found")

	// Step 5: clearing reaches everyone
	alice.say(t, "/clear")
	alice.waitFor(t, "room cleared")
	bob.waitFor(t, "room cleared")

	alice.quit(t)
	bob.quit(t)

	cancel()
	select {
	case err := <-relayDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("relay did not stop")
	}
}
