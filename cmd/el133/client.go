package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"el133/internal/config"
	"el133/internal/convert"
	appLog "el133/internal/log"
)

// postTimeout covers the upload plus the server's full panel refresh.
const postTimeout = 2 * time.Minute

// postImage fits the image at path to the panel, quantizes it to the palette
// locally and uploads the result to a running server's display endpoint.
// auth may be nil.
func postImage(ctx context.Context, client *http.Client, server, path string, auth *config.BasicAuthConfig) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer fh.Close()

	img, err := convert.Decode(fh)
	if err != nil {
		return fmt.Errorf("post: %s: %w", path, err)
	}
	f, err := convert.ToFrame(img, true)
	if err != nil {
		return fmt.Errorf("post: %s: %w", path, err)
	}

	var body bytes.Buffer
	if err := imaging.Encode(&body, convert.Render(f), imaging.PNG); err != nil {
		return fmt.Errorf("post: encode: %w", err)
	}

	endpoint, err := url.JoinPath(server, "api", "display")
	if err != nil {
		return fmt.Errorf("post: server url %q: %w", server, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	if auth != nil && auth.Username != "" {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	appLog.Info("posting frame", "image", path, "endpoint", endpoint, "bytes", body.Len())
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post: server answered %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	appLog.Info("server displayed frame", "endpoint", endpoint)
	return nil
}
