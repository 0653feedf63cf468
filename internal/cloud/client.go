package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/emusync/emusync/internal/errors"
)

// Client is the HTTP backend behind both the hosted and self-hosted
// modes. The two differ only in base URL and which credential the
// login exchange sends; everything else shares this implementation.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	name    string

	device   Device
	loginCfg loginConfig

	mu    sync.RWMutex
	token string
}

type loginConfig struct {
	// credential is exchanged at /login. The hosted service takes the
	// account API key, a self-hosted server its access key.
	credential string
	field      string
}

func newClient(name, baseURL string, timeout time.Duration, device Device, lc loginConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		name:     name,
		device:   device,
		loginCfg: lc,
	}
}

func (c *Client) Name() string { return c.name }

// SetToken seeds a previously persisted session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current session token, empty when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Signup creates an account and returns its initial session. Only the
// concrete client exposes this; the sync loop never signs up.
func (c *Client) Signup(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var result LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/signup", body, &result); err != nil {
		return LoginResult{}, err
	}
	return result, nil
}

// Login exchanges the configured credential for a bearer token and
// registers this device if the server has not seen it yet.
func (c *Client) Login(ctx context.Context) (LoginResult, error) {
	body := map[string]string{
		c.loginCfg.field: c.loginCfg.credential,
		"device_id":      c.device.ID,
	}

	var result LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/login", body, &result); err != nil {
		return LoginResult{}, err
	}

	c.mu.Lock()
	c.token = result.Token
	c.mu.Unlock()

	if result.DeviceID == "" {
		var registered Device
		reg := map[string]string{"name": c.device.Name}
		if err := c.doJSON(ctx, http.MethodPost, "/device/register", reg, &registered); err != nil {
			return LoginResult{}, fmt.Errorf("registering device: %w", err)
		}
		result.DeviceID = registered.ID
	}

	c.logger.Info("logged in",
		slog.String("backend", c.name),
		slog.String("deviceID", result.DeviceID))
	return result, nil
}

// Logout drops the local token. The server invalidates tokens by
// expiry, so there is no revocation call to make.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

// ValidateSettings checks liveness with /health, then verifies the
// credential with an authenticated call. A definitive rejection comes
// back as a failed outcome, not an error; errors mean the answer is
// unknown.
func (c *Client) ValidateSettings(ctx context.Context) (ValidationOutcome, error) {
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		if errors.IsTransient(err) {
			return ValidationOutcome{OK: false, Message: "server unreachable"}, nil
		}
		return ValidationOutcome{}, err
	}

	_, err := c.ListGames(ctx)
	switch {
	case err == nil:
		return ValidationOutcome{OK: true}, nil
	case stderrors.Is(err, errors.ErrUnauthorized):
		return ValidationOutcome{OK: false, Message: "credentials rejected"}, nil
	default:
		return ValidationOutcome{}, err
	}
}

// Upload publishes one packaged save in two phases: request a
// presigned upload URL, stream the archive to it, then notify the
// server. A version only becomes visible to other devices after the
// notify succeeds.
func (c *Client) Upload(ctx context.Context, in UploadInput) (Version, error) {
	info, err := os.Stat(in.ArchivePath)
	if err != nil {
		return Version{}, fmt.Errorf("stat archive: %w", err)
	}

	req := map[string]any{
		"game_id":     in.GameID,
		"emulator_id": in.EmulatorID,
		"version_id":  in.VersionID,
		"hash":        in.Hash,
		"timestamp":   in.Timestamp.UTC().Format(time.RFC3339Nano),
		"file_list":   in.FileList,
		"size_bytes":  info.Size(),
	}

	var granted struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/save/upload-url", req, &granted); err != nil {
		return Version{}, fmt.Errorf("requesting upload url: %w", err)
	}

	if err := c.putArchive(ctx, granted.UploadURL, in.ArchivePath, info.Size()); err != nil {
		return Version{}, fmt.Errorf("uploading archive: %w", err)
	}

	notify := map[string]string{
		"game_id":    in.GameID,
		"version_id": in.VersionID,
	}
	var out struct {
		Version Version `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/save/notify-upload", notify, &out); err != nil {
		return Version{}, fmt.Errorf("confirming upload: %w", err)
	}

	return out.Version, nil
}

func (c *Client) putArchive(ctx context.Context, uploadURL, archivePath string, size int64) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	return nil
}

// Download fetches a version's archive into destPath, writing through
// a temp file so a partial download never replaces an existing file.
func (c *Client) Download(ctx context.Context, gameID, versionID, destPath string, progress ProgressFunc) (Version, error) {
	req := map[string]string{
		"game_id":    gameID,
		"version_id": versionID,
	}
	var granted struct {
		DownloadURL string  `json:"download_url"`
		Version     Version `json:"version"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/save/download-url", req, &granted); err != nil {
		return Version{}, fmt.Errorf("requesting download url: %w", err)
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, granted.DownloadURL, nil)
	if err != nil {
		return Version{}, err
	}
	resp, err := c.http.Do(get)
	if err != nil {
		return Version{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Version{}, statusError(resp)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return Version{}, fmt.Errorf("creating download dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return Version{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return Version{}, fmt.Errorf("writing download: %w", werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			return Version{}, classifyTransport(rerr)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Version{}, fmt.Errorf("syncing download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Version{}, fmt.Errorf("closing download: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return Version{}, fmt.Errorf("publishing download: %w", err)
	}

	return granted.Version, nil
}

func (c *Client) ListVersions(ctx context.Context, gameID string) ([]Version, error) {
	req := map[string]string{"game_id": gameID}
	var out struct {
		Versions []Version `json:"versions"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/save/list", req, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) ListGames(ctx context.Context) ([]string, error) {
	var out struct {
		Games []string `json:"games"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/save/games", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Games, nil
}

func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/device/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *Client) RemoveDevice(ctx context.Context, deviceID string) error {
	req := map[string]string{"device_id": deviceID}
	return c.doJSON(ctx, http.MethodPost, "/device/remove", req, nil)
}

// doJSON performs one API request with the session bearer token and
// decodes the JSON response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// statusError maps an HTTP failure onto the sentinel taxonomy,
// pulling the server's message out of the body when one is present.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		sentinel = errors.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		sentinel = errors.ErrNotFound
	case resp.StatusCode == http.StatusRequestTimeout:
		sentinel = errors.ErrTimeout
	case resp.StatusCode >= 500:
		sentinel = errors.ErrServer
	default:
		sentinel = errors.ErrNetwork
	}

	return fmt.Errorf("%s (status %d): %w", msg, resp.StatusCode, sentinel)
}

// classifyTransport maps connection-level failures onto the sentinel
// taxonomy.
func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", errors.ErrTimeout, err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", errors.ErrTimeout, err)
	case stderrors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", errors.ErrNetwork, err)
	}
}
