// Package mirror fetches Ubuntu cloud images and their checksum manifests
// from an image mirror and verifies them before they are handed to the
// import pipeline.
package mirror

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the upstream Ubuntu cloud image mirror.
const DefaultBaseURL = "https://cloud-images.ubuntu.com"

// DefaultArch is the image architecture fetched when none is requested.
const DefaultArch = "amd64"

// ManifestName is the checksum manifest published next to each image.
const ManifestName = "SHA256SUMS"

// ImageName returns the upstream file name for a release/architecture pair,
// e.g. "noble-server-cloudimg-amd64.img".
func ImageName(release, arch string) string {
	return fmt.Sprintf("%s-server-cloudimg-%s.img", release, arch)
}

// Downloader fetches one release's cloud image. A single Fetch call is one
// attempt of the retryable unit (image + manifest + verification); the
// caller owns the retry budget.
type Downloader struct {
	BaseURL string
	Release string
	Arch    string

	client *http.Client
	log    *zap.Logger
}

// NewDownloader builds a downloader for the given release.
func NewDownloader(baseURL, release, arch string, logger *zap.Logger) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if arch == "" {
		arch = DefaultArch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Release: release,
		Arch:    arch,
		// No overall request timeout: image downloads are long and
		// bounded by the caller's context instead.
		client: &http.Client{},
		log:    logger,
	}
}

// ImageURL is where the release image lives on the mirror.
func (d *Downloader) ImageURL() string {
	return fmt.Sprintf("%s/%s/current/%s", d.BaseURL, d.Release, ImageName(d.Release, d.Arch))
}

// ManifestURL is where the release checksum manifest lives on the mirror.
func (d *Downloader) ManifestURL() string {
	return fmt.Sprintf("%s/%s/current/%s", d.BaseURL, d.Release, ManifestName)
}

// Reachable probes the mirror with a HEAD request for the image. Used as a
// validation precondition so an unreachable mirror fails the run before any
// resource is created.
func (d *Downloader) Reachable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.ImageURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build mirror probe: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mirror probe for %s returned %s", d.ImageURL(), resp.Status)
	}
	return nil
}

// Fetch performs one download attempt: fetch the checksum manifest, stream
// the image to destDir while hashing it, verify the digest against the
// manifest entry for the exact file name, and confirm the payload is a
// bootable disk image. Any failure removes the partial file so the next
// attempt starts clean.
//
// Returns the path of the verified image and its hex SHA-256 digest.
func (d *Downloader) Fetch(ctx context.Context, destDir string) (string, string, error) {
	imageName := ImageName(d.Release, d.Arch)

	d.log.Debug("fetching checksum manifest", zap.String("url", d.ManifestURL()))
	manifest, err := d.fetchManifest(ctx)
	if err != nil {
		return "", "", err
	}

	wantDigest, err := manifestDigest(manifest, imageName)
	if err != nil {
		return "", "", err
	}

	dest := filepath.Join(destDir, imageName)
	d.log.Info("downloading image", zap.String("url", d.ImageURL()), zap.String("dest", dest))

	gotDigest, err := d.fetchImage(ctx, dest)
	if err != nil {
		_ = os.Remove(dest)
		return "", "", err
	}

	if !strings.EqualFold(gotDigest, wantDigest) {
		_ = os.Remove(dest)
		return "", "", fmt.Errorf("checksum mismatch for %s: manifest has %s, downloaded %s", imageName, wantDigest, gotDigest)
	}

	if _, err := DetectFormat(dest); err != nil {
		_ = os.Remove(dest)
		return "", "", fmt.Errorf("downloaded image is not a usable disk image: %w", err)
	}

	d.log.Info("image verified", zap.String("image", imageName), zap.String("sha256", gotDigest))
	return dest, gotDigest, nil
}

func (d *Downloader) fetchManifest(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.ManifestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checksum manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch returned %s", resp.Status)
	}

	// Manifests are a few KiB; bound reads anyway.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read checksum manifest: %w", err)
	}
	return data, nil
}

// fetchImage streams the image to dest, returning the hex SHA-256 of the
// bytes written.
func (d *Downloader) fetchImage(ctx context.Context, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.ImageURL(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image fetch returned %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}

	hash := sha256.New()
	_, copyErr := io.Copy(f, io.TeeReader(resp.Body, hash))
	closeErr := f.Close()

	if copyErr != nil {
		return "", fmt.Errorf("transfer failed: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", dest, closeErr)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// manifestDigest finds the digest recorded for filename. Entries look like
//
//	<hex digest> *<filename>
//
// with the leading '*' marking binary mode; both marked and unmarked forms
// are accepted.
func manifestDigest(manifest []byte, filename string) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		name := strings.TrimPrefix(fields[1], "*")
		if name == filename {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to scan checksum manifest: %w", err)
	}
	return "", fmt.Errorf("checksum manifest has no entry for %s", filename)
}
