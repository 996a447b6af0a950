package router

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ShayCichocki/graphdev/internal/exec"
)

const binaryName = "router"

// Installer locates the router binary: explicit path, cache, $PATH, then
// download.
type Installer struct {
	Binary      string
	Version     string
	CacheDir    string
	DownloadURL string

	cmd    exec.CommandRunner
	client *http.Client
	logger *slog.Logger
}

// NewInstaller creates an installer. cmd is used for $PATH lookups.
func NewInstaller(binary, version, cacheDir, downloadURL string, cmd exec.CommandRunner, logger *slog.Logger) *Installer {
	if cmd == nil {
		cmd = exec.NewRunner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "latest"
	}
	return &Installer{
		Binary:      binary,
		Version:     version,
		CacheDir:    cacheDir,
		DownloadURL: downloadURL,
		cmd:         cmd,
		client:      &http.Client{Timeout: 5 * time.Minute},
		logger:      logger.With("component", "installer"),
	}
}

// CachedPath is where a downloaded binary for the configured version lives.
func (i *Installer) CachedPath() string {
	return filepath.Join(i.CacheDir, binaryName, "v"+strings.TrimPrefix(i.Version, "v"), binaryName)
}

// Install returns the path of a runnable router binary.
func (i *Installer) Install(ctx context.Context) (string, error) {
	if i.Binary != "" {
		if err := checkExecutable(i.Binary); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInstallFailed, err)
		}
		return i.Binary, nil
	}

	if i.CacheDir != "" {
		if err := checkExecutable(i.CachedPath()); err == nil {
			i.logger.Debug("using cached router", "path", i.CachedPath())
			return i.CachedPath(), nil
		}
	}

	if path, err := i.cmd.LookPath(binaryName); err == nil {
		i.logger.Debug("using router from PATH", "path", path)
		return path, nil
	}

	if i.DownloadURL == "" || i.CacheDir == "" {
		return "", fmt.Errorf("%w: no router binary found; set router.binary or router.download_url", ErrInstallFailed)
	}
	if err := i.download(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	return i.CachedPath(), nil
}

// URL expands the download template for this platform.
func (i *Installer) URL() string {
	return strings.NewReplacer(
		"{version}", strings.TrimPrefix(i.Version, "v"),
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	).Replace(i.DownloadURL)
}

func (i *Installer) download(ctx context.Context) error {
	url := i.URL()
	i.logger.Info("downloading router", "version", i.Version, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("download router: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download router: unexpected status %d", resp.StatusCode)
	}
	return i.extract(resp.Body)
}

// extract writes the router entry of a .tar.gz archive into the cache.
func (i *Installer) extract(r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open router archive: %w", err)
	}
	defer gz.Close()

	dest := i.CachedPath()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create router cache: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("router archive has no %q entry", binaryName)
		}
		if err != nil {
			return fmt.Errorf("read router archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}

		tmp, err := os.CreateTemp(filepath.Dir(dest), ".router-*")
		if err != nil {
			return fmt.Errorf("write router: %w", err)
		}
		if _, err := io.Copy(tmp, tr); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("write router: %w", err)
		}
		tmp.Close()
		if err := os.Chmod(tmp.Name(), 0755); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("write router: %w", err)
		}
		if err := os.Rename(tmp.Name(), dest); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("write router: %w", err)
		}
		return nil
	}
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
