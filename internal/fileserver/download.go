package fileserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

const (
	downloadAttempts = 3
	downloadDelay    = 500 * time.Millisecond
)

// Download fetches every file of location from the file server at baseUrl into dest and returns
// the paths written. Files whose hash does not match are kept and logged.
func Download(ctx context.Context, baseUrl string, location string, dest string) ([]string, error) {
	client := &http.Client{}
	listingUrl := fmt.Sprintf("%s/logs/%s", baseUrl, url.PathEscape(location))
	var listing []FileInfo
	err := retry.Do(
		func() error {
			body, _, err := get(ctx, client, listingUrl)
			if err != nil {
				return err
			}
			defer body.Close()
			return errors.WithStack(json.NewDecoder(body).Decode(&listing))
		},
		retryOptions(ctx)...,
	)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	paths := make([]string, 0, len(listing))
	for _, info := range listing {
		path := filepath.Join(dest, filepath.Base(info.Name))
		fileUrl := fmt.Sprintf("%s/%s", listingUrl, url.PathEscape(info.Name))
		err := retry.Do(
			func() error { return downloadFile(ctx, client, fileUrl, path) },
			retryOptions(ctx)...,
		)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(downloadAttempts),
		retry.Delay(downloadDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var notFound *maestroerrors.ErrNotFound
			return !errors.As(err, &notFound)
		}),
	}
}

func downloadFile(ctx context.Context, client *http.Client, fileUrl string, path string) error {
	body, header, err := get(ctx, client, fileUrl)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), body); err != nil {
		f.Close()
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}

	expected := header.Get(HashHeader)
	if actual := hex.EncodeToString(h.Sum(nil)); expected != "" && actual != expected {
		err := errors.WithStack(&maestroerrors.ErrVerification{File: filepath.Base(path), Expected: expected, Actual: actual})
		log.WithError(err).Warn("keeping file that failed verification")
	}
	return nil
}

func get(ctx context.Context, client *http.Client, target string) (io.ReadCloser, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, resp.Header, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, nil, errors.WithStack(&maestroerrors.ErrNotFound{Type: "url", Value: target})
	default:
		resp.Body.Close()
		return nil, nil, errors.Errorf("GET %s returned %s", target, resp.Status)
	}
}
